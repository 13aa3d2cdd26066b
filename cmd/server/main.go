// Package main is the entry point for the CodeSnip API server.
//
// main stays minimal:
//  1. Read configuration (.env + environment)
//  2. Create the process-wide dependencies (logger, AI generator, sandbox)
//  3. Hand them to server.New and block in Start
//
// All actual logic lives in internal/. Only main calls os.Exit, so every
// defer in run gets to execute on a failed start.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/codesnip/internal/ai"
	"github.com/sakif/codesnip/internal/config"
	"github.com/sakif/codesnip/internal/executor"
	"github.com/sakif/codesnip/internal/executor/docker"
	"github.com/sakif/codesnip/internal/server"
)

func main() {
	// Logging is not configured until the config is read, so config errors
	// go through the default logger.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === LOGGING ===
	// Text for humans during development, JSON for log shippers in production.
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.IsProduction() {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)

	if err := run(cfg, logger, openDocker); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// sandbox is an executor that holds containers until closed.
type sandbox interface {
	executor.Executor
	Close() error
}

func openDocker(logger *slog.Logger) (sandbox, error) {
	e, err := docker.New(docker.DefaultConfig(), logger)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func run(cfg *config.Config, logger *slog.Logger, openSandbox func(*slog.Logger) (sandbox, error)) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required. Generate one with: openssl rand -hex 32")
	}

	// === DATABASE DIRECTORY ===
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("creating database directory %s: %w", dbDir, err)
		}
	}

	// === AI PROVIDER ===
	// A missing key is not fatal: gen stays nil and the AI routes answer 503.
	gen, err := ai.New(context.Background(), cfg.AI)
	if err != nil {
		return fmt.Errorf("creating AI provider: %w", err)
	}

	// === SANDBOX ===
	// Optional as well. The interface variable stays nil unless Docker is
	// reachable, so the run service can tell "disabled" apart.
	var exec executor.Executor
	if cfg.RunnerEnabled {
		sb, err := openSandbox(logger)
		if err != nil {
			logger.Warn("Docker executor unavailable, snippets cannot be run",
				slog.String("error", err.Error()),
			)
		} else {
			defer func() {
				if err := sb.Close(); err != nil {
					logger.Warn("closing sandbox failed", slog.String("error", err.Error()))
				}
			}()
			exec = sb
		}
	}

	srv, err := server.New(cfg, logger, server.Deps{Generator: gen, Executor: exec})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Start blocks until SIGINT/SIGTERM.
	return srv.Start()
}
