package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/codesnip/internal/apperror"
	"github.com/sakif/codesnip/internal/executor"
	"github.com/sakif/codesnip/internal/repository"
)

// RunService executes stored snippets in the sandbox. exec is nil when the
// runner is disabled.
type RunService struct {
	snippets repository.SnippetRepository
	exec     executor.Executor
	logger   *slog.Logger
}

func NewRunService(snippets repository.SnippetRepository, exec executor.Executor, logger *slog.Logger) *RunService {
	return &RunService{
		snippets: snippets,
		exec:     exec,
		logger:   logger,
	}
}

// Run executes an owned snippet and returns its output. A non-zero exit
// code is a normal result, not an error.
func (s *RunService) Run(ctx context.Context, ownerID, id string) (*executor.Result, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.NotFound("Snippet")
	}
	snippet, err := s.snippets.GetByID(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	if s.exec == nil {
		return nil, apperror.Unavailable("Code runner is not available.")
	}
	if _, ok := executor.RuntimeFor(snippet.Language); !ok {
		return nil, apperror.ValidationFailed("language",
			fmt.Sprintf("%s snippets cannot be run; supported: %s",
				snippet.Language, strings.Join(executor.Languages(), ", ")))
	}

	result, err := s.exec.Execute(ctx, executor.Request{
		Language: snippet.Language,
		Code:     snippet.Code,
	})
	if err != nil {
		s.logger.Error("snippet run failed",
			slog.String("id", snippet.ID),
			slog.String("language", snippet.Language),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("running snippet: %w", err)
	}

	s.logger.Info("snippet run",
		slog.String("id", snippet.ID),
		slog.String("language", snippet.Language),
		slog.Int("exitCode", result.ExitCode),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}
