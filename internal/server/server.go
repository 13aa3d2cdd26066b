// Package server is the composition root: it opens the database, builds the
// services and handlers, mounts the routes and runs the HTTP server.
//
// DEPENDENCY INJECTION FLOW:
// main.go creates:
//
//	config, logger, AI generator (maybe nil), executor (maybe nil)
//
// server.New creates:
//
//	sqlite.DB → SnippetService / AuthService / AIService / RunService
//	          → SnippetHandler / AuthHandler / AIHandler / RunHandler
//
// Each layer only receives what it needs. Services see repository
// interfaces, never *sqlite.DB; handlers see services, never the database.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/codesnip/internal/ai"
	"github.com/sakif/codesnip/internal/auth"
	"github.com/sakif/codesnip/internal/config"
	"github.com/sakif/codesnip/internal/executor"
	"github.com/sakif/codesnip/internal/handler"
	"github.com/sakif/codesnip/internal/middleware"
	sqliteRepo "github.com/sakif/codesnip/internal/repository/sqlite"
	"github.com/sakif/codesnip/internal/service"
)

// Server owns the router and the database connection. The database is closed
// when Start returns.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// Deps are the optional collaborators built in main. A nil Generator turns
// the AI endpoints into 503s; a nil Executor does the same for /run.
type Deps struct {
	Generator ai.Generator
	Executor  executor.Executor
}

// New opens the database and wires every route.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(deps); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Start calls it on shutdown; tests that never
// call Start call it directly.
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes configures middleware and routes.
//
// ROUTE STRUCTURE:
//
//	GET    /health
//	GET    /auth/github/login, /auth/github/callback   (only when configured)
//	       /api/auth/...                                 register, login, me, profile, password, logout
//	GET    /api/snippets/shared/{token}                  public
//	       /api/snippets/...                             owner-scoped CRUD, stats, share, run
//	POST   /api/ai/auto-tag, /api/ai/smart-search
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID, so the logger and Recoverer can report it
//  2. RealIP, so the logger and rate limiter see the client address
//  3. Recoverer, turns panics into 500
//  4. CORS, answers preflight before anything else runs
//  5. Logger
//
// The API-wide rate limiter wraps /api; the auth and AI limiters are added
// on top for their own routes.
func (s *Server) setupRoutes(deps Deps) error {
	cfg := s.config

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpires)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	users := s.db.Users()

	authService := service.NewAuthService(users, tokens, auth.NewPasswordService(), s.logger)
	snippetService := service.NewSnippetService(s.db, cfg.PublicURL, s.logger)
	aiService := service.NewAIService(s.db, deps.Generator, s.logger)
	runService := service.NewRunService(s.db, deps.Executor, s.logger)

	var github *auth.GitHubProvider
	if cfg.GitHub.Enabled() {
		github = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
	}

	authHandler := handler.NewAuthHandler(authService, github, tokens.TTL(), cfg.PublicURL, cfg.IsProduction(), s.logger)
	snippetHandler := handler.NewSnippetHandler(snippetService, s.logger)
	aiHandler := handler.NewAIHandler(aiService, s.logger)
	runHandler := handler.NewRunHandler(runService, s.logger)

	apiLimiter := middleware.NewRateLimiter("api", cfg.RateLimit.API, cfg.RateLimit.Window, s.logger)
	authLimiter := middleware.NewRateLimiter("auth", cfg.RateLimit.Auth, cfg.RateLimit.Window, s.logger)
	aiLimiter := middleware.NewRateLimiter("ai", cfg.RateLimit.AI, cfg.RateLimit.Window, s.logger)
	requireAuth := auth.RequireAuth(tokens)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.router.Use(middleware.Logger(s.logger))

	s.router.NotFound(handler.NotFound)
	s.router.MethodNotAllowed(handler.MethodNotAllowed)

	s.router.Get("/health", handler.HandleHealth)

	if github != nil {
		s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
		s.router.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
		s.logger.Info("GitHub login enabled")
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(apiLimiter.Handler)

		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter.Handler).Post("/register", authHandler.HandleRegister)
			r.With(authLimiter.Handler).Post("/login", authHandler.HandleLogin)
			r.Post("/logout", authHandler.HandleLogout)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/me", authHandler.HandleMe)
				r.Put("/update-profile", authHandler.HandleUpdateProfile)
				r.Put("/change-password", authHandler.HandleChangePassword)
			})
		})

		r.Route("/snippets", func(r chi.Router) {
			// Public; registered before /{id} for readability; chi prefers
			// static segments regardless.
			r.Get("/shared/{token}", snippetHandler.HandleGetShared)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/", snippetHandler.HandleList)
				r.Post("/", snippetHandler.HandleCreate)
				r.Get("/stats", snippetHandler.HandleStats)
				r.Get("/{id}", snippetHandler.HandleGet)
				r.Put("/{id}", snippetHandler.HandleUpdate)
				r.Delete("/{id}", snippetHandler.HandleDelete)
				r.Post("/{id}/share", snippetHandler.HandleShare)
				r.Post("/{id}/run", runHandler.HandleRun)
			})
		})

		r.Route("/ai", func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(aiLimiter.Handler)
			r.Post("/auto-tag", aiHandler.HandleAutoTag)
			r.Post("/smart-search", aiHandler.HandleSmartSearch)
		})
	})

	if !aiService.Configured() {
		s.logger.Warn("AI provider not configured, AI endpoints will answer 503",
			slog.String("provider", cfg.AI.Provider))
	}
	if deps.Executor == nil {
		s.logger.Warn("code runner disabled, /run will answer 503")
	}

	return nil
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections
//  2. Wait for in-flight requests (30s)
//  3. Close the database (flushes WAL, releases the file lock)
func (s *Server) Start() error {
	defer s.Close()

	// WriteTimeout has to outlast the slowest handler: an AI call bounded by
	// AI_TIMEOUT or a sandbox run.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.AI.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("env", s.config.Env),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
