// Package config loads server settings from the environment.
//
// A .env file in the working directory is read first (if present) so local
// development does not need exported variables; real environment variables
// always win over .env entries.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort       = 8080
	defaultDBPath     = "data/codesnip.db"
	defaultPublicURL  = "http://localhost:3000"
	defaultJWTExpires = 7 * 24 * time.Hour
	defaultAITimeout  = 20 * time.Second
)

type Config struct {
	Port      int
	Env       string
	LogLevel  slog.Level
	DBPath    string
	PublicURL string   // frontend origin; share links point here
	CORS      []string // allowed origins

	JWTSecret  string
	JWTExpires time.Duration

	AI        AIConfig
	GitHub    GitHubConfig
	RateLimit RateLimitConfig

	RunnerEnabled bool
}

// AIConfig selects one provider. A provider whose key is empty is treated as
// not configured and AI endpoints answer 503.
type AIConfig struct {
	Provider string // openai | anthropic | gemini
	Timeout  time.Duration

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	AnthropicKey   string
	AnthropicModel string

	GeminiKey   string
	GeminiModel string
}

type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Enabled reports whether the GitHub login routes should be mounted.
func (g GitHubConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

// RateLimitConfig holds per-client budgets. Each budget refills evenly over
// Window; a zero budget disables that limiter.
type RateLimitConfig struct {
	Window time.Duration
	API    int
	Auth   int
	AI     int
}

// Load reads .env (ignored when missing) and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv. Split out from Load so tests can
// pass a map lookup instead of mutating the process environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	env := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		Env:       strings.ToLower(env("APP_ENV", "development")),
		DBPath:    env("DB_PATH", defaultDBPath),
		PublicURL: strings.TrimRight(env("PUBLIC_URL", defaultPublicURL), "/"),
		JWTSecret: env("JWT_SECRET", ""),
		AI: AIConfig{
			Provider:       strings.ToLower(env("AI_PROVIDER", "openai")),
			OpenAIKey:      env("OPENAI_API_KEY", ""),
			OpenAIModel:    env("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL:  env("OPENAI_BASE_URL", ""),
			AnthropicKey:   env("ANTHROPIC_API_KEY", ""),
			AnthropicModel: env("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
			GeminiKey:      env("GEMINI_API_KEY", ""),
			GeminiModel:    env("GEMINI_MODEL", "gemini-2.0-flash"),
		},
		GitHub: GitHubConfig{
			ClientID:     env("GITHUB_CLIENT_ID", ""),
			ClientSecret: env("GITHUB_CLIENT_SECRET", ""),
		},
	}

	var err error
	if cfg.Port, err = intVar(getenv, "PORT", defaultPort); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = parseLevel(env("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}
	if cfg.JWTExpires, err = durationVar(getenv, "JWT_EXPIRES", defaultJWTExpires); err != nil {
		return nil, err
	}
	if cfg.AI.Timeout, err = durationVar(getenv, "AI_TIMEOUT", defaultAITimeout); err != nil {
		return nil, err
	}
	if cfg.RunnerEnabled, err = boolVar(getenv, "RUNNER_ENABLED", false); err != nil {
		return nil, err
	}

	cfg.CORS = splitList(env("CORS_ORIGIN", cfg.PublicURL))
	cfg.GitHub.CallbackURL = env("GITHUB_CALLBACK_URL",
		fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Port))

	if cfg.RateLimit.Window, err = durationVar(getenv, "RATE_LIMIT_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RateLimit.API, err = intVar(getenv, "RATE_LIMIT_API", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimit.Auth, err = intVar(getenv, "RATE_LIMIT_AUTH", 10); err != nil {
		return nil, err
	}
	if cfg.RateLimit.AI, err = intVar(getenv, "RATE_LIMIT_AI", 20); err != nil {
		return nil, err
	}

	switch cfg.AI.Provider {
	case "openai", "anthropic", "gemini":
	default:
		return nil, fmt.Errorf("config: AI_PROVIDER must be openai, anthropic or gemini, got %q", cfg.AI.Provider)
	}

	return cfg, nil
}

// IsProduction switches logging to JSON and marks cookies Secure.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func intVar(getenv func(string) string, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("config: %s must be a non-negative integer, got %q", key, raw)
	}
	return v, nil
}

func boolVar(getenv func(string) string, key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean, got %q", key, raw)
	}
	return v, nil
}

// durationVar accepts Go durations ("90m", "20s") and whole days ("7d"),
// the format JWT lifetimes are usually written in.
func durationVar(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return fallback, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("config: %s has invalid day count %q", key, raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return level, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.TrimRight(part, "/"))
		}
	}
	return out
}
