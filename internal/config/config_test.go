package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(lookup(nil))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "data/codesnip.db", cfg.DBPath)
	assert.Equal(t, "http://localhost:3000", cfg.PublicURL)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORS)
	assert.Equal(t, 7*24*time.Hour, cfg.JWTExpires)
	assert.Equal(t, 20*time.Second, cfg.AI.Timeout)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "http://localhost:8080/auth/github/callback", cfg.GitHub.CallbackURL)
	assert.False(t, cfg.GitHub.Enabled())
	assert.False(t, cfg.RunnerEnabled)
	assert.Equal(t, 100, cfg.RateLimit.API)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{
		"PORT":                 "5000",
		"APP_ENV":              "Production",
		"LOG_LEVEL":            "debug",
		"PUBLIC_URL":           "https://snip.example.com/",
		"CORS_ORIGIN":          "https://a.example.com, https://b.example.com/",
		"JWT_EXPIRES":          "30d",
		"AI_PROVIDER":          "Gemini",
		"AI_TIMEOUT":           "5s",
		"GITHUB_CLIENT_ID":     "id",
		"GITHUB_CLIENT_SECRET": "secret",
		"RUNNER_ENABLED":       "true",
		"RATE_LIMIT_AI":        "0",
	}))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "https://snip.example.com", cfg.PublicURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS)
	assert.Equal(t, 30*24*time.Hour, cfg.JWTExpires)
	assert.Equal(t, "gemini", cfg.AI.Provider)
	assert.Equal(t, 5*time.Second, cfg.AI.Timeout)
	assert.True(t, cfg.GitHub.Enabled())
	assert.True(t, cfg.RunnerEnabled)
	assert.Equal(t, 0, cfg.RateLimit.AI)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port", map[string]string{"PORT": "eighty"}},
		{"log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"jwt expires", map[string]string{"JWT_EXPIRES": "0d"}},
		{"ai timeout", map[string]string{"AI_TIMEOUT": "-1s"}},
		{"provider", map[string]string{"AI_PROVIDER": "mystery"}},
		{"runner flag", map[string]string{"RUNNER_ENABLED": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(lookup(tt.env))
			assert.Error(t, err)
		})
	}
}
