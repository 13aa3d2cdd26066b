// Package ai talks to hosted language models and hands back JSON.
//
// Every provider implements Generator. Callers describe what they want in a
// Request (system prompt, user prompt, optional JSON schema) and get raw JSON
// bytes back; decoding into domain types stays with the caller.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/sakif/codesnip/internal/config"
)

var (
	// ErrInvalidJSON means the model answered with something that is not JSON.
	ErrInvalidJSON = errors.New("ai: invalid JSON from model")
	// ErrEmptyResponse means the model returned no content at all.
	ErrEmptyResponse = errors.New("ai: empty response from model")
)

type Request struct {
	System      string
	Prompt      string
	Schema      *jsonschema.Schema // nil: any JSON value
	SchemaName  string
	Temperature float32
	MaxTokens   int
}

type Generator interface {
	GenerateJSON(ctx context.Context, req Request) (json.RawMessage, error)
	Name() string
}

// SchemaFor reflects a closed JSON schema from T's json tags.
//
// Fields without omitempty become required and no extra properties are
// allowed, which is the shape OpenAI's strict structured output demands.
// $schema and $id are dropped because strict mode rejects unknown keywords.
func SchemaFor[T any]() *jsonschema.Schema {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	var v T
	s := r.Reflect(v)
	s.Version = ""
	return s
}

// ExtractJSON pulls a JSON value out of a model reply. Models that are not
// forced into JSON mode like to wrap answers in ``` fences or add a sentence
// before the payload.
func ExtractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, ErrEmptyResponse
	}

	if strings.HasPrefix(s, "```") {
		// drop the opening fence line (```json) and the closing fence
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}

	if json.Valid([]byte(s)) {
		return json.RawMessage(s), nil
	}

	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return nil, ErrInvalidJSON
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return nil, ErrInvalidJSON
	}

	candidate := []byte(s[start : end+1])
	if !json.Valid(candidate) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(bytes.Clone(candidate)), nil
}

// schemaHint appends the schema to a system prompt for providers that have
// no structured-output switch of their own.
func schemaHint(req Request) string {
	if req.Schema == nil {
		return req.System
	}
	b, err := json.Marshal(req.Schema)
	if err != nil {
		return req.System
	}
	return req.System + "\n\nRespond with a single JSON value matching this JSON schema:\n" + string(b)
}

// New builds the generator selected by cfg.Provider. It returns (nil, nil)
// when that provider has no API key: AI features are then reported as
// unavailable rather than failing startup.
func New(ctx context.Context, cfg config.AIConfig) (Generator, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, nil
		}
		return NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, cfg.Timeout), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, nil
		}
		return NewAnthropic(cfg.AnthropicKey, cfg.AnthropicModel, "", cfg.Timeout), nil
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, nil
		}
		return NewGemini(ctx, cfg.GeminiKey, cfg.GeminiModel, "", cfg.Timeout)
	default:
		return nil, fmt.Errorf("ai: unknown provider %q", cfg.Provider)
	}
}
