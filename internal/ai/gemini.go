package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	genai "google.golang.org/genai"
)

// Gemini calls generateContent with an application/json response MIME type.
type Gemini struct {
	cli     *genai.Client
	model   string
	timeout time.Duration
}

func NewGemini(ctx context.Context, apiKey, model, baseURL string, timeout time.Duration) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("ai: creating gemini client: %w", err)
	}
	return &Gemini{cli: cli, model: model, timeout: timeout}, nil
}

func (g *Gemini) Name() string { return "gemini:" + g.model }

func (g *Gemini) GenerateJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	gcfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: schemaHint(req)}}},
		Temperature:       genai.Ptr(req.Temperature),
		ResponseMIMEType:  "application/json",
	}
	if req.MaxTokens > 0 {
		gcfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: req.Prompt}}}},
		gcfg,
	)
	if err != nil {
		return nil, fmt.Errorf("ai: gemini generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	return ExtractJSON(text.String())
}
