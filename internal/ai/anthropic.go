package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic calls the Messages API. There is no JSON mode, so the schema is
// spelled out in the system prompt and the reply goes through ExtractJSON.
type Anthropic struct {
	client  *anthropic.Client
	model   string
	timeout time.Duration
}

// NewAnthropic builds the adapter. The SDK's automatic retries are turned
// off: a slow retry loop would blow through the request timeout anyway.
func NewAnthropic(apiKey, model, baseURL string, timeout time.Duration) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	return &Anthropic{
		client:  &client,
		model:   model,
		timeout: timeout,
	}
}

func (a *Anthropic) Name() string { return "anthropic:" + a.model }

func (a *Anthropic) GenerateJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024 // required by the API
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(maxTokens),
		System:      []anthropic.TextBlockParam{{Text: schemaHint(req)}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		Temperature: anthropic.Float(float64(req.Temperature)),
	})
	if err != nil {
		return nil, fmt.Errorf("ai: anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return ExtractJSON(text.String())
}
