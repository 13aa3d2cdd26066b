package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/codesnip/internal/ai"
	"github.com/sakif/codesnip/internal/apperror"
	"github.com/sakif/codesnip/internal/model"
	"github.com/sakif/codesnip/internal/repository"
)

const (
	// maxPromptCode bounds how much code (in characters) goes into a tagging prompt.
	maxPromptCode = 2000
	// maxCandidates is how many snippets smart search offers the model.
	maxCandidates = 20
)

const (
	autoTagSystem = "You are a helpful assistant that analyzes code and generates relevant tags and descriptions. Always respond with valid JSON."
	searchSystem  = "You are a search assistant. Return only a JSON array of numbers representing relevant snippet indices."
)

// Suggestions is the auto-tag result. Its JSON schema is sent to providers
// that support structured output.
type Suggestions struct {
	Tags        []string `json:"tags" jsonschema:"description=3 to 5 short tags"`
	Description string   `json:"description" jsonschema:"description=1-2 sentence summary of what the code does"`
}

var suggestionsSchema = ai.SchemaFor[Suggestions]()

// AIService runs the tagging and ranking pipeline. gen may be nil, which
// means no provider is configured; both operations then fail with
// ErrUnavailable after input validation.
type AIService struct {
	snippets repository.SnippetRepository
	gen      ai.Generator
	logger   *slog.Logger
}

func NewAIService(snippets repository.SnippetRepository, gen ai.Generator, logger *slog.Logger) *AIService {
	return &AIService{
		snippets: snippets,
		gen:      gen,
		logger:   logger,
	}
}

// Configured reports whether a provider is available.
func (s *AIService) Configured() bool {
	return s.gen != nil
}

type AutoTagInput struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Title    string `json:"title"`
}

// AutoTag asks the model for tags and a short description of a snippet.
func (s *AIService) AutoTag(ctx context.Context, in AutoTagInput) (*Suggestions, error) {
	var v validator
	v.required("code", strings.TrimSpace(in.Code), "Code is required")
	v.required("language", strings.TrimSpace(in.Language), "Language is required")
	v.required("title", strings.TrimSpace(in.Title), "Title is required")
	if len(v.fields) > 0 {
		return nil, &apperror.AppError{
			Err:     apperror.ErrValidation,
			Message: "Code, language, and title are required",
			Fields:  v.fields,
		}
	}
	if s.gen == nil {
		return nil, apperror.Unavailable("AI features are not available. AI provider not configured.")
	}

	prompt := fmt.Sprintf(`Analyze this %s code snippet titled %q and provide:
1. 3-5 relevant tags (single words or short phrases, like "async", "api-call", "error-handling", etc.)
2. A concise 1-2 sentence description of what the code does

Code:
`+"```%s\n%s\n```"+`

Respond in JSON format:
{
  "tags": ["tag1", "tag2", "tag3"],
  "description": "Brief description here"
}`, in.Language, in.Title, in.Language, truncateRunes(in.Code, maxPromptCode))

	raw, err := s.gen.GenerateJSON(ctx, ai.Request{
		System:      autoTagSystem,
		Prompt:      prompt,
		Schema:      suggestionsSchema,
		SchemaName:  "snippet_suggestions",
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil {
		return nil, s.upstreamFailure("auto-tag", err)
	}

	var out Suggestions
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, s.upstreamFailure("auto-tag", fmt.Errorf("%w: %v", ai.ErrInvalidJSON, err))
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return &out, nil
}

func (s *AIService) upstreamFailure(op string, err error) error {
	s.logger.Error("ai request failed",
		slog.String("op", op),
		slog.String("provider", s.gen.Name()),
		slog.String("error", err.Error()),
	)
	return apperror.Upstream("failed to generate suggestions", err)
}

// SmartSearch ranks the owner's snippets against a free-text query.
//
// FALLBACK CONTRACT:
// Ranking failures never fail the request. rank returns (ranked, err); on
// err the full, unranked list goes back to the caller unchanged. This is the
// one place in the codebase where an error is deliberately dropped.
func (s *AIService) SmartSearch(ctx context.Context, ownerID, query string) ([]model.Snippet, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperror.ValidationFailed("query", "Search query is required")
	}
	if s.gen == nil {
		return nil, apperror.Unavailable("AI search is not available. AI provider not configured.")
	}

	snippets, err := s.snippets.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading snippets for search: %w", err)
	}
	if len(snippets) == 0 {
		return []model.Snippet{}, nil
	}

	ranked, err := s.rank(ctx, query, snippets)
	if err != nil {
		s.logger.Warn("smart search ranking failed, returning unranked snippets",
			slog.String("userID", ownerID),
			slog.String("provider", s.gen.Name()),
			slog.String("error", err.Error()),
		)
		return snippets, nil
	}
	return ranked, nil
}

// rank offers the first maxCandidates snippets to the model and returns the
// ones it picked, in its order.
func (s *AIService) rank(ctx context.Context, query string, snippets []model.Snippet) ([]model.Snippet, error) {
	candidates := snippets[:min(len(snippets), maxCandidates)]

	var list strings.Builder
	for i, sn := range candidates {
		desc := "No description"
		if sn.Description != nil && *sn.Description != "" {
			desc = *sn.Description
		}
		fmt.Fprintf(&list, "%d. %s | %s | %s\n", i+1, sn.Title, desc, strings.Join(sn.Tags, ", "))
	}

	prompt := fmt.Sprintf(`Given this search query: %q

And these code snippets (title | description | tags):
%s
Return the numbers of the most relevant snippets in order (e.g., [3, 1, 7]).
Respond with ONLY a JSON array of numbers, no explanation.`, query, list.String())

	raw, err := s.gen.GenerateJSON(ctx, ai.Request{
		System:      searchSystem,
		Prompt:      prompt,
		Temperature: 0.2,
		MaxTokens:   100,
	})
	if err != nil {
		return nil, err
	}

	indices, err := parseIndices(raw)
	if err != nil {
		return nil, err
	}

	ranked := make([]model.Snippet, 0, len(indices))
	seen := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 1 || i > len(candidates) || seen[i] {
			continue
		}
		seen[i] = true
		ranked = append(ranked, candidates[i-1])
	}
	return ranked, nil
}

// parseIndices accepts [3, 1] or {"indices": [3, 1]}. A bare null is not a
// ranking.
func parseIndices(raw json.RawMessage) ([]int, error) {
	var indices []int
	if err := json.Unmarshal(raw, &indices); err == nil && indices != nil {
		return indices, nil
	}

	var wrapped struct {
		Indices *[]int `json:"indices"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Indices == nil {
		return nil, fmt.Errorf("%w: expected an array of indices, got %s", ai.ErrInvalidJSON, truncateRunes(string(raw), 100))
	}
	return *wrapped.Indices, nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
