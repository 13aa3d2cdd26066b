package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/sakif/codesnip/internal/ai"
	"github.com/sakif/codesnip/internal/apperror"
	"github.com/sakif/codesnip/internal/executor"
	"github.com/sakif/codesnip/internal/model"
	"github.com/sakif/codesnip/internal/repository"
)

// =========================================================================
// FAKE SNIPPET REPOSITORY
// =========================================================================
//
// fakeSnippetRepo keeps snippets in insertion order. It does not re-implement
// the SQL filters: service tests assert on the filter the service BUILT
// (lastFilter); the sqlite package tests cover how the filter is applied.

type fakeSnippetRepo struct {
	snippets   []*model.Snippet
	nextID     int
	lastFilter repository.SnippetFilter
	err        error // returned by every method when set
}

var _ repository.SnippetRepository = (*fakeSnippetRepo)(nil)

func newFakeSnippetRepo() *fakeSnippetRepo {
	return &fakeSnippetRepo{}
}

func (f *fakeSnippetRepo) Create(_ context.Context, s *model.Snippet) error {
	if f.err != nil {
		return f.err
	}
	f.nextID++
	s.ID = fmt.Sprintf("snip-%d", f.nextID)
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	stored := *s
	f.snippets = append(f.snippets, &stored)
	return nil
}

func (f *fakeSnippetRepo) find(id, ownerID string) (int, bool) {
	for i, s := range f.snippets {
		if s.ID == id && s.UserID == ownerID {
			return i, true
		}
	}
	return 0, false
}

func (f *fakeSnippetRepo) GetByID(_ context.Context, id, ownerID string) (*model.Snippet, error) {
	if f.err != nil {
		return nil, f.err
	}
	i, ok := f.find(id, ownerID)
	if !ok {
		return nil, apperror.NotFound("Snippet")
	}
	result := *f.snippets[i]
	return &result, nil
}

func (f *fakeSnippetRepo) Find(_ context.Context, filter repository.SnippetFilter) ([]model.Snippet, int, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, 0, f.err
	}
	owned, _ := f.ListByOwner(context.Background(), filter.OwnerID)
	total := len(owned)
	if filter.Offset >= total {
		return []model.Snippet{}, total, nil
	}
	owned = owned[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(owned) {
		owned = owned[:filter.Limit]
	}
	return owned, total, nil
}

// ListByOwner returns newest insert first, standing in for updated_at DESC.
func (f *fakeSnippetRepo) ListByOwner(_ context.Context, ownerID string) ([]model.Snippet, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []model.Snippet{}
	for i := len(f.snippets) - 1; i >= 0; i-- {
		if f.snippets[i].UserID == ownerID {
			out = append(out, *f.snippets[i])
		}
	}
	return out, nil
}

func (f *fakeSnippetRepo) Facets(_ context.Context, ownerID string) ([]model.SnippetFacet, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.SnippetFacet
	for _, s := range f.snippets {
		if s.UserID == ownerID {
			out = append(out, model.SnippetFacet{Language: s.Language, Tags: s.Tags})
		}
	}
	return out, nil
}

func (f *fakeSnippetRepo) Update(_ context.Context, s *model.Snippet) error {
	if f.err != nil {
		return f.err
	}
	i, ok := f.find(s.ID, s.UserID)
	if !ok {
		return apperror.NotFound("Snippet")
	}
	stored := *s
	f.snippets[i] = &stored
	return nil
}

func (f *fakeSnippetRepo) Delete(_ context.Context, id, ownerID string) error {
	if f.err != nil {
		return f.err
	}
	i, ok := f.find(id, ownerID)
	if !ok {
		return apperror.NotFound("Snippet")
	}
	f.snippets = append(f.snippets[:i], f.snippets[i+1:]...)
	return nil
}

func (f *fakeSnippetRepo) SetShareToken(_ context.Context, id, ownerID, token string) (*model.Snippet, error) {
	if f.err != nil {
		return nil, f.err
	}
	i, ok := f.find(id, ownerID)
	if !ok {
		return nil, apperror.NotFound("Snippet")
	}
	tok := token
	f.snippets[i].ShareToken = &tok
	f.snippets[i].IsPublic = true
	result := *f.snippets[i]
	return &result, nil
}

func (f *fakeSnippetRepo) GetShared(_ context.Context, token string) (*model.SharedSnippet, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, s := range f.snippets {
		if s.ShareToken != nil && *s.ShareToken == token && s.IsPublic {
			return &model.SharedSnippet{
				ID:          s.ID,
				Title:       s.Title,
				Description: s.Description,
				Code:        s.Code,
				Language:    s.Language,
				Tags:        s.Tags,
				CreatedAt:   s.CreatedAt,
				User:        model.PublicUser{Username: "owner-of-" + s.UserID},
			}, nil
		}
	}
	return nil, apperror.NotFound("Snippet")
}

// seed stores a snippet directly, bypassing validation.
func (f *fakeSnippetRepo) seed(t *testing.T, s model.Snippet) *model.Snippet {
	t.Helper()
	if s.Code == "" {
		s.Code = "code"
	}
	if s.Language == "" {
		s.Language = "go"
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	if err := f.Create(context.Background(), &s); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return &s
}

// =========================================================================
// FAKE AI GENERATOR
// =========================================================================

type fakeGenerator struct {
	reply string
	err   error

	calls   int
	lastReq ai.Request
}

func (g *fakeGenerator) GenerateJSON(_ context.Context, req ai.Request) (json.RawMessage, error) {
	g.calls++
	g.lastReq = req
	if g.err != nil {
		return nil, g.err
	}
	return json.RawMessage(g.reply), nil
}

func (g *fakeGenerator) Name() string { return "fake" }

// =========================================================================
// FAKE EXECUTOR
// =========================================================================

type fakeExecutor struct {
	result  *executor.Result
	err     error
	lastReq executor.Request
}

func (e *fakeExecutor) Execute(_ context.Context, req executor.Request) (*executor.Result, error) {
	e.lastReq = req
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

// =========================================================================
// HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestSnippetService(t *testing.T) (*SnippetService, *fakeSnippetRepo) {
	t.Helper()
	repo := newFakeSnippetRepo()
	return NewSnippetService(repo, "https://codesnip.test/", testLogger()), repo
}

func strPtr(s string) *string { return &s }
