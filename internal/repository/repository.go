package repository

import (
	"context"

	"github.com/sakif/codesnip/internal/model"
)

// SnippetFilter selects one page of an owner's snippets. Zero values mean
// "no predicate"; Tags matches when any tag overlaps.
type SnippetFilter struct {
	OwnerID  string
	Language string
	Tags     []string
	Search   string
	Offset   int
	Limit    int
}

type SnippetRepository interface {
	Create(ctx context.Context, snippet *model.Snippet) error
	GetByID(ctx context.Context, id, ownerID string) (*model.Snippet, error)
	Find(ctx context.Context, filter SnippetFilter) ([]model.Snippet, int, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Snippet, error)
	Facets(ctx context.Context, ownerID string) ([]model.SnippetFacet, error)
	Update(ctx context.Context, snippet *model.Snippet) error
	Delete(ctx context.Context, id, ownerID string) error
	SetShareToken(ctx context.Context, id, ownerID, token string) (*model.Snippet, error)
	GetShared(ctx context.Context, token string) (*model.SharedSnippet, error)
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	UpsertGitHub(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateProfile(ctx context.Context, user *model.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}
