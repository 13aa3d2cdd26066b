package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/codesnip/internal/apperror"
	"github.com/sakif/codesnip/internal/model"
)

// shareTokenBytes gives 128 bits of entropy; uniqueness is not checked
// against the store beyond the column's UNIQUE constraint.
const shareTokenBytes = 16

type ShareLink struct {
	ShareToken string `json:"shareToken"`
	ShareURL   string `json:"shareUrl"`
}

func newShareToken() (string, error) {
	b := make([]byte, shareTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Share issues a fresh share token for an owned snippet and makes it public.
//
// Calling Share again ROTATES the token: the previous link stops resolving.
func (s *SnippetService) Share(ctx context.Context, ownerID, id string) (*ShareLink, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.NotFound("Snippet")
	}

	token, err := s.newToken()
	if err != nil {
		return nil, fmt.Errorf("generating share token: %w", err)
	}

	if _, err := s.repo.SetShareToken(ctx, id, ownerID, token); err != nil {
		return nil, err
	}

	s.logger.Info("snippet shared", slog.String("id", id), slog.String("userID", ownerID))
	return &ShareLink{
		ShareToken: token,
		ShareURL:   s.publicURL + "/shared/" + token,
	}, nil
}

// GetShared resolves a share token to the public view of its snippet. A
// token that was rotated away, or whose snippet was made private again, is
// NotFound.
func (s *SnippetService) GetShared(ctx context.Context, token string) (*model.SharedSnippet, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperror.NotFound("Snippet")
	}
	return s.repo.GetShared(ctx, token)
}
