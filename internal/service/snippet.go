// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces ownership, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services accept plain Go values and return domain errors from the
// apperror package. They never see an *http.Request and never pick a status
// code; handler.writeError does that mapping in one place.
//
// DEPENDENCY INJECTION:
// Every service takes its collaborators as interfaces (repository.SnippetRepository,
// ai.Generator, executor.Executor). Tests pass in-memory fakes; main.go wires
// SQLite, the configured AI provider and the Docker sandbox.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sakif/codesnip/internal/apperror"
	"github.com/sakif/codesnip/internal/model"
	"github.com/sakif/codesnip/internal/repository"
)

// Validation and paging limits. Lengths count characters, not bytes.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 1000
	MaxCodeLength        = 50000
	MaxTagLength         = 30

	DefaultPage      = 1
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// SnippetService owns the snippet lifecycle: listing with filters, CRUD,
// statistics and share links.
type SnippetService struct {
	repo      repository.SnippetRepository
	publicURL string
	newToken  func() (string, error)
	logger    *slog.Logger
}

// NewSnippetService creates a SnippetService. publicURL is the frontend
// origin share links point at.
func NewSnippetService(repo repository.SnippetRepository, publicURL string, logger *slog.Logger) *SnippetService {
	return &SnippetService{
		repo:      repo,
		publicURL: strings.TrimRight(publicURL, "/"),
		newToken:  newShareToken,
		logger:    logger,
	}
}

// ListQuery carries the raw query-string values of a list request. Parsing
// lives here, not in the handler, so the defaulting rules are testable
// without HTTP.
type ListQuery struct {
	Page     string
	Limit    string
	Language string
	Tags     string // comma separated
	Search   string
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type SnippetPage struct {
	Snippets   []model.Snippet `json:"snippets"`
	Pagination Pagination      `json:"pagination"`
}

// List returns one page of the owner's snippets, newest update first.
//
// PAGINATION RULES:
//   - page and limit fall back to 1 and 20 when missing, non-numeric or < 1
//   - limit is capped at MaxListLimit
//   - a page whose offset overflows int is empty
//   - pages = ceil(total / limit)
func (s *SnippetService) List(ctx context.Context, ownerID string, q ListQuery) (*SnippetPage, error) {
	page := positiveOr(q.Page, DefaultPage)
	limit := min(positiveOr(q.Limit, DefaultListLimit), MaxListLimit)

	// A page too large to address lands past the end instead of wrapping.
	offset := math.MaxInt
	if page-1 <= math.MaxInt/limit {
		offset = (page - 1) * limit
	}

	filter := repository.SnippetFilter{
		OwnerID:  ownerID,
		Language: strings.TrimSpace(q.Language),
		Tags:     splitTags(q.Tags),
		Search:   strings.TrimSpace(q.Search),
		Offset:   offset,
		Limit:    limit,
	}

	snippets, total, err := s.repo.Find(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list snippets",
			slog.String("userID", ownerID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("listing snippets: %w", err)
	}

	return &SnippetPage{
		Snippets: snippets,
		Pagination: Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + limit - 1) / limit,
		},
	}, nil
}

// positiveOr parses raw as a positive integer, or returns fallback.
func positiveOr(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// Get returns one owned snippet. Missing and foreign snippets are both NotFound.
func (s *SnippetService) Get(ctx context.Context, ownerID, id string) (*model.Snippet, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.NotFound("Snippet")
	}
	return s.repo.GetByID(ctx, id, ownerID)
}

type CreateSnippetInput struct {
	Title       string   `json:"title"`
	Description *string  `json:"description"`
	Code        string   `json:"code"`
	Language    string   `json:"language"`
	Tags        []string `json:"tags"`
	IsPublic    bool     `json:"isPublic"`
}

// Create validates input and stores a new snippet owned by ownerID.
func (s *SnippetService) Create(ctx context.Context, ownerID string, in CreateSnippetInput) (*model.Snippet, error) {
	var v validator

	title := strings.TrimSpace(in.Title)
	v.required("title", title, "Title is required")
	v.maxLen("title", title, MaxTitleLength, "Title must not exceed 200 characters")

	var description *string
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		v.maxLen("description", d, MaxDescriptionLength, "Description must not exceed 1000 characters")
		description = &d
	}

	v.required("code", in.Code, "Code is required")
	v.maxLen("code", in.Code, MaxCodeLength, "Code must not exceed 50000 characters")
	v.language(in.Language, true)
	tags := v.tags(in.Tags)

	if err := v.err(); err != nil {
		return nil, err
	}

	snippet := &model.Snippet{
		UserID:      ownerID,
		Title:       title,
		Description: description,
		Code:        in.Code,
		Language:    in.Language,
		Tags:        tags,
		IsPublic:    in.IsPublic,
	}
	if err := s.repo.Create(ctx, snippet); err != nil {
		s.logger.Error("failed to create snippet",
			slog.String("userID", ownerID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating snippet: %w", err)
	}

	s.logger.Info("snippet created",
		slog.String("id", snippet.ID),
		slog.String("userID", ownerID),
		slog.String("language", snippet.Language),
	)
	return snippet, nil
}

// NullableString tells an absent JSON field (Set == false) apart from an
// explicit null (Set, Value == nil) and a string value.
type NullableString struct {
	Set   bool
	Value *string
}

func (n *NullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}

// UpdateSnippetInput is a partial update.
//
// PATCH SEMANTICS:
//   - Title, Code, Language: empty means "keep"
//   - Description: absent keeps, null clears, "" stores an empty description
//   - Tags, IsPublic: nil keeps; an empty tag list clears the tags
type UpdateSnippetInput struct {
	Title       string         `json:"title"`
	Description NullableString `json:"description"`
	Code        string         `json:"code"`
	Language    string         `json:"language"`
	Tags        *[]string      `json:"tags"`
	IsPublic    *bool          `json:"isPublic"`
}

// Update applies a partial update to an owned snippet.
//
// STRATEGY: fetch, apply, validate, save. Fetching first gives the NotFound
// for foreign snippets before any validation message could leak that the id
// exists.
func (s *SnippetService) Update(ctx context.Context, ownerID, id string, in UpdateSnippetInput) (*model.Snippet, error) {
	snippet, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	var v validator

	if title := strings.TrimSpace(in.Title); title != "" {
		v.maxLen("title", title, MaxTitleLength, "Title must not exceed 200 characters")
		snippet.Title = title
	}
	if in.Description.Set {
		if in.Description.Value == nil {
			snippet.Description = nil
		} else {
			d := strings.TrimSpace(*in.Description.Value)
			v.maxLen("description", d, MaxDescriptionLength, "Description must not exceed 1000 characters")
			snippet.Description = &d
		}
	}
	if in.Code != "" {
		v.maxLen("code", in.Code, MaxCodeLength, "Code must not exceed 50000 characters")
		snippet.Code = in.Code
	}
	if in.Language != "" {
		v.language(in.Language, false)
		snippet.Language = in.Language
	}
	if in.Tags != nil {
		snippet.Tags = v.tags(*in.Tags)
	}
	if in.IsPublic != nil {
		snippet.IsPublic = *in.IsPublic
	}

	if err := v.err(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, snippet); err != nil {
		return nil, err
	}

	s.logger.Info("snippet updated", slog.String("id", snippet.ID), slog.String("userID", ownerID))
	return snippet, nil
}

// Delete hard-deletes an owned snippet.
func (s *SnippetService) Delete(ctx context.Context, ownerID, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperror.NotFound("Snippet")
	}
	if err := s.repo.Delete(ctx, id, ownerID); err != nil {
		return err
	}

	s.logger.Info("snippet deleted", slog.String("id", id), slog.String("userID", ownerID))
	return nil
}

// validator collects every field failure so a client sees all of them at once.
type validator struct {
	fields []apperror.FieldError
}

func (v *validator) add(field, message string) {
	v.fields = append(v.fields, apperror.FieldError{Field: field, Message: message})
}

func (v *validator) required(field, value, message string) {
	if value == "" {
		v.add(field, message)
	}
}

func (v *validator) maxLen(field, value string, n int, message string) {
	if utf8.RuneCountInString(value) > n {
		v.add(field, message)
	}
}

func (v *validator) language(lang string, required bool) {
	switch {
	case lang == "" && required:
		v.add("language", "Language is required")
	case lang != "" && !model.IsLanguage(lang):
		v.add("language", "Invalid language")
	}
}

// tags trims every tag and returns the cleaned list (never nil).
func (v *validator) tags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if n := utf8.RuneCountInString(t); n < 1 || n > MaxTagLength {
			v.add("tags", "Each tag must be between 1 and 30 characters")
			continue
		}
		out = append(out, t)
	}
	return out
}

func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return apperror.Invalid(v.fields)
}
