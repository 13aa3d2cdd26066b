// Package model holds the plain data types shared by every layer. JSON tags
// here define the wire format, so renaming a field is an API change.
package model

import "time"

// Snippet represents a saved code snippet owned by one user.
//
// NULLABLE FIELDS:
// Description is a *string because "no description" (null) and "empty
// description" ("") are different states a client can set explicitly.
// ShareToken is a *string because it only exists once the snippet is shared;
// a NULL column keeps the UNIQUE index from colliding on empty strings.
type Snippet struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Code        string    `json:"code"`
	Language    string    `json:"language"`
	Tags        []string  `json:"tags"`
	IsPublic    bool      `json:"isPublic"`
	ShareToken  *string   `json:"shareToken,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SharedSnippet is the reduced, public view of a snippet fetched by share token.
// It deliberately leaves out the owner id, visibility flag and token.
type SharedSnippet struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Code        string     `json:"code"`
	Language    string     `json:"language"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"createdAt"`
	User        PublicUser `json:"user"`
}

// SnippetFacet is the slice of a snippet the stats aggregator needs.
type SnippetFacet struct {
	Language string
	Tags     []string
}

// Languages is the closed set of accepted snippet languages.
var Languages = []string{
	"javascript", "typescript", "python", "java", "cpp", "c", "csharp",
	"go", "rust", "ruby", "php", "swift", "kotlin", "dart", "scala",
	"html", "css", "scss", "sql", "bash", "shell", "yaml", "json",
	"markdown", "xml", "graphql", "dockerfile", "plaintext", "other",
}

var languageSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Languages))
	for _, l := range Languages {
		m[l] = struct{}{}
	}
	return m
}()

// IsLanguage reports whether lang is one of Languages.
func IsLanguage(lang string) bool {
	_, ok := languageSet[lang]
	return ok
}
