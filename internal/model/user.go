// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered user account.
//
// Accounts are created either with email + password or through GitHub OAuth.
// We generate our own internal string ID (xid) in both cases so snippet
// ownership never depends on a third party's numbering scheme.
//
// WHY GitHubID *int64?
// Password-only accounts have no GitHub identity. NULL keeps the UNIQUE
// constraint on github_id from treating every such account as a duplicate.
//
// WHY PasswordHash has `json:"-"`?
// The hash must never leave the server, even by accident in a debug response.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	AvatarURL    string    `json:"avatarUrl"`
	GitHubID     *int64    `json:"githubId,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PublicUser holds the display fields that may appear next to a shared snippet.
type PublicUser struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}
