package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"
	"github.com/sakif/codesnip/internal/apperror"
	"github.com/sakif/codesnip/internal/model"
	"github.com/sakif/codesnip/internal/repository"
)

// COMPILE-TIME INTERFACE CHECK:
// If *DB stops satisfying repository.SnippetRepository (a renamed method, a
// changed signature), the build fails right here instead of at the call site
// in main.go.
var _ repository.SnippetRepository = (*DB)(nil)

// snippetColumns is shared by every SELECT so scanSnippet always sees the
// same column order.
const snippetColumns = `id, user_id, title, description, code, language, tags, is_public, share_token, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSnippet reads one row selected with snippetColumns.
//
// NULLABLE COLUMNS:
// description and share_token may be NULL. Scanning NULL into a plain string
// fails, so we scan into sql.NullString and convert to *string afterwards.
// tags is stored as a JSON array string and decoded here.
func scanSnippet(row rowScanner) (*model.Snippet, error) {
	var (
		s           model.Snippet
		description sql.NullString
		shareToken  sql.NullString
		tags        string
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &s.Title, &description, &s.Code, &s.Language,
		&tags, &s.IsPublic, &shareToken, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if description.Valid {
		s.Description = &description.String
	}
	if shareToken.Valid {
		s.ShareToken = &shareToken.String
	}

	decoded, err := decodeTags(tags)
	if err != nil {
		return nil, err
	}
	s.Tags = decoded

	return &s, nil
}

func decodeTags(raw string) ([]string, error) {
	tags := []string{}
	if raw == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	return tags, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(b), nil
}

// nullable maps a nil *string to SQL NULL.
func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// Create inserts a new snippet. The ID and both timestamps are assigned here,
// and the caller's struct is updated in place.
func (db *DB) Create(ctx context.Context, snippet *model.Snippet) error {
	snippet.ID = xid.New().String()
	now := db.now()
	snippet.CreatedAt = now
	snippet.UpdatedAt = now
	if snippet.Tags == nil {
		snippet.Tags = []string{}
	}

	tags, err := encodeTags(snippet.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: creating snippet: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO snippets (id, user_id, title, description, code, language, tags, is_public, share_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snippet.ID,
		snippet.UserID,
		snippet.Title,
		nullable(snippet.Description),
		snippet.Code,
		snippet.Language,
		tags,
		snippet.IsPublic,
		nullable(snippet.ShareToken),
		snippet.CreatedAt,
		snippet.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating snippet: %w", err)
	}

	return nil
}

// GetByID returns the snippet only when ownerID owns it.
//
// OWNERSHIP IN THE WHERE CLAUSE:
// Filtering by user_id in SQL (rather than fetching then comparing in Go)
// means "doesn't exist" and "belongs to someone else" are the same
// sql.ErrNoRows, and both become a plain 404.
func (db *DB) GetByID(ctx context.Context, id, ownerID string) (*model.Snippet, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE id = ? AND user_id = ?`,
		id, ownerID,
	)
	snippet, err := scanSnippet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("Snippet")
		}
		return nil, fmt.Errorf("sqlite: getting snippet %s: %w", id, err)
	}
	return snippet, nil
}

// snippetWhere builds the WHERE clause shared by Find's page query and its
// count query.
//
// Only fixed SQL fragments are concatenated; every user-supplied value goes
// through a ? placeholder.
//
//   - tags: a snippet matches when ANY of its tags is in the requested set.
//     json_each() expands the stored JSON array into rows we can test with IN.
//   - search: instr() on the fold()-ed text is a plain substring test, so
//     characters like % and _ in the query have no special meaning.
func snippetWhere(f repository.SnippetFilter) (string, []any) {
	clauses := []string{"user_id = ?"}
	args := []any{f.OwnerID}

	if f.Language != "" {
		clauses = append(clauses, "language = ?")
		args = append(args, f.Language)
	}

	if len(f.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(f.Tags)), ", ")
		clauses = append(clauses,
			"EXISTS (SELECT 1 FROM json_each(snippets.tags) WHERE json_each.value IN ("+placeholders+"))")
		for _, tag := range f.Tags {
			args = append(args, tag)
		}
	}

	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		clauses = append(clauses,
			`(instr(fold(title), ?) > 0 OR instr(fold(COALESCE(description, '')), ?) > 0 OR instr(fold(code), ?) > 0)`)
		args = append(args, needle, needle, needle)
	}

	return strings.Join(clauses, " AND "), args
}

// Find returns one page of an owner's snippets matching the filter, plus the
// total number of matches ignoring Offset and Limit.
//
// Ordering is most recently updated first. Snippets updated at the same
// instant fall back to insertion order (rowid) so pages never overlap.
func (db *DB) Find(ctx context.Context, f repository.SnippetFilter) ([]model.Snippet, int, error) {
	where, args := snippetWhere(f)

	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snippets WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: counting snippets: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means no limit
	}
	if f.Offset < 0 {
		return nil, 0, fmt.Errorf("sqlite: negative offset %d", f.Offset)
	}

	pageArgs := append(append([]any{}, args...), limit, f.Offset)
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE `+where+`
		 ORDER BY updated_at DESC, rowid ASC
		 LIMIT ? OFFSET ?`,
		pageArgs...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: finding snippets: %w", err)
	}
	defer rows.Close()

	snippets, err := collectSnippets(rows)
	if err != nil {
		return nil, 0, err
	}
	return snippets, total, nil
}

// ListByOwner returns every snippet the owner has, in the same order as Find.
// Smart search ranks over this full set.
func (db *DB) ListByOwner(ctx context.Context, ownerID string) ([]model.Snippet, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE user_id = ?
		 ORDER BY updated_at DESC, rowid ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing snippets: %w", err)
	}
	defer rows.Close()

	return collectSnippets(rows)
}

func collectSnippets(rows *sql.Rows) ([]model.Snippet, error) {
	snippets := []model.Snippet{}
	for rows.Next() {
		s, err := scanSnippet(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning snippet row: %w", err)
		}
		snippets = append(snippets, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating snippets: %w", err)
	}
	return snippets, nil
}

// Facets returns (language, tags) for every owned snippet in creation order.
// The stats aggregator breaks count ties by first appearance, so the order
// here is part of the contract.
func (db *DB) Facets(ctx context.Context, ownerID string) ([]model.SnippetFacet, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT language, tags FROM snippets WHERE user_id = ?
		 ORDER BY created_at ASC, rowid ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading snippet facets: %w", err)
	}
	defer rows.Close()

	facets := []model.SnippetFacet{}
	for rows.Next() {
		var (
			f    model.SnippetFacet
			tags string
		)
		if err := rows.Scan(&f.Language, &tags); err != nil {
			return nil, fmt.Errorf("sqlite: scanning facet row: %w", err)
		}
		if f.Tags, err = decodeTags(tags); err != nil {
			return nil, fmt.Errorf("sqlite: scanning facet row: %w", err)
		}
		facets = append(facets, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating facets: %w", err)
	}
	return facets, nil
}

// Update writes every mutable field of snippet and bumps updated_at.
// The share token is not touched here; see SetShareToken.
func (db *DB) Update(ctx context.Context, snippet *model.Snippet) error {
	snippet.UpdatedAt = db.now()
	if snippet.Tags == nil {
		snippet.Tags = []string{}
	}

	tags, err := encodeTags(snippet.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: updating snippet %s: %w", snippet.ID, err)
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE snippets
		 SET title = ?, description = ?, code = ?, language = ?, tags = ?, is_public = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		snippet.Title,
		nullable(snippet.Description),
		snippet.Code,
		snippet.Language,
		tags,
		snippet.IsPublic,
		snippet.UpdatedAt,
		snippet.ID,
		snippet.UserID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating snippet %s: %w", snippet.ID, err)
	}

	return requireOneRow(result, snippet.ID)
}

// Delete removes the snippet if ownerID owns it.
func (db *DB) Delete(ctx context.Context, id, ownerID string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM snippets WHERE id = ? AND user_id = ?`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting snippet %s: %w", id, err)
	}

	return requireOneRow(result, id)
}

// SetShareToken stores a fresh share token and marks the snippet public in a
// single statement. Any previous token stops resolving.
func (db *DB) SetShareToken(ctx context.Context, id, ownerID, token string) (*model.Snippet, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE snippets SET share_token = ?, is_public = 1, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		token, db.now(), id, ownerID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("share token collision, try again")
		}
		return nil, fmt.Errorf("sqlite: sharing snippet %s: %w", id, err)
	}
	if err := requireOneRow(result, id); err != nil {
		return nil, err
	}

	return db.GetByID(ctx, id, ownerID)
}

// GetShared resolves a share token to the public view of the snippet.
// A snippet that has been made private again no longer resolves, even if
// its token is still stored.
func (db *DB) GetShared(ctx context.Context, token string) (*model.SharedSnippet, error) {
	var (
		s           model.SharedSnippet
		description sql.NullString
		tags        string
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT s.id, s.title, s.description, s.code, s.language, s.tags, s.created_at, u.username, u.name
		 FROM snippets s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.share_token = ? AND s.is_public = 1`,
		token,
	).Scan(
		&s.ID, &s.Title, &description, &s.Code, &s.Language, &tags, &s.CreatedAt,
		&s.User.Username, &s.User.Name,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("Snippet")
		}
		return nil, fmt.Errorf("sqlite: getting shared snippet: %w", err)
	}

	if description.Valid {
		s.Description = &description.String
	}
	if s.Tags, err = decodeTags(tags); err != nil {
		return nil, fmt.Errorf("sqlite: getting shared snippet: %w", err)
	}

	return &s, nil
}

// requireOneRow turns "the WHERE clause matched nothing" into NotFound.
// One query instead of SELECT-then-UPDATE.
func requireOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return apperror.NotFound("Snippet")
	}
	return nil
}
