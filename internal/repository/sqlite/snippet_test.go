package sqlite

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/sakif/codesnip/internal/apperror"
	"github.com/sakif/codesnip/internal/model"
	"github.com/sakif/codesnip/internal/repository"
)

// TESTING WITH IN-MEMORY SQLITE:
// ":memory:" gives each test a fresh, isolated database that disappears when
// the connection closes. No files to clean up, no cross-test leakage.
//
// The clock is replaced with one that advances one second per call, so
// "most recently updated" ordering is deterministic.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	next := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time {
		next = next.Add(time.Second)
		return next
	}
	return db
}

// createTestOwner inserts a password user and returns its ID.
func createTestOwner(t *testing.T, db *DB, username string) string {
	t.Helper()
	u := &model.User{Email: username + "@example.com", Username: username, Name: username}
	if err := db.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return u.ID
}

func createTestSnippet(t *testing.T, db *DB, ownerID, title, language string, tags ...string) *model.Snippet {
	t.Helper()
	s := &model.Snippet{
		UserID:   ownerID,
		Title:    title,
		Code:     "code for " + title,
		Language: language,
		Tags:     tags,
	}
	if err := db.Create(context.Background(), s); err != nil {
		t.Fatalf("failed to create test snippet: %v", err)
	}
	return s
}

func titles(snippets []model.Snippet) []string {
	out := make([]string, len(snippets))
	for i, s := range snippets {
		out[i] = s.Title
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// =========================================================================
// CREATE / GET
// =========================================================================

func TestCreate_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	owner := createTestOwner(t, db, "alice")

	desc := "prints hello"
	original := &model.Snippet{
		UserID:      owner,
		Title:       "Hello",
		Description: &desc,
		Code:        "print('hello')",
		Language:    "python",
		Tags:        []string{"demo", "io"},
	}
	if err := db.Create(context.Background(), original); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if original.ID == "" || original.CreatedAt.IsZero() {
		t.Fatalf("Create() did not assign ID/CreatedAt: %+v", original)
	}

	found, err := db.GetByID(context.Background(), original.ID, owner)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Description == nil || *found.Description != desc {
		t.Errorf("Description = %v, want %q", found.Description, desc)
	}
	if !equalStrings(found.Tags, []string{"demo", "io"}) {
		t.Errorf("Tags = %v, want [demo io]", found.Tags)
	}
	if found.IsPublic || found.ShareToken != nil {
		t.Errorf("new snippet should be private without a token, got public=%v token=%v", found.IsPublic, found.ShareToken)
	}
	if !found.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", found.CreatedAt, original.CreatedAt)
	}
}

func TestCreate_NilTagsStoredAsEmpty(t *testing.T) {
	db := newTestDB(t)
	owner := createTestOwner(t, db, "alice")
	s := createTestSnippet(t, db, owner, "no tags", "go")

	found, err := db.GetByID(context.Background(), s.ID, owner)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Tags == nil || len(found.Tags) != 0 {
		t.Errorf("Tags = %#v, want empty non-nil slice", found.Tags)
	}
	if found.Description != nil {
		t.Errorf("Description = %q, want nil", *found.Description)
	}
}

func TestGetByID_OtherOwnerIsNotFound(t *testing.T) {
	db := newTestDB(t)
	alice := createTestOwner(t, db, "alice")
	bob := createTestOwner(t, db, "bob")
	s := createTestSnippet(t, db, alice, "mine", "go")

	_, err := db.GetByID(context.Background(), s.ID, bob)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() as non-owner error = %v, want ErrNotFound", err)
	}

	_, err = db.GetByID(context.Background(), "nonexistent-id", alice)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() missing id error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// FIND
// =========================================================================

func TestFind_OrderAndPagination(t *testing.T) {
	db := newTestDB(t)
	owner := createTestOwner(t, db, "alice")
	for _, title := range []string{"one", "two", "three", "four", "five"} {
		createTestSnippet(t, db, owner, title, "go")
	}

	page, total, err := db.Find(context.Background(), repository.SnippetFilter{OwnerID: owner, Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if want := []string{"five", "four"}; !equalStrings(titles(page), want) {
		t.Errorf("page 1 = %v, want %v", titles(page), want)
	}

	page, _, err = db.Find(context.Background(), repository.SnippetFilter{OwnerID: owner, Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if want := []string{"one"}; !equalStrings(titles(page), want) {
		t.Errorf("page 3 = %v, want %v", titles(page), want)
	}
}

func TestFind_SameTimestampFallsBackToInsertionOrder(t *testing.T) {
	db := newTestDB(t)
	owner := createTestOwner(t, db, "alice")

	fixed := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return fixed }
	createTestSnippet(t, db, owner, "first", "go")
	createTestSnippet(t, db, owner, "second", "go")

	page, _, err := db.Find(context.Background(), repository.SnippetFilter{OwnerID: owner, Limit: 10})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if want := []string{"first", "second"}; !equalStrings(titles(page), want) {
		t.Errorf("Find() = %v, want %v", titles(page), want)
	}
}

func TestFind_UpdateMovesToFront(t *testing.T) {
	db := newTestDB(t)
	owner := createTestOwner(t, db, "alice")
	old := createTestSnippet(t, db, owner, "old", "go")
	createTestSnippet(t, db, owner, "new", "go")

	old.Code = "changed"
	if err := db.Update(context.Background(), old); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	page, _, err := db.Find(context.Background(), repository.SnippetFilter{OwnerID: owner, Limit: 10})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if want := []string{"old", "new"}; !equalStrings(titles(page), want) {
		t.Errorf("Find() = %v, want %v", titles(page), want)
	}
}

func TestFind_Filters(t *testing.T) {
	db := newTestDB(t)
	alice := createTestOwner(t, db, "alice")
	bob := createTestOwner(t, db, "bob")

	createTestSnippet(t, db, alice, "Quick Sort", "python", "algo", "sort")
	createTestSnippet(t, db, alice, "HTTP server", "go", "net")
	createTestSnippet(t, db, alice, "Binary search", "go", "algo")
	createTestSnippet(t, db, alice, "100%_done", "bash")
	createTestSnippet(t, db, bob, "Bob's sort", "python", "algo")

	tests := []struct {
		name   string
		filter repository.SnippetFilter
		want   []string
	}{
		{
			name:   "no predicates returns only the owner's snippets",
			filter: repository.SnippetFilter{OwnerID: alice},
			want:   []string{"100%_done", "Binary search", "HTTP server", "Quick Sort"},
		},
		{
			name:   "language",
			filter: repository.SnippetFilter{OwnerID: alice, Language: "go"},
			want:   []string{"Binary search", "HTTP server"},
		},
		{
			name:   "tags match on any overlap",
			filter: repository.SnippetFilter{OwnerID: alice, Tags: []string{"sort", "net"}},
			want:   []string{"HTTP server", "Quick Sort"},
		},
		{
			name:   "search is case-insensitive over title",
			filter: repository.SnippetFilter{OwnerID: alice, Search: "SORT"},
			want:   []string{"Quick Sort"},
		},
		{
			name:   "search matches code",
			filter: repository.SnippetFilter{OwnerID: alice, Search: "code for http"},
			want:   []string{"HTTP server"},
		},
		{
			name:   "search treats LIKE wildcards literally",
			filter: repository.SnippetFilter{OwnerID: alice, Search: "%_"},
			want:   []string{"100%_done"},
		},
		{
			name:   "predicates combine with AND",
			filter: repository.SnippetFilter{OwnerID: alice, Language: "go", Tags: []string{"algo"}},
			want:   []string{"Binary search"},
		},
		{
			name:   "nothing matches",
			filter: repository.SnippetFilter{OwnerID: alice, Language: "rust"},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := db.Find(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("Find() error = %v", err)
			}
			if !equalStrings(titles(got), tt.want) {
				t.Errorf("Find() = %v, want %v", titles(got), tt.want)
			}
			if total != len(tt.want) {
				t.Errorf("total = %d, want %d", total, len(tt.want))
			}
		})
	}
}

func TestFind_SearchFoldsNonASCII(t *testing.T) {
	db := newTestDB(t)
	owner := createTestOwner(t, db, "alice")
	createTestSnippet(t, db, owner, "ÜBERSICHT", "markdown")

	got, _, err := db.Find(context.Background(), repository.SnippetFilter{OwnerID: owner, Search: "übersicht"})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Find() returned %d snippets, want 1", len(got))
	}
}

// =========================================================================
// UPDATE / DELETE
// =========================================================================

func TestUpdate_NotOwned(t *testing.T) {
	db := newTestDB(t)
	alice := createTestOwner(t, db, "alice")
	bob := createTestOwner(t, db, "bob")
	s := createTestSnippet(t, db, alice, "mine", "go")

	s.UserID = bob
	s.Title = "stolen"
	if err := db.Update(context.Background(), s); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Update() as non-owner error = %v, want ErrNotFound", err)
	}

	found, err := db.GetByID(context.Background(), s.ID, alice)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Title != "mine" {
		t.Errorf("Title = %q, want unchanged %q", found.Title, "mine")
	}
}

func TestUpdate_ClearsDescription(t *testing.T) {
	db := newTestDB(t)
	owner := createTestOwner(t, db, "alice")
	desc := "something"
	s := &model.Snippet{UserID: owner, Title: "t", Description: &desc, Code: "c", Language: "go"}
	if err := db.Create(context.Background(), s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	s.Description = nil
	if err := db.Update(context.Background(), s); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	found, err := db.GetByID(context.Background(), s.ID, owner)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Description != nil {
		t.Errorf("Description = %q, want nil", *found.Description)
	}
	if !found.UpdatedAt.After(found.CreatedAt) {
		t.Errorf("UpdatedAt %v should be after CreatedAt %v", found.UpdatedAt, found.CreatedAt)
	}
}

func TestDelete(t *testing.T) {
	db := newTestDB(t)
	alice := createTestOwner(t, db, "alice")
	bob := createTestOwner(t, db, "bob")
	s := createTestSnippet(t, db, alice, "doomed", "go")

	if err := db.Delete(context.Background(), s.ID, bob); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Delete() as non-owner error = %v, want ErrNotFound", err)
	}
	if err := db.Delete(context.Background(), s.ID, alice); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := db.GetByID(context.Background(), s.ID, alice); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}
	if err := db.Delete(context.Background(), s.ID, alice); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// SHARING
// =========================================================================

func TestSetShareToken_RotatesAndResolves(t *testing.T) {
	db := newTestDB(t)
	owner := createTestOwner(t, db, "alice")
	s := createTestSnippet(t, db, owner, "shared", "go", "demo")

	shared, err := db.SetShareToken(context.Background(), s.ID, owner, "token-one")
	if err != nil {
		t.Fatalf("SetShareToken() error = %v", err)
	}
	if !shared.IsPublic || shared.ShareToken == nil || *shared.ShareToken != "token-one" {
		t.Fatalf("SetShareToken() = public %v token %v", shared.IsPublic, shared.ShareToken)
	}

	view, err := db.GetShared(context.Background(), "token-one")
	if err != nil {
		t.Fatalf("GetShared() error = %v", err)
	}
	if view.ID != s.ID || view.User.Username != "alice" {
		t.Errorf("GetShared() = %+v", view)
	}

	if _, err := db.SetShareToken(context.Background(), s.ID, owner, "token-two"); err != nil {
		t.Fatalf("second SetShareToken() error = %v", err)
	}
	if _, err := db.GetShared(context.Background(), "token-one"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("old token error = %v, want ErrNotFound", err)
	}
	if _, err := db.GetShared(context.Background(), "token-two"); err != nil {
		t.Errorf("new token error = %v", err)
	}
}

func TestGetShared_PrivateSnippetDoesNotResolve(t *testing.T) {
	db := newTestDB(t)
	owner := createTestOwner(t, db, "alice")
	s := createTestSnippet(t, db, owner, "shared", "go")

	shared, err := db.SetShareToken(context.Background(), s.ID, owner, "tok")
	if err != nil {
		t.Fatalf("SetShareToken() error = %v", err)
	}

	shared.IsPublic = false
	if err := db.Update(context.Background(), shared); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if _, err := db.GetShared(context.Background(), "tok"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetShared() on private snippet error = %v, want ErrNotFound", err)
	}
}

func TestSetShareToken_NotOwned(t *testing.T) {
	db := newTestDB(t)
	alice := createTestOwner(t, db, "alice")
	bob := createTestOwner(t, db, "bob")
	s := createTestSnippet(t, db, alice, "mine", "go")

	if _, err := db.SetShareToken(context.Background(), s.ID, bob, "tok"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("SetShareToken() as non-owner error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// FACETS / LIST BY OWNER
// =========================================================================

func TestFacets_CreationOrder(t *testing.T) {
	db := newTestDB(t)
	owner := createTestOwner(t, db, "alice")
	first := createTestSnippet(t, db, owner, "a", "python", "x")
	createTestSnippet(t, db, owner, "b", "python", "x", "y")
	createTestSnippet(t, db, owner, "c", "go", "z")

	// Updating must not change facet order.
	first.Code = "edited"
	if err := db.Update(context.Background(), first); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	facets, err := db.Facets(context.Background(), owner)
	if err != nil {
		t.Fatalf("Facets() error = %v", err)
	}
	if len(facets) != 3 {
		t.Fatalf("Facets() returned %d, want 3", len(facets))
	}
	if facets[0].Language != "python" || facets[2].Language != "go" {
		t.Errorf("Facets() languages = %s,%s,%s", facets[0].Language, facets[1].Language, facets[2].Language)
	}
	if !equalStrings(facets[1].Tags, []string{"x", "y"}) {
		t.Errorf("Facets()[1].Tags = %v, want [x y]", facets[1].Tags)
	}
}

func TestListByOwner(t *testing.T) {
	db := newTestDB(t)
	alice := createTestOwner(t, db, "alice")
	bob := createTestOwner(t, db, "bob")
	createTestSnippet(t, db, alice, "a1", "go")
	createTestSnippet(t, db, bob, "b1", "go")
	createTestSnippet(t, db, alice, "a2", "go")

	got, err := db.ListByOwner(context.Background(), alice)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if want := []string{"a2", "a1"}; !equalStrings(titles(got), want) {
		t.Errorf("ListByOwner() = %v, want %v", titles(got), want)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	db := newTestDB(t)
	owner := createTestOwner(t, db, "alice")
	createTestSnippet(t, db, owner, "a", "go")

	if _, err := db.conn.Exec(`DELETE FROM users WHERE id = ?`, owner); err != nil {
		t.Fatalf("deleting user: %v", err)
	}

	got, err := db.ListByOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListByOwner() after user delete = %d snippets, want 0", len(got))
	}
}

func TestFind_SubSecondUpdatesOrderCorrectly(t *testing.T) {
	db := newTestDB(t)
	owner := createTestOwner(t, db, "alice")

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	stamps := []struct {
		title string
		at    time.Time
	}{
		{"a", base.Add(1 * time.Second)},
		{"b", base.Add(1500 * time.Millisecond)},
		{"c", base.Add(1450 * time.Millisecond)},
		{"d", base.Add(2 * time.Second)},
		{"e", base.Add(900 * time.Millisecond)},
	}
	for _, st := range stamps {
		at := st.at
		db.now = func() time.Time { return at }
		createTestSnippet(t, db, owner, st.title, "go")
	}

	page, _, err := db.Find(context.Background(), repository.SnippetFilter{OwnerID: owner, Limit: 10})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if got := strings.Join(titles(page), ""); got != "dbcae" {
		t.Errorf("order = %q, want %q", got, "dbcae")
	}
}

func TestFind_Offsets(t *testing.T) {
	db := newTestDB(t)
	owner := createTestOwner(t, db, "alice")
	createTestSnippet(t, db, owner, "only", "go")

	page, total, err := db.Find(context.Background(), repository.SnippetFilter{OwnerID: owner, Limit: 20, Offset: math.MaxInt})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(page) != 0 || total != 1 {
		t.Errorf("past the end = %v (total %d), want empty page and total 1", titles(page), total)
	}

	if _, _, err := db.Find(context.Background(), repository.SnippetFilter{OwnerID: owner, Limit: 20, Offset: -40}); err == nil {
		t.Error("Find() with negative offset should fail")
	}
}
