// Package sqlite stores users and snippets in a single SQLite file.
//
// DRIVER:
// modernc.org/sqlite is SQLite transpiled to Go, so the binary builds with
// CGO_ENABLED=0 and cross-compiles like any other Go program. It registers
// itself with database/sql under the name "sqlite".
//
// DATABASE/SQL IN ONE PARAGRAPH:
// sql.DB is a pool, not a connection. QueryRow returns a *sql.Row whose error
// surfaces at Scan; Query returns *sql.Rows, which must be closed and whose
// iteration error is checked with rows.Err() after the loop.
package sqlite

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
)

// foldFunc is registered as the SQL function fold(x). SQLite's built-in
// lower() only folds ASCII; search must be case-insensitive for any script.
func foldFunc(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

func init() {
	msqlite.MustRegisterDeterministicScalarFunction("fold", 1, foldFunc)
}

// DB wraps a sql.DB connection pool and provides repository methods.
//
// DB itself implements repository.SnippetRepository; user methods live on
// UserDB (see Users) because both repositories need a method called Create.
type DB struct {
	conn *sql.DB
	now  func() time.Time // swapped in tests to control ordering
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/codesnip.db"  → file-based database (persistent)
//   - ":memory:"          → in-memory database (great for tests, lost on close)
//
// IN-MEMORY + CONNECTION POOL:
// Every new connection to ":memory:" opens a brand new, empty database.
// We pin the pool to one connection so all queries see the same tables.
func New(dbPath string) (*DB, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		// Pragmas in the DSN apply to every pooled connection, not only the first.
		dsn = "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	// Ping verifies the connection actually works.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{
		conn: conn,
		now:  func() time.Time { return time.Now().UTC() },
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Users returns the user repository backed by the same connection pool.
func (db *DB) Users() *UserDB {
	return &UserDB{db: db}
}

// migrate creates the schema. CREATE ... IF NOT EXISTS makes it safe to run
// on every start.
//
// SCHEMA NOTES:
//   - snippets.tags is a JSON array; tag filters use json_each() to test overlap.
//   - snippets.share_token is NULL until shared; UNIQUE allows many NULLs.
//   - users.email is '' for GitHub accounts without a public email, so its
//     uniqueness is a partial index that skips empty values.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL DEFAULT '',
			username      TEXT NOT NULL UNIQUE,
			name          TEXT NOT NULL DEFAULT '',
			avatar_url    TEXT NOT NULL DEFAULT '',
			github_id     INTEGER UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email) WHERE email <> '';
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS snippets (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title       TEXT NOT NULL,
			description TEXT,
			code        TEXT NOT NULL,
			language    TEXT NOT NULL,
			tags        TEXT NOT NULL DEFAULT '[]',
			is_public   INTEGER NOT NULL DEFAULT 0,
			share_token TEXT UNIQUE,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_snippets_user_updated ON snippets(user_id, updated_at);
	`)
	if err != nil {
		return fmt.Errorf("creating snippets table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
// modernc returns the SQLite message text; the extended code is not exported
// through database/sql.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
