// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database, creates the inbox schema, and wraps writes in transactions

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout keeps fractional seconds at a fixed width so stored
// timestamps sort lexically in the same order as chronologically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	q      querier
	inTx   bool
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection keeps PRAGMAs and :memory: databases consistent and
	// serializes writers the way SQLite wants anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		q:      db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			email      TEXT NOT NULL UNIQUE,
			full_name  TEXT NOT NULL,
			role       TEXT NOT NULL DEFAULT 'agent',
			is_active  INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (role IN ('admin', 'agent'))
		);

		CREATE TABLE IF NOT EXISTS customers (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			phone_number    TEXT NOT NULL UNIQUE,
			name            TEXT NOT NULL,
			profile_pic_url TEXT,
			last_message_at TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id      INTEGER NOT NULL REFERENCES customers(id),
			assigned_user_id INTEGER REFERENCES users(id),
			status           TEXT NOT NULL DEFAULT 'open',
			last_message_at  TEXT,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,

			CHECK (status IN ('open', 'closed', 'pending'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_customer_status
			ON conversations(customer_id, status);
		CREATE INDEX IF NOT EXISTS idx_conversations_assigned
			ON conversations(assigned_user_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_last_message
			ON conversations(last_message_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id     INTEGER NOT NULL REFERENCES conversations(id),
			customer_id         INTEGER NOT NULL REFERENCES customers(id),
			user_id             INTEGER REFERENCES users(id),
			message_type        TEXT NOT NULL DEFAULT 'text',
			direction           TEXT NOT NULL,
			content             TEXT NOT NULL DEFAULT '',
			media_url           TEXT,
			provider_message_id TEXT UNIQUE,
			status              TEXT NOT NULL DEFAULT 'sent',
			read_at             TEXT,
			metadata_json       TEXT,
			created_at          TEXT NOT NULL,

			CHECK (direction IN ('inbound', 'outbound')),
			CHECK (status IN ('sent', 'delivered', 'read', 'failed')),
			CHECK (direction = 'inbound' OR read_at IS NULL)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_unread
			ON messages(direction, read_at, conversation_id);

		CREATE TABLE IF NOT EXISTS activity_logs (
			id           TEXT PRIMARY KEY,
			user_id      INTEGER REFERENCES users(id),
			action       TEXT NOT NULL,
			entity_type  TEXT NOT NULL,
			entity_id    INTEGER NOT NULL,
			details_json TEXT,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_activity_entity
			ON activity_logs(entity_type, entity_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "customers",
			column: "profile_pic_url",
			apply:  `ALTER TABLE customers ADD COLUMN profile_pic_url TEXT`,
		},
		{
			table:  "messages",
			column: "metadata_json",
			apply:  `ALTER TABLE messages ADD COLUMN metadata_json TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// InTx runs fn inside a database transaction. The store handed to fn
// shares the transaction; fn's error rolls everything back.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	txStore := &SQLiteStore{db: s.db, q: tx, inTx: true, logger: s.logger}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.inTx {
		return nil
	}
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullString returns nil for empty strings so the column stores NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}
