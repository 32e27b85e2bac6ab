// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database, creates the schema and runs idempotent migrations

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so that text comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
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

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Writers wait instead of failing fast when another connection holds the lock.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
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
		CREATE TABLE IF NOT EXISTS tenants (
			name                   TEXT PRIMARY KEY,
			created_at             TEXT NOT NULL,
			event_logging          INTEGER NOT NULL DEFAULT 1,
			allow_attestation      INTEGER NOT NULL DEFAULT 0,
			generate_sign_in_token INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS api_keys (
			id              TEXT PRIMARY KEY,
			tenant          TEXT NOT NULL REFERENCES tenants(name) ON DELETE CASCADE,
			kind            TEXT NOT NULL,
			material        TEXT,
			hash            TEXT,
			abbreviated_key TEXT NOT NULL,
			scopes          TEXT NOT NULL DEFAULT '',
			is_locked       INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,

			CHECK (kind IN ('public', 'secret'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_api_keys_lookup
			ON api_keys(tenant, kind, abbreviated_key);

		CREATE TABLE IF NOT EXISTS signing_keys (
			tenant     TEXT NOT NULL REFERENCES tenants(name) ON DELETE CASCADE,
			key_id     INTEGER NOT NULL,
			material   BLOB NOT NULL,
			created_at TEXT NOT NULL,

			PRIMARY KEY (tenant, key_id)
		);

		CREATE INDEX IF NOT EXISTS idx_signing_keys_created ON signing_keys(created_at);

		CREATE TABLE IF NOT EXISTS events (
			id              TEXT PRIMARY KEY,
			performed_at    TEXT NOT NULL,
			event_type      TEXT NOT NULL,
			message         TEXT NOT NULL,
			severity        TEXT NOT NULL,
			performed_by    TEXT NOT NULL,
			subject         TEXT NOT NULL DEFAULT '',
			tenant          TEXT NOT NULL DEFAULT '',
			abbreviated_key TEXT NOT NULL DEFAULT '',

			CHECK (severity IN ('info', 'warning', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_events_tenant_time ON events(tenant, performed_at DESC);
		CREATE INDEX IF NOT EXISTS idx_events_time ON events(performed_at DESC);

		CREATE TABLE IF NOT EXISTS credentials (
			id               TEXT PRIMARY KEY,
			tenant           TEXT NOT NULL REFERENCES tenants(name) ON DELETE CASCADE,
			user_id          TEXT NOT NULL,
			credential_id    BLOB NOT NULL,
			public_key       BLOB NOT NULL,
			attestation_type TEXT NOT NULL DEFAULT '',
			transports       TEXT NOT NULL DEFAULT '',
			aaguid           BLOB,
			sign_count       INTEGER NOT NULL DEFAULT 0,
			backup_eligible  INTEGER NOT NULL DEFAULT 0,
			backup_state     INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL,
			last_used_at     TEXT,

			UNIQUE (tenant, credential_id)
		);

		CREATE INDEX IF NOT EXISTS idx_credentials_user ON credentials(tenant, user_id);

		CREATE TABLE IF NOT EXISTS credential_reports (
			tenant      TEXT NOT NULL,
			date        TEXT NOT NULL,
			users       INTEGER NOT NULL,
			credentials INTEGER NOT NULL,
			updated_at  TEXT NOT NULL,

			PRIMARY KEY (tenant, date)
		);
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
			table:  "tenants",
			column: "generate_sign_in_token",
			apply:  `ALTER TABLE tenants ADD COLUMN generate_sign_in_token INTEGER NOT NULL DEFAULT 0`,
		},
		{
			table:  "credentials",
			column: "aaguid",
			apply:  `ALTER TABLE credentials ADD COLUMN aaguid BLOB`,
		},
		{
			table:  "credentials",
			column: "backup_eligible",
			apply:  `ALTER TABLE credentials ADD COLUMN backup_eligible INTEGER NOT NULL DEFAULT 0`,
		},
		{
			table:  "credentials",
			column: "backup_state",
			apply:  `ALTER TABLE credentials ADD COLUMN backup_state INTEGER NOT NULL DEFAULT 0`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

// IsMissingTable reports whether err comes from querying a table that does not exist.
func IsMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by older builds used RFC3339.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullString converts empty strings to nil for nullable columns
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
