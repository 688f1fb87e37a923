// Package store provides durable chat state for Yui: messages, user
// profiles, and the string-keyed meta table the scheduler and summarizer use
// as scratch space. The schema is self-healing — the store may be pointed at
// a pre-existing database with drifted schema (missing tables or columns)
// and will repair it in place.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/gungold-XwX/yui-telegram-bot/common/retry"
)

// Store wraps the database connection. All data-access methods go through
// the repair-and-retry decorator, so callers never observe transient busy
// errors or schema drift.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	policy retry.Policy
}

// New opens (or creates) the database at dbPath and ensures the schema.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite is single-writer by design. Keep a single shared connection so
	// concurrent callers are serialized by database/sql instead of fighting
	// for write locks across multiple underlying connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for better concurrency
		"PRAGMA synchronous = NORMAL", // Balance between safety and speed
		"PRAGMA busy_timeout = 5000",  // Wait up to 5s for locks
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{
		db:     db,
		logger: logger,
		policy: retry.Policy{
			Attempts:  3,
			BaseDelay: 150 * time.Millisecond,
			MaxDelay:  2 * time.Second,
		},
	}

	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for custom queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// tableColumns lists, per table, the columns a healthy schema must carry.
// ALTER TABLE ADD COLUMN declarations are kept separate from CREATE TABLE so
// a pre-existing table (e.g. an old messages table without author_id) can be
// repaired without touching its rows.
var tableColumns = map[string]map[string]string{
	"messages": {
		"chat_id":   "INTEGER NOT NULL DEFAULT 0",
		"author_id": "INTEGER NOT NULL DEFAULT 0",
		"role":      "TEXT NOT NULL DEFAULT 'user'",
		"content":   "TEXT NOT NULL DEFAULT ''",
		"ts":        "INTEGER NOT NULL DEFAULT 0",
	},
	"profiles": {
		"user_id":      "INTEGER NOT NULL DEFAULT 0",
		"name":         "TEXT",
		"username":     "TEXT",
		"first_name":   "TEXT",
		"notes":        "TEXT",
		"relationship": "TEXT NOT NULL DEFAULT 'ordinary'",
		"updated_at":   "INTEGER NOT NULL DEFAULT 0",
	},
	"meta": {
		"key":   "TEXT NOT NULL DEFAULT ''",
		"value": "TEXT NOT NULL DEFAULT ''",
	},
}

var createStatements = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		chat_id   INTEGER NOT NULL,
		author_id INTEGER NOT NULL DEFAULT 0,
		role      TEXT NOT NULL,
		content   TEXT NOT NULL,
		ts        INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages (chat_id, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat_author_ts ON messages (chat_id, author_id, ts)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id      INTEGER PRIMARY KEY,
		name         TEXT,
		username     TEXT,
		first_name   TEXT,
		notes        TEXT,
		relationship TEXT NOT NULL DEFAULT 'ordinary',
		updated_at   INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// ensureSchema creates missing tables and adds missing columns. It is
// idempotent and safe to run concurrently with normal traffic — every
// statement either creates something absent or is a no-op.
func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range createStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	for table, columns := range tableColumns {
		existing, err := s.columnNames(ctx, table)
		if err != nil {
			return err
		}
		for col, decl := range columns {
			if existing[col] {
				continue
			}
			alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col, decl)
			if _, err := s.db.ExecContext(ctx, alter); err != nil {
				return fmt.Errorf("add column %s.%s: %w", table, col, err)
			}
			s.logger.Info("store: repaired schema", "table", table, "column", col)
		}
	}

	return nil
}

// columnNames returns the set of column names present on table.
func (s *Store) columnNames(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info %s: %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// withRepair runs fn with bounded retries. Schema-drift errors trigger an
// idempotent repair between attempts; busy errors just back off. Any other
// error is surfaced immediately.
func (s *Store) withRepair(ctx context.Context, op string, fn func() error) error {
	p := s.policy
	p.Retryable = func(err error) bool {
		return isSchemaDrift(err) || isBusy(err)
	}
	p.OnAttempt = func(attempt int, err error) {
		if !isSchemaDrift(err) {
			return
		}
		s.logger.Warn("store: schema drift detected, repairing", "op", op, "attempt", attempt, "err", err)
		if repErr := s.ensureSchema(ctx); repErr != nil {
			s.logger.Error("store: schema repair failed", "op", op, "err", repErr)
		}
	}

	if err := retry.Do(ctx, p, fn); err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	return nil
}

// isSchemaDrift classifies errors caused by a missing table or column.
func isSchemaDrift(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "has no column")
}

// isBusy classifies lock-contention errors from concurrent writers.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}
