package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/annohist/internal/event"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - GUIDRef, five event tables, AdditionalInfo
const currentSchemaVersion = 1

// ErrNotFound is returned when a requested info row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides durable storage for the annotation history log.
// Uses SQLite with WAL mode and a single connection.
//
// While a Batch is open every read and write goes through the batch
// transaction, so callers never wait on their own open transaction.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	batch *Batch
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically, then rebuilds any
// missing timestamp indexes.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTimestampIndexes(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to rebuild indexes: %w", err)
	}

	return s, nil
}

// Close rolls back any open batch and closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.mu.Lock()
	b := s.batch
	s.mu.Unlock()
	if b != nil {
		if err := b.Rollback(); err != nil {
			slog.Warn("rollback open batch on close", "error", err)
		}
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// q returns the open batch transaction, or the database when none is open.
func (s *Store) q() querier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch != nil && s.batch.tx != nil {
		return s.batch.tx
	}
	return s.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations checks user_version and stamps the current version.
// A store written by a newer release is refused rather than misread.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("store schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// SchemaVersion returns the stored user_version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.q().QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

func timestampIndexName(kind event.Kind) string {
	return "IDX_TimeStamp_" + kind.String()
}

func (s *Store) createTimestampIndexes(ctx context.Context) error {
	q := s.q()
	for _, kind := range event.AllKinds {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(TimeStamp)", timestampIndexName(kind), kind.String())
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index %s: %w", timestampIndexName(kind), err)
		}
	}
	return nil
}

func (s *Store) dropTimestampIndexes(ctx context.Context) error {
	q := s.q()
	for _, kind := range event.AllKinds {
		stmt := fmt.Sprintf("DROP INDEX IF EXISTS %s", timestampIndexName(kind))
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("drop index %s: %w", timestampIndexName(kind), err)
		}
	}
	return nil
}

// WithoutTimestampIndexes drops the per-kind timestamp indexes, runs fn and
// rebuilds them whether or not fn succeeded. The GUID uniqueness index is
// never dropped.
func (s *Store) WithoutTimestampIndexes(ctx context.Context, fn func() error) error {
	if err := s.dropTimestampIndexes(ctx); err != nil {
		return err
	}
	slog.Debug("dropped timestamp indexes")

	fnErr := fn()

	// Rebuild even if ctx was cancelled.
	if err := s.createTimestampIndexes(context.WithoutCancel(ctx)); err != nil {
		if fnErr != nil {
			return fmt.Errorf("%w (rebuild indexes: %v)", fnErr, err)
		}
		return err
	}
	slog.Debug("rebuilt timestamp indexes")
	return fnErr
}

// HasTimestampIndex reports whether the timestamp index for kind exists.
func (s *Store) HasTimestampIndex(ctx context.Context, kind event.Kind) (bool, error) {
	var n int
	err := s.q().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?",
		timestampIndexName(kind),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query index %s: %w", timestampIndexName(kind), err)
	}
	return n > 0, nil
}
