package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/calshift/calshift/actor"
	"github.com/calshift/calshift/cluster"
	"github.com/calshift/calshift/cron"
	"github.com/calshift/calshift/dlq"
	"github.com/calshift/calshift/event"
	"github.com/calshift/calshift/task"
	"github.com/calshift/calshift/workflow"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ task.Store     = (*Store)(nil)
	_ workflow.Store = (*Store)(nil)
	_ actor.Store    = (*Store)(nil)
	_ cron.Store     = (*Store)(nil)
	_ dlq.Store      = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
	_ cluster.Store  = (*Store)(nil)
)

// Store is a SQLite implementation of store.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func newStore(db *sql.DB, opts []Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a new SQLite store at the given path. WAL mode and a
// busy timeout are enabled so concurrent workers in one process do
// not trip over SQLITE_BUSY.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("calshift/sqlite: open: %w", err)
	}

	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("calshift/sqlite: ping: %w", err)
	}
	return newStore(db, opts), nil
}

// NewFromDB creates a Store from an existing *sql.DB. The caller owns
// the db lifecycle; Close becomes a no-op for the connection.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return newStore(db, opts)
}

// Migrate runs all schema migrations in order. Each migration is applied
// at most once and recorded in the calshift_migrations tracking table.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS calshift_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: create migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := s.migrationApplied(ctx, m.name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
		s.logger.Info("applied migration", "name", m.name)
	}
	return nil
}

func (s *Store) migrationApplied(ctx context.Context, name string) (bool, error) {
	var applied bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM calshift_migrations WHERE name = ?)`, name,
	).Scan(&applied)
	if err != nil {
		return false, fmt.Errorf("calshift/sqlite: check migration %s: %w", name, err)
	}
	return applied, nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	for _, stmt := range m.statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("calshift/sqlite: execute migration %s: %w", m.name, err)
		}
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO calshift_migrations (name) VALUES (?)`, m.name,
	); err != nil {
		return fmt.Errorf("calshift/sqlite: record migration %s: %w", m.name, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB { return s.db }
