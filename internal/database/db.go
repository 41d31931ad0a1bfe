package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// DB wraps a Postgres connection pool
type DB struct {
	*sql.DB
}

// New opens and verifies a Postgres connection
func New(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id UUID PRIMARY KEY,
	description TEXT NOT NULL,
	normalized TEXT NOT NULL,
	task_date DATE NOT NULL,
	exact_time TEXT,
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	completed_at TIMESTAMPTZ,
	calendar_event_id TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_pending_dedup ON tasks (normalized, task_date) WHERE NOT completed;
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_calendar_event ON tasks (calendar_event_id) WHERE calendar_event_id IS NOT NULL;
CREATE TABLE IF NOT EXISTS reminders (
	id UUID PRIMARY KEY,
	task_id UUID NOT NULL REFERENCES tasks(id),
	fire_at TIMESTAMPTZ NOT NULL,
	state TEXT NOT NULL,
	job_ref TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	fired_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reminders_state_fire_at ON reminders (state, fire_at);
CREATE INDEX IF NOT EXISTS idx_reminders_task_id ON reminders (task_id);
`

// Migrate creates the tasks and reminders tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// PostgresStore is the Postgres-backed Store
type PostgresStore struct {
	*TaskRepository
	*ReminderRepository
	db *DB
}

// NewPostgresStore creates a store over an open connection
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{
		TaskRepository:     NewTaskRepository(db),
		ReminderRepository: NewReminderRepository(db),
		db:                 db,
	}
}

// Ping verifies the connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// IsPostgresURL reports whether databaseURL selects the Postgres backend
func IsPostgresURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://")
}

// Open picks a backend from databaseURL: postgres:// URLs use Postgres,
// anything else is treated as a SQLite path (optionally prefixed sqlite://).
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (Store, error) {
	if IsPostgresURL(databaseURL) {
		db, err := New(databaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return NewPostgresStore(db), nil
	}
	return NewSQLiteStore(strings.TrimPrefix(databaseURL, "sqlite://"), logger)
}
