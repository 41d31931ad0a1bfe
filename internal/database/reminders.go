package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/benvon/smart-reminder/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const reminderColumns = `id, task_id, fire_at, state, job_ref, attempts, last_error, fired_at, created_at`

// ReminderRepository handles reminder database operations
type ReminderRepository struct {
	db *DB
}

// NewReminderRepository creates a new reminder repository
func NewReminderRepository(db *DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

func scanReminder(row rowScanner) (*models.Reminder, error) {
	reminder := &models.Reminder{}
	var jobRef, lastError sql.NullString
	var firedAt sql.NullTime

	err := row.Scan(
		&reminder.ID,
		&reminder.TaskID,
		&reminder.FireAt,
		&reminder.State,
		&jobRef,
		&reminder.Attempts,
		&lastError,
		&firedAt,
		&reminder.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if jobRef.Valid {
		reminder.JobRef = &jobRef.String
	}
	if lastError.Valid {
		reminder.LastError = &lastError.String
	}
	if firedAt.Valid {
		reminder.FiredAt = &firedAt.Time
	}
	return reminder, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// CreateReminder inserts a new reminder
func (r *ReminderRepository) CreateReminder(ctx context.Context, reminder *models.Reminder) error {
	query := `
		INSERT INTO reminders (` + reminderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var firedAt sql.NullTime
	if reminder.FiredAt != nil {
		firedAt = sql.NullTime{Time: *reminder.FiredAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		reminder.ID,
		reminder.TaskID,
		reminder.FireAt,
		reminder.State,
		nullString(reminder.JobRef),
		reminder.Attempts,
		nullString(reminder.LastError),
		firedAt,
		reminder.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	return nil
}

// GetReminder retrieves a reminder by ID
func (r *ReminderRepository) GetReminder(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE id = $1`

	reminder, err := scanReminder(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return reminder, nil
}

// ListRemindersByTask lists a task's reminders in fire order
func (r *ReminderRepository) ListRemindersByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE task_id = $1 ORDER BY fire_at`
	return r.queryReminders(ctx, query, taskID)
}

// ListUnfiredReminders lists pending and scheduled reminders in fire order
func (r *ReminderRepository) ListUnfiredReminders(ctx context.Context) ([]*models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE state = ANY($1) ORDER BY fire_at`
	return r.queryReminders(ctx, query, pq.Array(stateStrings(models.UnfiredReminderStates)))
}

func (r *ReminderRepository) queryReminders(ctx context.Context, query string, args ...any) ([]*models.Reminder, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*models.Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, reminder)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reminders: %w", err)
	}
	return reminders, nil
}

// UpdateReminder conditionally writes a reminder's mutable fields
func (r *ReminderRepository) UpdateReminder(ctx context.Context, reminder *models.Reminder, from ...models.ReminderState) (bool, error) {
	query := `
		UPDATE reminders
		SET state = $2, job_ref = $3, attempts = $4, last_error = $5, fired_at = $6
		WHERE id = $1 AND state = ANY($7)
	`

	var firedAt sql.NullTime
	if reminder.FiredAt != nil {
		firedAt = sql.NullTime{Time: *reminder.FiredAt, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		reminder.ID,
		reminder.State,
		nullString(reminder.JobRef),
		reminder.Attempts,
		nullString(reminder.LastError),
		firedAt,
		pq.Array(stateStrings(from)),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update reminder: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}
