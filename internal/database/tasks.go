package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/smart-reminder/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const taskColumns = `id, description, normalized, task_date, exact_time, completed, completed_at, calendar_event_id, created_at`

// TaskRepository handles task database operations
type TaskRepository struct {
	db *DB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var exactTime, calendarEventID sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.Description,
		&task.Normalized,
		&task.Date,
		&exactTime,
		&task.Completed,
		&completedAt,
		&calendarEventID,
		&task.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if exactTime.Valid {
		tod, err := models.ParseTimeOfDay(exactTime.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse exact_time: %w", err)
		}
		task.ExactTime = &tod
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if calendarEventID.Valid {
		task.CalendarEventID = &calendarEventID.String
	}
	return task, nil
}

func exactTimeValue(t *models.TimeOfDay) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.String(), Valid: true}
}

// CreateTask inserts a new task
func (r *TaskRepository) CreateTask(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var calendarEventID sql.NullString
	if task.CalendarEventID != nil {
		calendarEventID = sql.NullString{String: *task.CalendarEventID, Valid: true}
	}
	var completedAt sql.NullTime
	if task.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *task.CompletedAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		task.ID,
		task.Description,
		task.Normalized,
		task.Date,
		exactTimeValue(task.ExactTime),
		task.Completed,
		completedAt,
		calendarEventID,
		task.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateTask
		}
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID
func (r *TaskRepository) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// FindPendingTask looks up the non-completed task for a normalized description and date
func (r *TaskRepository) FindPendingTask(ctx context.Context, normalized string, date models.Date) (*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE normalized = $1 AND task_date = $2 AND NOT completed
		ORDER BY created_at
		LIMIT 1
	`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, normalized, date))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending task: %w", err)
	}
	return task, nil
}

// ListTasks lists tasks ordered by date then creation time
func (r *TaskRepository) ListTasks(ctx context.Context, includeCompleted bool) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if !includeCompleted {
		query += ` WHERE NOT completed`
	}
	query += ` ORDER BY task_date, created_at`

	return r.queryTasks(ctx, query)
}

// ListRecentPendingTasks returns the most recently created pending tasks
func (r *TaskRepository) ListRecentPendingTasks(ctx context.Context, limit int) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE NOT completed
		ORDER BY created_at DESC
		LIMIT $1
	`
	return r.queryTasks(ctx, query, limit)
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// CompleteTask marks a task completed
func (r *TaskRepository) CompleteTask(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET completed = TRUE, completed_at = $2 WHERE id = $1 AND NOT completed`,
		id, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	if _, err := r.GetTask(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// FindTaskByCalendarEventID returns the task imported from or exported to a calendar event
func (r *TaskRepository) FindTaskByCalendarEventID(ctx context.Context, eventID string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE calendar_event_id = $1`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, eventID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task by calendar event: %w", err)
	}
	return task, nil
}

// SetTaskCalendarEventID links a task to a calendar event
func (r *TaskRepository) SetTaskCalendarEventID(ctx context.Context, id uuid.UUID, eventID string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE tasks SET calendar_event_id = $2 WHERE id = $1`, id, eventID)
	if err != nil {
		return fmt.Errorf("failed to set calendar event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
