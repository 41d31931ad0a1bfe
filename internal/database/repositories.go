package database

import (
	"context"
	"errors"
	"time"

	"github.com/benvon/smart-reminder/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a task or reminder does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateTask is returned when inserting a second pending task for the same description and date
	ErrDuplicateTask = errors.New("pending task already exists for description and date")
)

// TaskRepositoryInterface defines task persistence
type TaskRepositoryInterface interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	// FindPendingTask returns the non-completed task with the given normalized description and date
	FindPendingTask(ctx context.Context, normalized string, date models.Date) (*models.Task, error)
	ListTasks(ctx context.Context, includeCompleted bool) ([]*models.Task, error)
	ListRecentPendingTasks(ctx context.Context, limit int) ([]*models.Task, error)
	// CompleteTask marks a task completed; it reports false when the task was already completed
	CompleteTask(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	FindTaskByCalendarEventID(ctx context.Context, eventID string) (*models.Task, error)
	SetTaskCalendarEventID(ctx context.Context, id uuid.UUID, eventID string) error
}

// ReminderRepositoryInterface defines reminder persistence
type ReminderRepositoryInterface interface {
	CreateReminder(ctx context.Context, reminder *models.Reminder) error
	GetReminder(ctx context.Context, id uuid.UUID) (*models.Reminder, error)
	ListRemindersByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Reminder, error)
	// ListUnfiredReminders returns pending and scheduled reminders ordered by fire_at
	ListUnfiredReminders(ctx context.Context) ([]*models.Reminder, error)
	// UpdateReminder writes state, job_ref, attempts, last_error and fired_at
	// only if the stored state is one of from. It reports whether a row changed.
	UpdateReminder(ctx context.Context, reminder *models.Reminder, from ...models.ReminderState) (bool, error)
}

// Store is the full persistence contract used by the scheduler and services
type Store interface {
	TaskRepositoryInterface
	ReminderRepositoryInterface
	Ping(ctx context.Context) error
	Close() error
}

// Ensure concrete types implement the interfaces
var (
	_ TaskRepositoryInterface     = (*TaskRepository)(nil)
	_ ReminderRepositoryInterface = (*ReminderRepository)(nil)
	_ Store                       = (*PostgresStore)(nil)
	_ Store                       = (*SQLiteStore)(nil)
)

func stateStrings(states []models.ReminderState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
