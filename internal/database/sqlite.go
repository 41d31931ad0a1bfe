package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benvon/smart-reminder/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultSQLitePath is used when no DATABASE_URL is configured
const DefaultSQLitePath = "smart_reminder.db"

type taskRow struct {
	ID              string `gorm:"primaryKey;type:text"`
	Description     string `gorm:"not null"`
	Normalized      string `gorm:"not null"`
	TaskDate        string `gorm:"not null"`
	ExactTime       *string
	Completed       bool `gorm:"not null;default:false"`
	CompletedAt     *time.Time
	CalendarEventID *string
	CreatedAt       time.Time `gorm:"not null"`
}

func (taskRow) TableName() string { return "tasks" }

type reminderRow struct {
	ID        string    `gorm:"primaryKey;type:text"`
	TaskID    string    `gorm:"not null;index"`
	FireAt    time.Time `gorm:"not null"`
	State     string    `gorm:"not null"`
	JobRef    *string
	Attempts  int `gorm:"not null;default:0"`
	LastError *string
	FiredAt   *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

func (reminderRow) TableName() string { return "reminders" }

// Partial indexes are not expressible as gorm tags
var sqliteIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_pending_dedup ON tasks (normalized, task_date) WHERE completed = 0`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_calendar_event ON tasks (calendar_event_id) WHERE calendar_event_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_state_fire_at ON reminders (state, fire_at)`,
}

// SQLiteStore is the embedded, CGO-free Store used for single-node deployments and tests
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens a SQLite database at path and migrates it
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	if err := ensureDirForSQLite(path); err != nil {
		return nil, err
	}

	cfg := &gorm.Config{TranslateError: true}
	if logger != nil {
		cfg.Logger = gormlogger.New(zap.NewStdLog(logger), gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		})
	} else {
		cfg.Logger = gormlogger.Discard
	}

	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	// One writer; an in-memory database also lives and dies with its single connection
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&taskRow{}, &reminderRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}
	for _, stmt := range sqliteIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// ensureDirForSQLite creates the parent directory for a file-backed database
func ensureDirForSQLite(path string) error {
	if strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(path, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %q: %w", dir, err)
	}
	return nil
}

func toTaskRow(t *models.Task) *taskRow {
	row := &taskRow{
		ID:              t.ID.String(),
		Description:     t.Description,
		Normalized:      t.Normalized,
		TaskDate:        t.Date.String(),
		Completed:       t.Completed,
		CalendarEventID: t.CalendarEventID,
		CreatedAt:       t.CreatedAt.UTC(),
	}
	if t.ExactTime != nil {
		s := t.ExactTime.String()
		row.ExactTime = &s
	}
	if t.CompletedAt != nil {
		at := t.CompletedAt.UTC()
		row.CompletedAt = &at
	}
	return row
}

func (row *taskRow) toModel() (*models.Task, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid task id %q: %w", row.ID, err)
	}
	date, err := models.ParseDate(row.TaskDate)
	if err != nil {
		return nil, err
	}
	task := &models.Task{
		ID:              id,
		Description:     row.Description,
		Normalized:      row.Normalized,
		Date:            date,
		Completed:       row.Completed,
		CompletedAt:     row.CompletedAt,
		CalendarEventID: row.CalendarEventID,
		CreatedAt:       row.CreatedAt,
	}
	if row.ExactTime != nil {
		tod, err := models.ParseTimeOfDay(*row.ExactTime)
		if err != nil {
			return nil, err
		}
		task.ExactTime = &tod
	}
	return task, nil
}

func toReminderRow(r *models.Reminder) *reminderRow {
	row := &reminderRow{
		ID:        r.ID.String(),
		TaskID:    r.TaskID.String(),
		FireAt:    r.FireAt.UTC(),
		State:     string(r.State),
		JobRef:    r.JobRef,
		Attempts:  r.Attempts,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.FiredAt != nil {
		at := r.FiredAt.UTC()
		row.FiredAt = &at
	}
	return row
}

func (row *reminderRow) toModel() (*models.Reminder, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid reminder id %q: %w", row.ID, err)
	}
	taskID, err := uuid.Parse(row.TaskID)
	if err != nil {
		return nil, fmt.Errorf("invalid task id %q: %w", row.TaskID, err)
	}
	return &models.Reminder{
		ID:        id,
		TaskID:    taskID,
		FireAt:    row.FireAt,
		State:     models.ReminderState(row.State),
		JobRef:    row.JobRef,
		Attempts:  row.Attempts,
		LastError: row.LastError,
		FiredAt:   row.FiredAt,
		CreatedAt: row.CreatedAt,
	}, nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateTask inserts a new task
func (s *SQLiteStore) CreateTask(ctx context.Context, task *models.Task) error {
	if err := s.db.WithContext(ctx).Create(toTaskRow(task)).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTask
		}
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) firstTask(ctx context.Context, query string, args ...any) (*models.Task, error) {
	var row taskRow
	err := s.db.WithContext(ctx).Where(query, args...).Order("created_at").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return row.toModel()
}

// GetTask retrieves a task by ID
func (s *SQLiteStore) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return s.firstTask(ctx, "id = ?", id.String())
}

// FindPendingTask looks up the non-completed task for a normalized description and date
func (s *SQLiteStore) FindPendingTask(ctx context.Context, normalized string, date models.Date) (*models.Task, error) {
	return s.firstTask(ctx, "normalized = ? AND task_date = ? AND completed = ?", normalized, date.String(), false)
}

// FindTaskByCalendarEventID returns the task linked to a calendar event
func (s *SQLiteStore) FindTaskByCalendarEventID(ctx context.Context, eventID string) (*models.Task, error) {
	return s.firstTask(ctx, "calendar_event_id = ?", eventID)
}

func tasksFromRows(rows []taskRow) ([]*models.Task, error) {
	tasks := make([]*models.Task, 0, len(rows))
	for i := range rows {
		task, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// ListTasks lists tasks ordered by date then creation time
func (s *SQLiteStore) ListTasks(ctx context.Context, includeCompleted bool) ([]*models.Task, error) {
	var rows []taskRow
	q := s.db.WithContext(ctx).Order("task_date").Order("created_at")
	if !includeCompleted {
		q = q.Where("completed = ?", false)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasksFromRows(rows)
}

// ListRecentPendingTasks returns the most recently created pending tasks
func (s *SQLiteStore) ListRecentPendingTasks(ctx context.Context, limit int) ([]*models.Task, error) {
	var rows []taskRow
	err := s.db.WithContext(ctx).
		Where("completed = ?", false).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent tasks: %w", err)
	}
	return tasksFromRows(rows)
}

// CompleteTask marks a task completed
func (s *SQLiteStore) CompleteTask(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&taskRow{}).
		Where("id = ? AND completed = ?", id.String(), false).
		Updates(map[string]any{"completed": true, "completed_at": at.UTC()})
	if result.Error != nil {
		return false, fmt.Errorf("failed to complete task: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	if _, err := s.GetTask(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// SetTaskCalendarEventID links a task to a calendar event
func (s *SQLiteStore) SetTaskCalendarEventID(ctx context.Context, id uuid.UUID, eventID string) error {
	result := s.db.WithContext(ctx).
		Model(&taskRow{}).
		Where("id = ?", id.String()).
		Update("calendar_event_id", eventID)
	if result.Error != nil {
		return fmt.Errorf("failed to set calendar event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateReminder inserts a new reminder
func (s *SQLiteStore) CreateReminder(ctx context.Context, reminder *models.Reminder) error {
	if err := s.db.WithContext(ctx).Create(toReminderRow(reminder)).Error; err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	return nil
}

// GetReminder retrieves a reminder by ID
func (s *SQLiteStore) GetReminder(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	var row reminderRow
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return row.toModel()
}

func (s *SQLiteStore) findReminders(ctx context.Context, query string, args ...any) ([]*models.Reminder, error) {
	var rows []reminderRow
	if err := s.db.WithContext(ctx).Where(query, args...).Order("fire_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	reminders := make([]*models.Reminder, 0, len(rows))
	for i := range rows {
		reminder, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, reminder)
	}
	return reminders, nil
}

// ListRemindersByTask lists a task's reminders in fire order
func (s *SQLiteStore) ListRemindersByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Reminder, error) {
	return s.findReminders(ctx, "task_id = ?", taskID.String())
}

// ListUnfiredReminders lists pending and scheduled reminders in fire order
func (s *SQLiteStore) ListUnfiredReminders(ctx context.Context) ([]*models.Reminder, error) {
	return s.findReminders(ctx, "state IN ?", stateStrings(models.UnfiredReminderStates))
}

// UpdateReminder conditionally writes a reminder's mutable fields
func (s *SQLiteStore) UpdateReminder(ctx context.Context, reminder *models.Reminder, from ...models.ReminderState) (bool, error) {
	var firedAt *time.Time
	if reminder.FiredAt != nil {
		at := reminder.FiredAt.UTC()
		firedAt = &at
	}

	result := s.db.WithContext(ctx).
		Model(&reminderRow{}).
		Where("id = ? AND state IN ?", reminder.ID.String(), stateStrings(from)).
		Updates(map[string]any{
			"state":      string(reminder.State),
			"job_ref":    reminder.JobRef,
			"attempts":   reminder.Attempts,
			"last_error": reminder.LastError,
			"fired_at":   firedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to update reminder: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Ping verifies the database handle
func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
