// Package tasks runs the add / list / mark-done pipeline: resolve, deduplicate,
// create one task per date and hand its reminder instants to the scheduler.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benvon/smart-reminder/internal/clock"
	"github.com/benvon/smart-reminder/internal/database"
	"github.com/benvon/smart-reminder/internal/keylock"
	"github.com/benvon/smart-reminder/internal/logger"
	"github.com/benvon/smart-reminder/internal/models"
	"github.com/benvon/smart-reminder/internal/policy"
	"github.com/benvon/smart-reminder/internal/services/calendar"
	"github.com/benvon/smart-reminder/internal/services/nlp"
	"github.com/benvon/smart-reminder/internal/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultRecentTasks is how many pending tasks are summarized for the provider
	DefaultRecentTasks = 25
	// DefaultSyncDays is the calendar import window
	DefaultSyncDays = 7
)

var (
	// ErrEmptyText is returned when add is called with blank text
	ErrEmptyText = errors.New("text is required")
	// ErrTaskNotFound is returned when a task id does not exist
	ErrTaskNotFound = errors.New("task not found")
)

// ReminderScheduler persists and arms reminders for a task
type ReminderScheduler interface {
	Schedule(ctx context.Context, task *models.Task, instants []time.Time) ([]*models.Reminder, error)
	Cancel(ctx context.Context, taskID uuid.UUID) (int, error)
}

// Options holds optional collaborators and limits
type Options struct {
	// Calendar receives exact-time tasks; nil disables the integration
	Calendar    calendar.Client
	RecentTasks int
	SyncDays    int
}

// Service coordinates the resolver, the store, the policy and the scheduler
type Service struct {
	store     database.Store
	resolver  *nlp.Resolver
	policy    *policy.Policy
	scheduler ReminderScheduler
	calendar  calendar.Client
	clock     clock.Clock
	locks     *keylock.KeyedMutex
	logger    *zap.Logger
	recent    int
	syncDays  int
}

// NewService creates a task service
func NewService(store database.Store, resolver *nlp.Resolver, pol *policy.Policy, sched ReminderScheduler, clk clock.Clock, log *zap.Logger, opts Options) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RecentTasks <= 0 {
		opts.RecentTasks = DefaultRecentTasks
	}
	if opts.SyncDays <= 0 {
		opts.SyncDays = DefaultSyncDays
	}
	return &Service{
		store:     store,
		resolver:  resolver,
		policy:    pol,
		scheduler: sched,
		calendar:  opts.Calendar,
		clock:     clk,
		locks:     keylock.New(),
		logger:    log,
		recent:    opts.RecentTasks,
		syncDays:  opts.SyncDays,
	}
}

// AddedTask is the outcome for one resolved date
type AddedTask struct {
	Task      *models.Task       `json:"task"`
	Created   bool               `json:"created"`
	Reminders []*models.Reminder `json:"reminders,omitempty"`
}

// AddTaskResult is returned by AddTask
type AddTaskResult struct {
	Intent nlp.ResolvedIntent `json:"intent"`
	Tasks  []AddedTask        `json:"tasks"`
}

// TaskIDs returns the id of every task in the result, created or existing
func (r *AddTaskResult) TaskIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(r.Tasks))
	for i, t := range r.Tasks {
		ids[i] = t.Task.ID
	}
	return ids
}

// AddTask resolves text and creates one task per resolved date. Dates that
// already have a pending task with the same description return that task.
func (s *Service) AddTask(ctx context.Context, text string) (*AddTaskResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "tasks.add")
	defer span.End()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	recent, err := s.store.ListRecentPendingTasks(ctx, s.recent)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending tasks: %w", err)
	}

	intent := s.resolver.Resolve(ctx, text, nlp.SummarizeTasks(recent))
	s.logger.Info("task_text_resolved",
		zap.String("text", logger.SanitizeText(text)),
		zap.String("description", intent.Description),
		zap.Int("dates", len(intent.Dates)),
		zap.String("source", string(intent.Source)),
	)

	result := &AddTaskResult{Intent: intent, Tasks: make([]AddedTask, 0, len(intent.Dates))}
	for _, date := range intent.Dates {
		added, err := s.addForDate(ctx, intent.Description, date, intent.ExactTime, nil)
		if err != nil {
			return result, err
		}
		if added.Created && added.Task.HasExactTime() {
			s.mirrorToCalendar(ctx, added.Task)
		}
		result.Tasks = append(result.Tasks, added)
	}
	return result, nil
}

func dedupKey(normalized string, date models.Date) string {
	return normalized + "|" + date.String()
}

// addForDate runs dedup, create and schedule for one (description, date)
// under that pair's lock.
func (s *Service) addForDate(ctx context.Context, description string, date models.Date, exact *models.TimeOfDay, eventID *string) (AddedTask, error) {
	normalized := models.NormalizeDescription(description)
	unlock := s.locks.Lock(dedupKey(normalized, date))
	defer unlock()

	existing, err := s.store.FindPendingTask(ctx, normalized, date)
	if err == nil {
		restored, err := s.scheduleMissing(ctx, existing)
		if err != nil {
			return AddedTask{}, err
		}
		s.logger.Info("task_duplicate",
			zap.String("task_id", existing.ID.String()),
			zap.String("date", date.String()),
			zap.Int("reminders_restored", len(restored)),
		)
		return AddedTask{Task: existing, Reminders: restored}, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return AddedTask{}, fmt.Errorf("failed to check for duplicate task: %w", err)
	}

	now := s.clock.Now()
	task := models.NewTask(description, date, exact, now)
	task.CalendarEventID = eventID
	if err := s.store.CreateTask(ctx, task); err != nil {
		if errors.Is(err, database.ErrDuplicateTask) {
			// Another process inserted the same pair first
			if existing, ferr := s.store.FindPendingTask(ctx, normalized, date); ferr == nil {
				return AddedTask{Task: existing}, nil
			}
		}
		return AddedTask{}, fmt.Errorf("failed to create task: %w", err)
	}

	instants := s.policy.InstantsFor(date, exact, now)
	reminders, err := s.scheduler.Schedule(ctx, task, instants)
	if err != nil {
		return AddedTask{}, fmt.Errorf("failed to schedule reminders: %w", err)
	}

	s.logger.Info("task_created",
		zap.String("task_id", task.ID.String()),
		zap.String("date", date.String()),
		zap.Bool("exact_time", exact != nil),
		zap.Int("reminders", len(reminders)),
	)
	return AddedTask{Task: task, Created: true, Reminders: reminders}, nil
}

// scheduleMissing arms the future policy instants a pending task has no
// reminder for. A task is left short when an earlier add failed partway
// through scheduling.
func (s *Service) scheduleMissing(ctx context.Context, task *models.Task) ([]*models.Reminder, error) {
	instants := s.policy.InstantsFor(task.Date, task.ExactTime, s.clock.Now())
	if len(instants) == 0 {
		return nil, nil
	}
	have, err := s.store.ListRemindersByTask(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}

	var missing []time.Time
	for _, at := range instants {
		found := false
		for _, r := range have {
			if r.FireAt.Equal(at) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, at)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	reminders, err := s.scheduler.Schedule(ctx, task, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule reminders: %w", err)
	}
	s.logger.Warn("task_reminders_restored",
		zap.String("task_id", task.ID.String()),
		zap.Int("reminders", len(reminders)),
	)
	return reminders, nil
}

// mirrorToCalendar creates the calendar event for an exact-time task.
// Failures are logged; reminders are already armed.
func (s *Service) mirrorToCalendar(ctx context.Context, task *models.Task) {
	if s.calendar == nil || task.ExactTime == nil {
		return
	}
	at := task.Date.At(*task.ExactTime, s.policy.Location())
	eventID, err := s.calendar.CreateEvent(ctx, task.Description, at)
	if err != nil {
		level := zap.WarnLevel
		if errors.Is(err, calendar.ErrNotConfigured) {
			level = zap.DebugLevel
		}
		s.logger.Log(level, "calendar_event_failed", zap.String("task_id", task.ID.String()), zap.Error(err))
		return
	}
	if err := s.store.SetTaskCalendarEventID(ctx, task.ID, eventID); err != nil {
		s.logger.Error("calendar_event_link_failed", zap.String("task_id", task.ID.String()), zap.Error(err))
		return
	}
	task.CalendarEventID = &eventID
}

// IsDuplicate reports whether a pending task with description already exists on date
func (s *Service) IsDuplicate(ctx context.Context, description string, date models.Date) (bool, error) {
	_, err := s.store.FindPendingTask(ctx, models.NormalizeDescription(description), date)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check for duplicate task: %w", err)
}

// ListTasks returns tasks ordered by date then creation time
func (s *Service) ListTasks(ctx context.Context, includeCompleted bool) ([]*models.Task, error) {
	tasks, err := s.store.ListTasks(ctx, includeCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// MarkDoneResult is returned by MarkDone
type MarkDoneResult struct {
	Task      *models.Task `json:"task"`
	Cancelled int          `json:"cancelled_reminders"`
	// AlreadyDone is true when the task was completed before this call
	AlreadyDone bool `json:"already_done"`
}

// MarkDone completes a task and cancels its unfired reminders. Repeating it is harmless.
func (s *Service) MarkDone(ctx context.Context, id uuid.UUID) (*MarkDoneResult, error) {
	changed, err := s.store.CompleteTask(ctx, id, s.clock.Now())
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}

	cancelled, err := s.scheduler.Cancel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel reminders: %w", err)
	}

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	s.logger.Info("task_completed",
		zap.String("task_id", id.String()),
		zap.Bool("already_done", !changed),
		zap.Int("cancelled_reminders", cancelled),
	)
	return &MarkDoneResult{Task: task, Cancelled: cancelled, AlreadyDone: !changed}, nil
}

// TaskReminders lists a task's reminders by fire time
func (s *Service) TaskReminders(ctx context.Context, id uuid.UUID) ([]*models.Reminder, error) {
	if _, err := s.store.GetTask(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	reminders, err := s.store.ListRemindersByTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	return reminders, nil
}
