// Package scheduler arms, dispatches, cancels and rehydrates reminder timers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benvon/smart-reminder/internal/clock"
	"github.com/benvon/smart-reminder/internal/database"
	"github.com/benvon/smart-reminder/internal/keylock"
	"github.com/benvon/smart-reminder/internal/models"
	"github.com/benvon/smart-reminder/internal/notify"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts is the delivery attempt ceiling per reminder
	DefaultMaxAttempts = 5
	// DefaultInitialBackoff is the delay before the first retry
	DefaultInitialBackoff = 2 * time.Second
	// DefaultMaxBackoff caps the retry delay
	DefaultMaxBackoff = time.Minute
	// DefaultSendTimeout bounds a single notifier call
	DefaultSendTimeout = 30 * time.Second
)

// Options tunes delivery retries and the timer implementation
type Options struct {
	MaxAttempts         int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	RandomizationFactor float64
	SendTimeout         time.Duration
	// Timers defaults to a TimerQueue driven by Run
	Timers Timers
}

func (o *Options) withDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = max(DefaultMaxBackoff, o.InitialBackoff)
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
}

// RehydrateStats summarizes a rehydration pass
type RehydrateStats struct {
	Armed  int `json:"armed"`
	Missed int `json:"missed"`
	Voided int `json:"voided"`
}

// Scheduler owns the live reminder timers. Store writes for one task are
// serialized behind a per-task lock; notifier calls happen outside it.
type Scheduler struct {
	store    database.Store
	notifier notify.Notifier
	clock    clock.Clock
	logger   *zap.Logger
	timers   Timers
	queue    *TimerQueue
	locks    *keylock.KeyedMutex
	opts     Options

	retryMu sync.Mutex
	retries map[uuid.UUID]*backoff.ExponentialBackOff

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler
func New(store database.Store, notifier notify.Notifier, clk clock.Clock, logger *zap.Logger, opts Options) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.withDefaults()

	s := &Scheduler{
		store:    store,
		notifier: notifier,
		clock:    clk,
		logger:   logger,
		timers:   opts.Timers,
		locks:    keylock.New(),
		opts:     opts,
		retries:  make(map[uuid.UUID]*backoff.ExponentialBackOff),
	}
	if s.timers == nil {
		s.queue = NewTimerQueue(clk)
		s.timers = s.queue
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Run drives the owned timer queue until ctx is cancelled. With injected
// timers it only waits for ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.queue == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.queue.Run(ctx)
}

// Close aborts in-flight dispatches
func (s *Scheduler) Close() {
	s.cancel()
}

// Pending lists armed timers in fire order
func (s *Scheduler) Pending() []PendingTimer {
	return s.timers.Pending()
}

// Schedule persists one reminder per instant for task and arms each of them
func (s *Scheduler) Schedule(ctx context.Context, task *models.Task, instants []time.Time) ([]*models.Reminder, error) {
	now := s.clock.Now()
	reminders := make([]*models.Reminder, 0, len(instants))
	for _, at := range instants {
		reminder := models.NewReminder(task.ID, at, now)
		if err := s.Arm(ctx, reminder); err != nil {
			return reminders, err
		}
		reminders = append(reminders, reminder)
	}
	return reminders, nil
}

// Arm persists reminder if it is new, marks it scheduled and registers its timer
func (s *Scheduler) Arm(ctx context.Context, reminder *models.Reminder) error {
	unlock := s.locks.Lock(reminder.TaskID.String())
	defer unlock()

	if _, err := s.store.GetReminder(ctx, reminder.ID); errors.Is(err, database.ErrNotFound) {
		if err := s.store.CreateReminder(ctx, reminder); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return s.armLocked(ctx, reminder)
}

func (s *Scheduler) armLocked(ctx context.Context, reminder *models.Reminder) error {
	from := reminder.State
	if err := reminder.Transition(models.ReminderStateScheduled); err != nil {
		return err
	}
	ref := models.JobRef(reminder.ID)
	reminder.JobRef = &ref

	changed, err := s.store.UpdateReminder(ctx, reminder, from)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("reminder %s changed state concurrently", reminder.ID)
	}

	s.timers.Arm(ref, reminder.FireAt, s.dispatchFunc(reminder.ID, reminder.TaskID))
	s.logger.Debug("reminder_armed",
		zap.String("reminder_id", reminder.ID.String()),
		zap.String("task_id", reminder.TaskID.String()),
		zap.Time("fire_at", reminder.FireAt),
	)
	return nil
}

func (s *Scheduler) dispatchFunc(reminderID, taskID uuid.UUID) func() {
	return func() {
		s.dispatch(s.ctx, reminderID, taskID)
	}
}

// Message renders the notification text for task
func Message(task *models.Task) string {
	if task.ExactTime != nil {
		return fmt.Sprintf("Reminder: %s at %s", task.Description, task.ExactTime)
	}
	return "Reminder: " + task.Description
}

// prepare loads the reminder and its task under the task lock. It returns nil
// when there is nothing to send.
func (s *Scheduler) prepare(ctx context.Context, reminderID, taskID uuid.UUID) (*models.Reminder, *models.Task) {
	unlock := s.locks.Lock(taskID.String())
	defer unlock()

	log := s.logger.With(zap.String("reminder_id", reminderID.String()), zap.String("task_id", taskID.String()))

	reminder, err := s.store.GetReminder(ctx, reminderID)
	if err != nil {
		log.Error("reminder_load_failed", zap.Error(err))
		return nil, nil
	}
	if reminder.State.Terminal() {
		return nil, nil
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		log.Error("reminder_task_load_failed", zap.Error(err))
		return nil, nil
	}
	if task.Completed {
		if s.voidLocked(ctx, reminder) {
			log.Info("reminder_voided")
		}
		return nil, nil
	}
	return reminder, task
}

func (s *Scheduler) send(ctx context.Context, reminder *models.Reminder, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(notify.WithReminder(ctx, reminder.ID, reminder.TaskID), s.opts.SendTimeout)
	defer cancel()
	return s.notifier.Send(ctx, message)
}

// dispatch delivers one reminder. A dispatch already past the state check
// completes even if the task is cancelled meanwhile, but never revives it.
func (s *Scheduler) dispatch(ctx context.Context, reminderID, taskID uuid.UUID) {
	reminder, task := s.prepare(ctx, reminderID, taskID)
	if reminder == nil {
		return
	}

	sendErr := s.send(ctx, reminder, Message(task))

	unlock := s.locks.Lock(taskID.String())
	defer unlock()

	log := s.logger.With(zap.String("reminder_id", reminderID.String()), zap.String("task_id", taskID.String()))
	from := reminder.State
	reminder.Attempts++

	if sendErr == nil {
		now := s.clock.Now()
		reminder.State = models.ReminderStateFired
		reminder.FiredAt = &now
		reminder.JobRef = nil
		reminder.LastError = nil
		s.forgetRetry(reminderID)

		changed, err := s.store.UpdateReminder(ctx, reminder, from)
		switch {
		case err != nil:
			log.Error("reminder_mark_fired_failed", zap.Error(err))
		case !changed:
			log.Info("reminder_delivered_after_cancel")
		default:
			log.Info("reminder_dispatched", zap.Int("attempts", reminder.Attempts))
		}
		return
	}

	errText := sendErr.Error()
	reminder.LastError = &errText

	var delay time.Duration
	if notify.IsTransient(sendErr) && reminder.Attempts < s.opts.MaxAttempts {
		delay = s.nextBackoff(reminderID)
	} else {
		delay = backoff.Stop
	}

	if delay == backoff.Stop {
		s.forgetRetry(reminderID)
		reminder.State = models.ReminderStateDropped
		reminder.JobRef = nil
		if _, err := s.store.UpdateReminder(ctx, reminder, from); err != nil {
			log.Error("reminder_drop_persist_failed", zap.Error(err))
		}
		log.Error("reminder_dropped",
			zap.Int("attempts", reminder.Attempts),
			zap.Bool("transient", notify.IsTransient(sendErr)),
			zap.Error(sendErr),
		)
		return
	}

	reminder.State = models.ReminderStateScheduled
	ref := models.JobRef(reminderID)
	reminder.JobRef = &ref
	changed, err := s.store.UpdateReminder(ctx, reminder, from)
	if err != nil {
		log.Error("reminder_retry_persist_failed", zap.Error(err))
	} else if !changed {
		s.forgetRetry(reminderID)
		return
	}

	retryAt := s.clock.Now().Add(delay)
	s.timers.Arm(ref, retryAt, s.dispatchFunc(reminderID, taskID))
	log.Warn("reminder_delivery_retry",
		zap.Int("attempts", reminder.Attempts),
		zap.Time("retry_at", retryAt),
		zap.Error(sendErr),
	)
}

func (s *Scheduler) nextBackoff(id uuid.UUID) time.Duration {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()

	b, ok := s.retries[id]
	if !ok {
		b = backoff.NewExponentialBackOff()
		b.InitialInterval = s.opts.InitialBackoff
		b.MaxInterval = s.opts.MaxBackoff
		b.RandomizationFactor = s.opts.RandomizationFactor
		b.MaxElapsedTime = 0
		b.Clock = s.clock
		b.Reset()
		s.retries[id] = b
	}
	return b.NextBackOff()
}

func (s *Scheduler) forgetRetry(id uuid.UUID) {
	s.retryMu.Lock()
	delete(s.retries, id)
	s.retryMu.Unlock()
}

// voidLocked cancels an unfired reminder; the caller holds the task lock
func (s *Scheduler) voidLocked(ctx context.Context, reminder *models.Reminder) bool {
	from := reminder.State
	if err := reminder.Transition(models.ReminderStateCancelled); err != nil {
		return false
	}
	s.timers.Cancel(models.JobRef(reminder.ID))
	s.forgetRetry(reminder.ID)
	reminder.JobRef = nil

	changed, err := s.store.UpdateReminder(ctx, reminder, from)
	if err != nil {
		s.logger.Error("reminder_cancel_failed", zap.String("reminder_id", reminder.ID.String()), zap.Error(err))
		return false
	}
	return changed
}

// Cancel deregisters and voids every unfired reminder of a task and returns how many were voided
func (s *Scheduler) Cancel(ctx context.Context, taskID uuid.UUID) (int, error) {
	unlock := s.locks.Lock(taskID.String())
	defer unlock()

	reminders, err := s.store.ListRemindersByTask(ctx, taskID)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, reminder := range reminders {
		if reminder.State.Terminal() {
			continue
		}
		if s.voidLocked(ctx, reminder) {
			cancelled++
		}
	}
	if cancelled > 0 {
		s.logger.Info("reminders_cancelled", zap.String("task_id", taskID.String()), zap.Int("count", cancelled))
	}
	return cancelled, nil
}

// Rehydrate rebuilds timers from persisted unfired reminders. Future reminders
// are re-armed at their original fire_at; missed ones are dispatched once now;
// those belonging to completed tasks are voided.
func (s *Scheduler) Rehydrate(ctx context.Context) (RehydrateStats, error) {
	var stats RehydrateStats

	reminders, err := s.store.ListUnfiredReminders(ctx)
	if err != nil {
		return stats, err
	}

	now := s.clock.Now()
	tasks := make(map[uuid.UUID]*models.Task)
	var missed []*models.Reminder

	for _, reminder := range reminders {
		task, ok := tasks[reminder.TaskID]
		if !ok {
			task, err = s.store.GetTask(ctx, reminder.TaskID)
			if err != nil {
				s.logger.Error("rehydrate_task_load_failed",
					zap.String("reminder_id", reminder.ID.String()),
					zap.String("task_id", reminder.TaskID.String()),
					zap.Error(err),
				)
				continue
			}
			tasks[reminder.TaskID] = task
		}

		switch {
		case task.Completed:
			unlock := s.locks.Lock(task.ID.String())
			if s.voidLocked(ctx, reminder) {
				stats.Voided++
			}
			unlock()
		case reminder.FireAt.After(now):
			unlock := s.locks.Lock(task.ID.String())
			err := s.rearmLocked(ctx, reminder)
			unlock()
			if err != nil {
				s.logger.Error("rehydrate_arm_failed", zap.String("reminder_id", reminder.ID.String()), zap.Error(err))
				continue
			}
			stats.Armed++
		default:
			missed = append(missed, reminder)
		}
	}

	for _, reminder := range missed {
		s.logger.Info("reminder_missed",
			zap.String("reminder_id", reminder.ID.String()),
			zap.Time("fire_at", reminder.FireAt),
		)
		s.dispatch(ctx, reminder.ID, reminder.TaskID)
		stats.Missed++
	}

	s.logger.Info("scheduler_rehydrated",
		zap.Int("armed", stats.Armed),
		zap.Int("missed", stats.Missed),
		zap.Int("voided", stats.Voided),
	)
	return stats, nil
}

// rearmLocked arms a reminder whose stored state may be pending or scheduled
func (s *Scheduler) rearmLocked(ctx context.Context, reminder *models.Reminder) error {
	ref := models.JobRef(reminder.ID)
	reminder.State = models.ReminderStateScheduled
	reminder.JobRef = &ref

	changed, err := s.store.UpdateReminder(ctx, reminder, models.UnfiredReminderStates...)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("reminder %s is no longer unfired", reminder.ID)
	}
	s.timers.Arm(ref, reminder.FireAt, s.dispatchFunc(reminder.ID, reminder.TaskID))
	return nil
}
