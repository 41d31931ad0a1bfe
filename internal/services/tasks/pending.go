package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/smart-reminder/internal/clock"
	"github.com/benvon/smart-reminder/internal/database"
	"github.com/benvon/smart-reminder/internal/models"
	"github.com/google/uuid"
)

// PendingScheduler persists reminders without arming timers. A server
// rehydrating the same store arms them later. Used by offline tools.
type PendingScheduler struct {
	store database.Store
	clock clock.Clock
}

// NewPendingScheduler creates a scheduler that only writes pending rows
func NewPendingScheduler(store database.Store, clk clock.Clock) *PendingScheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &PendingScheduler{store: store, clock: clk}
}

// Schedule stores one pending reminder per instant
func (p *PendingScheduler) Schedule(ctx context.Context, task *models.Task, instants []time.Time) ([]*models.Reminder, error) {
	now := p.clock.Now()
	reminders := make([]*models.Reminder, 0, len(instants))
	for _, at := range instants {
		r := models.NewReminder(task.ID, at, now)
		if err := p.store.CreateReminder(ctx, r); err != nil {
			return reminders, fmt.Errorf("failed to create reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, nil
}

// Cancel voids the task's unfired reminders in the store. A running server
// still holding timers for them voids them at dispatch.
func (p *PendingScheduler) Cancel(ctx context.Context, taskID uuid.UUID) (int, error) {
	reminders, err := p.store.ListRemindersByTask(ctx, taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to list reminders: %w", err)
	}
	cancelled := 0
	for _, r := range reminders {
		from := r.State
		if err := r.Transition(models.ReminderStateCancelled); err != nil {
			continue
		}
		r.JobRef = nil
		changed, err := p.store.UpdateReminder(ctx, r, from)
		if err != nil {
			return cancelled, fmt.Errorf("failed to cancel reminder: %w", err)
		}
		if changed {
			cancelled++
		}
	}
	return cancelled, nil
}

var _ ReminderScheduler = (*PendingScheduler)(nil)
