package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benvon/smart-reminder/internal/clock"
	"github.com/benvon/smart-reminder/internal/database"
	"github.com/benvon/smart-reminder/internal/models"
	"github.com/benvon/smart-reminder/internal/notify"
	"github.com/google/uuid"
)

type mockNotifier struct {
	mu       sync.Mutex
	messages []string
	sendFunc func(ctx context.Context, message string) error
}

func (m *mockNotifier) Send(ctx context.Context, message string) error {
	m.mu.Lock()
	m.messages = append(m.messages, message)
	fn := m.sendFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, message)
	}
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

type harness struct {
	store    database.Store
	clock    *clock.Fake
	notifier *mockNotifier
	queue    *TimerQueue
	sched    *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := database.NewSQLiteStore(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{store: store, clock: clock.NewFake(base), notifier: &mockNotifier{}}
	h.restart()
	return h
}

// restart simulates a new process over the same store
func (h *harness) restart() {
	h.queue = NewTimerQueue(h.clock, WithExecutor(SyncExecutor))
	h.sched = New(h.store, h.notifier, h.clock, nil, Options{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Timers:         h.queue,
	})
}

func (h *harness) task(t *testing.T, desc string) *models.Task {
	t.Helper()
	task := models.NewTask(desc, models.DateOf(base), nil, base)
	if err := h.store.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func (h *harness) reminder(t *testing.T, id uuid.UUID) *models.Reminder {
	t.Helper()
	r, err := h.store.GetReminder(context.Background(), id)
	if err != nil {
		t.Fatalf("GetReminder: %v", err)
	}
	return r
}

func instants(offsets ...time.Duration) []time.Time {
	out := make([]time.Time, len(offsets))
	for i, d := range offsets {
		out[i] = base.Add(d)
	}
	return out
}

func TestScheduler_ScheduleArmsAndPersists(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	task := h.task(t, "Stretch")

	reminders, err := h.sched.Schedule(context.Background(), task, instants(time.Hour, 2*time.Hour))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(reminders) != 2 {
		t.Fatalf("Expected 2 reminders, got %d", len(reminders))
	}

	pending := h.sched.Pending()
	if len(pending) != 2 {
		t.Fatalf("Expected 2 armed timers, got %d", len(pending))
	}
	for i, r := range reminders {
		stored := h.reminder(t, r.ID)
		if stored.State != models.ReminderStateScheduled {
			t.Errorf("Expected scheduled, got %s", stored.State)
		}
		if stored.JobRef == nil || *stored.JobRef != models.JobRef(r.ID) {
			t.Errorf("Expected job_ref %s, got %v", models.JobRef(r.ID), stored.JobRef)
		}
		if pending[i].Ref != models.JobRef(r.ID) || !pending[i].At.Equal(r.FireAt) {
			t.Errorf("Expected timer %s at %v, got %+v", models.JobRef(r.ID), r.FireAt, pending[i])
		}
	}
}

func TestScheduler_DispatchMarksFired(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	exact := models.TimeOfDay{Hour: 17, Minute: 30}
	task := models.NewTask("Call Mom", models.DateOf(base), &exact, base)
	if err := h.store.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	reminders, err := h.sched.Schedule(context.Background(), task, instants(time.Hour))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	h.clock.Set(base.Add(time.Hour))
	h.queue.FireDue(h.clock.Now())

	if h.notifier.count() != 1 {
		t.Fatalf("Expected one notification, got %d", h.notifier.count())
	}
	if h.notifier.messages[0] != "Reminder: Call Mom at 17:30" {
		t.Errorf("Unexpected message %q", h.notifier.messages[0])
	}
	stored := h.reminder(t, reminders[0].ID)
	if stored.State != models.ReminderStateFired || stored.FiredAt == nil || stored.JobRef != nil {
		t.Errorf("Expected fired reminder with no job_ref, got %+v", stored)
	}
	if !stored.FireAt.Equal(reminders[0].FireAt) {
		t.Errorf("Expected fire_at unchanged, got %v", stored.FireAt)
	}
}

func TestScheduler_RehydrateRearmsAtOriginalInstants(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	task := h.task(t, "Water plants")
	want := instants(time.Hour, 2*time.Hour, 3*time.Hour)
	if _, err := h.sched.Schedule(context.Background(), task, want); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	h.restart()
	if n := len(h.sched.Pending()); n != 0 {
		t.Fatalf("Expected a fresh process to have no timers, got %d", n)
	}

	stats, err := h.sched.Rehydrate(context.Background())
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if stats != (RehydrateStats{Armed: 3}) {
		t.Errorf("Expected 3 armed, got %+v", stats)
	}

	pending := h.sched.Pending()
	if len(pending) != 3 {
		t.Fatalf("Expected 3 armed timers, got %d", len(pending))
	}
	for i, p := range pending {
		if !p.At.Equal(want[i]) {
			t.Errorf("Expected timer %d at %v, got %v", i, want[i], p.At)
		}
	}

	for i, at := range want {
		h.clock.Set(at)
		h.queue.FireDue(at)
		if h.notifier.count() != i+1 {
			t.Errorf("Expected %d notifications at %v, got %d", i+1, at, h.notifier.count())
		}
	}
}

func TestScheduler_RehydrateDispatchesMissedOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	task := h.task(t, "Take pills")

	missed := models.NewReminder(task.ID, base.Add(-30*time.Minute), base.Add(-time.Hour))
	if err := h.store.CreateReminder(ctx, missed); err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}

	stats, err := h.sched.Rehydrate(ctx)
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if stats.Missed != 1 || stats.Armed != 0 {
		t.Errorf("Expected 1 missed, got %+v", stats)
	}
	if h.notifier.count() != 1 {
		t.Fatalf("Expected missed reminder to be sent once, got %d", h.notifier.count())
	}
	if got := h.reminder(t, missed.ID); got.State != models.ReminderStateFired {
		t.Errorf("Expected fired, got %s", got.State)
	}

	h.restart()
	stats, err = h.sched.Rehydrate(ctx)
	if err != nil {
		t.Fatalf("Second Rehydrate: %v", err)
	}
	if stats != (RehydrateStats{}) {
		t.Errorf("Expected nothing to rehydrate, got %+v", stats)
	}
	if h.notifier.count() != 1 {
		t.Errorf("Expected no duplicate delivery, got %d", h.notifier.count())
	}
}

func TestScheduler_CancelIsNotRearmedOnRestart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	task := h.task(t, "Pay rent")
	reminders, err := h.sched.Schedule(ctx, task, instants(time.Hour, 2*time.Hour, 3*time.Hour))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if _, err := h.store.CompleteTask(ctx, task.ID, base); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	n, err := h.sched.Cancel(ctx, task.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 cancelled, got %d", n)
	}
	if len(h.sched.Pending()) != 0 {
		t.Errorf("Expected no armed timers, got %d", len(h.sched.Pending()))
	}
	for _, r := range reminders {
		if got := h.reminder(t, r.ID); got.State != models.ReminderStateCancelled || got.JobRef != nil {
			t.Errorf("Expected cancelled reminder without job_ref, got %+v", got)
		}
	}

	h.restart()
	stats, err := h.sched.Rehydrate(ctx)
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if stats != (RehydrateStats{}) || len(h.sched.Pending()) != 0 {
		t.Errorf("Expected nothing re-armed, got %+v", stats)
	}

	h.queue.FireDue(base.Add(24 * time.Hour))
	if h.notifier.count() != 0 {
		t.Errorf("Expected no notifications, got %d", h.notifier.count())
	}
}

func TestScheduler_RehydrateVoidsCompletedTasks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	task := h.task(t, "Laundry")
	if _, err := h.sched.Schedule(ctx, task, instants(time.Hour)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	// Completed without cancelling, as if the process died in between
	if _, err := h.store.CompleteTask(ctx, task.ID, base); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	h.restart()
	stats, err := h.sched.Rehydrate(ctx)
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if stats != (RehydrateStats{Voided: 1}) {
		t.Errorf("Expected 1 voided, got %+v", stats)
	}
}

func TestScheduler_DispatchVoidsWhenTaskCompleted(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	task := h.task(t, "Laundry")
	reminders, err := h.sched.Schedule(ctx, task, instants(time.Hour))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if _, err := h.store.CompleteTask(ctx, task.ID, base); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	h.queue.FireDue(base.Add(time.Hour))
	if h.notifier.count() != 0 {
		t.Errorf("Expected no delivery for a completed task, got %d", h.notifier.count())
	}
	if got := h.reminder(t, reminders[0].ID); got.State != models.ReminderStateCancelled {
		t.Errorf("Expected cancelled, got %s", got.State)
	}
}

func TestScheduler_RetriesTransientFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	task := h.task(t, "Stand up")

	failures := 2
	h.notifier.sendFunc = func(context.Context, string) error {
		if failures > 0 {
			failures--
			return notify.Transient("test", errors.New("503"))
		}
		return nil
	}

	reminders, err := h.sched.Schedule(ctx, task, instants(time.Hour))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	id := reminders[0].ID

	h.clock.Set(base.Add(time.Hour))
	h.queue.FireDue(h.clock.Now())

	pending := h.sched.Pending()
	if len(pending) != 1 || !pending[0].At.Equal(base.Add(time.Hour+time.Second)) {
		t.Fatalf("Expected retry armed after initial backoff, got %+v", pending)
	}
	if got := h.reminder(t, id); got.State != models.ReminderStateScheduled || got.Attempts != 1 || got.LastError == nil {
		t.Errorf("Expected scheduled reminder with 1 attempt and last_error, got %+v", got)
	}

	for i := 0; i < 2; i++ {
		next := h.sched.Pending()[0].At
		h.clock.Set(next)
		h.queue.FireDue(next)
	}

	got := h.reminder(t, id)
	if got.State != models.ReminderStateFired || got.Attempts != 3 {
		t.Errorf("Expected fired after 3 attempts, got %+v", got)
	}
	if !got.FireAt.Equal(base.Add(time.Hour)) {
		t.Errorf("Expected fire_at unchanged by retries, got %v", got.FireAt)
	}
	if h.notifier.count() != 3 {
		t.Errorf("Expected 3 send attempts, got %d", h.notifier.count())
	}
}

func TestScheduler_DropsAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	task := h.task(t, "Stand up")
	h.notifier.sendFunc = func(context.Context, string) error {
		return notify.Transient("test", errors.New("unreachable"))
	}

	reminders, err := h.sched.Schedule(ctx, task, instants(time.Hour))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	h.clock.Set(base.Add(time.Hour))
	h.queue.FireDue(h.clock.Now())
	for len(h.sched.Pending()) > 0 {
		next := h.sched.Pending()[0].At
		h.clock.Set(next)
		h.queue.FireDue(next)
	}

	if h.notifier.count() != 3 {
		t.Errorf("Expected 3 attempts, got %d", h.notifier.count())
	}
	got := h.reminder(t, reminders[0].ID)
	if got.State != models.ReminderStateDropped || got.JobRef != nil {
		t.Errorf("Expected dropped reminder, got %+v", got)
	}
	stored, _ := h.store.GetTask(ctx, task.ID)
	if stored.Completed {
		t.Error("Expected task to stay pending after a dropped reminder")
	}
}

func TestScheduler_PermanentFailureDrops(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	task := h.task(t, "Stand up")
	h.notifier.sendFunc = func(context.Context, string) error { return errors.New("chat not found") }

	reminders, err := h.sched.Schedule(context.Background(), task, instants(time.Hour))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	h.queue.FireDue(base.Add(time.Hour))

	if h.notifier.count() != 1 || len(h.sched.Pending()) != 0 {
		t.Errorf("Expected a single attempt and no retry, got %d sends", h.notifier.count())
	}
	if got := h.reminder(t, reminders[0].ID); got.State != models.ReminderStateDropped {
		t.Errorf("Expected dropped, got %s", got.State)
	}
}

func TestScheduler_NotifierPanicIsContained(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	task := h.task(t, "Stand up")
	h.notifier.sendFunc = func(context.Context, string) error { panic("boom") }

	reminders, err := h.sched.Schedule(context.Background(), task, instants(time.Hour))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	h.queue.FireDue(base.Add(time.Hour))

	if got := h.reminder(t, reminders[0].ID); got.State != models.ReminderStateDropped {
		t.Errorf("Expected dropped, got %s", got.State)
	}
}

func TestScheduler_CancelDuringDispatchDoesNotRevive(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	task := h.task(t, "Feed cat")

	h.notifier.sendFunc = func(context.Context, string) error {
		if _, err := h.store.CompleteTask(ctx, task.ID, base); err != nil {
			t.Errorf("CompleteTask: %v", err)
		}
		if _, err := h.sched.Cancel(ctx, task.ID); err != nil {
			t.Errorf("Cancel: %v", err)
		}
		return nil
	}

	reminders, err := h.sched.Schedule(ctx, task, instants(time.Hour, 2*time.Hour))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	h.queue.FireDue(base.Add(time.Hour))

	if h.notifier.count() != 1 {
		t.Errorf("Expected the in-flight delivery to complete, got %d sends", h.notifier.count())
	}
	for _, r := range reminders {
		if got := h.reminder(t, r.ID); got.State != models.ReminderStateCancelled {
			t.Errorf("Expected reminder %s cancelled, got %s", r.ID, got.State)
		}
	}
	if len(h.sched.Pending()) != 0 {
		t.Errorf("Expected no timers left, got %d", len(h.sched.Pending()))
	}
}

func TestMessage(t *testing.T) {
	t.Parallel()
	plain := models.NewTask("Buy milk", models.DateOf(base), nil, base)
	if got := Message(plain); got != "Reminder: Buy milk" {
		t.Errorf("Unexpected message %q", got)
	}
}
