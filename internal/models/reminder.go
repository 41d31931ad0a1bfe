package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReminderState is the lifecycle state of a reminder
type ReminderState string

const (
	// ReminderStatePending is persisted with no timer armed
	ReminderStatePending ReminderState = "pending"
	// ReminderStateScheduled has a live timer
	ReminderStateScheduled ReminderState = "scheduled"
	// ReminderStateFired was delivered
	ReminderStateFired ReminderState = "fired"
	// ReminderStateCancelled was voided because its task was completed
	ReminderStateCancelled ReminderState = "cancelled"
	// ReminderStateDropped exhausted its delivery attempts
	ReminderStateDropped ReminderState = "dropped"
)

// UnfiredReminderStates are the states rehydration picks up
var UnfiredReminderStates = []ReminderState{ReminderStatePending, ReminderStateScheduled}

var reminderTransitions = map[ReminderState][]ReminderState{
	ReminderStatePending:   {ReminderStateScheduled, ReminderStateFired, ReminderStateCancelled, ReminderStateDropped},
	ReminderStateScheduled: {ReminderStateScheduled, ReminderStatePending, ReminderStateFired, ReminderStateCancelled, ReminderStateDropped},
}

// Terminal reports whether no further transition is allowed
func (s ReminderState) Terminal() bool {
	return len(reminderTransitions[s]) == 0
}

// CanTransition reports whether a reminder may move from one state to another
func CanTransition(from, to ReminderState) bool {
	for _, allowed := range reminderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Reminder is one fire instant belonging to a task
type Reminder struct {
	ID        uuid.UUID     `json:"id"`
	TaskID    uuid.UUID     `json:"task_id"`
	FireAt    time.Time     `json:"fire_at"`
	State     ReminderState `json:"state"`
	JobRef    *string       `json:"job_ref,omitempty"`
	Attempts  int           `json:"attempts"`
	LastError *string       `json:"last_error,omitempty"`
	FiredAt   *time.Time    `json:"fired_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewReminder creates a pending reminder for a task
func NewReminder(taskID uuid.UUID, fireAt time.Time, now time.Time) *Reminder {
	return &Reminder{
		ID:        uuid.New(),
		TaskID:    taskID,
		FireAt:    fireAt,
		State:     ReminderStatePending,
		CreatedAt: now,
	}
}

// Fired reports whether the reminder was delivered
func (r *Reminder) Fired() bool {
	return r.State == ReminderStateFired
}

// Transition moves the reminder to a new state if the move is allowed
func (r *Reminder) Transition(to ReminderState) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("reminder %s: invalid transition %s -> %s", r.ID, r.State, to)
	}
	r.State = to
	return nil
}

// JobRef returns the timer handle used for a reminder
func JobRef(id uuid.UUID) string {
	return "reminder:" + id.String()
}
