package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// Task is a single dated piece of work the user asked to be reminded about
type Task struct {
	ID              uuid.UUID  `json:"id"`
	Description     string     `json:"description"`
	Normalized      string     `json:"-"`
	Date            Date       `json:"date"`
	ExactTime       *TimeOfDay `json:"exact_time,omitempty"`
	Completed       bool       `json:"completed"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CalendarEventID *string    `json:"calendar_event_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NewTask creates an uncompleted task for one date
func NewTask(description string, date Date, exact *TimeOfDay, now time.Time) *Task {
	description = strings.TrimSpace(description)
	return &Task{
		ID:          uuid.New(),
		Description: description,
		Normalized:  NormalizeDescription(description),
		Date:        date,
		ExactTime:   exact,
		CreatedAt:   now,
	}
}

// HasExactTime reports whether the task is pinned to a clock time
func (t *Task) HasExactTime() bool {
	return t.ExactTime != nil
}

// NormalizeDescription produces the comparison key used for deduplication:
// trimmed, internal whitespace collapsed, case-folded.
func NormalizeDescription(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}
