package queue

import (
	"time"

	"github.com/google/uuid"
)

// JobType represents the type of job
type JobType string

const (
	// JobTypeReminderDelivery delivers one reminder message to the notification channels
	JobTypeReminderDelivery JobType = "reminder_delivery"
)

// DefaultMaxRetries bounds worker-side redelivery of a job
const DefaultMaxRetries = 3

// Job represents a job in the queue
type Job struct {
	ID         uuid.UUID      `json:"id"`
	Type       JobType        `json:"type"`
	ReminderID *uuid.UUID     `json:"reminder_id,omitempty"` // nil for ad-hoc test notifications
	TaskID     *uuid.UUID     `json:"task_id,omitempty"`
	Message    string         `json:"message"`
	NotBefore  *time.Time     `json:"not_before,omitempty"` // Earliest time to process job (nil = immediate)
	NotAfter   *time.Time     `json:"not_after,omitempty"`  // Latest time to process job (nil = no expiration)
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
}

// NewDeliveryJob creates a reminder delivery job
func NewDeliveryJob(message string, reminderID, taskID *uuid.UUID, now time.Time) *Job {
	return &Job{
		ID:         uuid.New(),
		Type:       JobTypeReminderDelivery,
		ReminderID: reminderID,
		TaskID:     taskID,
		Message:    message,
		Metadata:   make(map[string]any),
		CreatedAt:  now,
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}
}

// ShouldProcess checks if the job should be processed at now
func (j *Job) ShouldProcess(now time.Time) bool {
	if j.NotBefore != nil && now.Before(*j.NotBefore) {
		return false
	}
	return !j.IsExpired(now)
}

// IsExpired checks if the job has expired at now
func (j *Job) IsExpired(now time.Time) bool {
	if j.NotAfter == nil {
		return false
	}
	return now.After(*j.NotAfter)
}

// CanRetry checks if the job can be retried
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// IncrementRetry increments the retry count
func (j *Job) IncrementRetry() {
	j.RetryCount++
}
