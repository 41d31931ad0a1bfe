package notify

import (
	"context"
	"time"

	"github.com/benvon/smart-reminder/internal/queue"
)

const queueChannel = "queue"

// QueueNotifier hands messages to the delivery worker through the job queue.
// Delivery then happens out of process, so a successful publish counts as sent.
type QueueNotifier struct {
	publisher queue.Publisher
	now       func() time.Time
}

// NewQueueNotifier creates a notifier that publishes delivery jobs
func NewQueueNotifier(publisher queue.Publisher, now func() time.Time) *QueueNotifier {
	if now == nil {
		now = time.Now
	}
	return &QueueNotifier{publisher: publisher, now: now}
}

// Send publishes a delivery job for message
func (n *QueueNotifier) Send(ctx context.Context, message string) error {
	if n.publisher == nil {
		return ErrNotConfigured
	}
	reminderID, taskID := ReminderFromContext(ctx)
	job := queue.NewDeliveryJob(message, reminderID, taskID, n.now())
	if err := n.publisher.Enqueue(ctx, job); err != nil {
		return Transient(queueChannel, err)
	}
	return nil
}

var _ Notifier = (*QueueNotifier)(nil)
