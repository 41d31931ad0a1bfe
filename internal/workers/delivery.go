// Package workers consumes delivery jobs and runs periodic maintenance.
package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/smart-reminder/internal/clock"
	"github.com/benvon/smart-reminder/internal/models"
	"github.com/benvon/smart-reminder/internal/notify"
	"github.com/benvon/smart-reminder/internal/queue"
	"github.com/benvon/smart-reminder/internal/telemetry"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultRetryDelay is the first redelivery delay
	DefaultRetryDelay = 5 * time.Second
	// DefaultMaxRetryDelay caps the redelivery delay
	DefaultMaxRetryDelay = 5 * time.Minute
)

// TaskGetter loads a task by id
type TaskGetter interface {
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
}

// DeliveryWorker sends queued reminder deliveries through a notifier
type DeliveryWorker struct {
	notifier  notify.Notifier
	publisher queue.Publisher // For re-enqueueing jobs with delays
	tasks     TaskGetter
	clock     clock.Clock
	logger    *zap.Logger

	initialDelay time.Duration
	maxDelay     time.Duration
}

// NewDeliveryWorker creates a delivery worker. publisher and tasks may be nil:
// without a publisher failed deliveries are dead-lettered, without tasks every job is sent.
func NewDeliveryWorker(notifier notify.Notifier, publisher queue.Publisher, tasks TaskGetter, clk clock.Clock, logger *zap.Logger) *DeliveryWorker {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryWorker{
		notifier:     notifier,
		publisher:    publisher,
		tasks:        tasks,
		clock:        clk,
		logger:       logger,
		initialDelay: DefaultRetryDelay,
		maxDelay:     DefaultMaxRetryDelay,
	}
}

// retryDelay returns the exponential delay before attempt retryCount+1
func (w *DeliveryWorker) retryDelay(retryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialDelay
	b.MaxInterval = w.maxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	delay := b.NextBackOff()
	for i := 0; i < retryCount; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// ProcessMessage handles one delivery. The message is always settled: acked,
// requeued, re-enqueued with a delay or dead-lettered.
func (w *DeliveryWorker) ProcessMessage(ctx context.Context, msg queue.MessageInterface) error {
	job := msg.GetJob()
	if job == nil {
		if nackErr := msg.Nack(false); nackErr != nil {
			w.logger.Warn("delivery_nack_failed", zap.Error(nackErr))
		}
		return errors.New("message has no job")
	}
	ctx, span := telemetry.StartSpan(ctx, "reminder.deliver")
	defer span.End()
	log := w.logger.With(zap.String("job_id", job.ID.String()), zap.String("job_type", string(job.Type)))
	now := w.clock.Now()

	if job.IsExpired(now) {
		log.Info("delivery_expired", zap.Timep("not_after", job.NotAfter))
		if ackErr := msg.Ack(); ackErr != nil {
			return fmt.Errorf("failed to ack expired job: %w", ackErr)
		}
		return nil
	}
	if !job.ShouldProcess(now) {
		return w.deferEarlyJob(ctx, msg, job)
	}

	switch job.Type {
	case queue.JobTypeReminderDelivery:
		if w.taskCompleted(ctx, job) {
			log.Info("delivery_skipped_task_completed")
			if ackErr := msg.Ack(); ackErr != nil {
				return fmt.Errorf("failed to ack job: %w", ackErr)
			}
			return nil
		}
		if err := w.notifier.Send(ctx, job.Message); err != nil {
			return w.handleDeliveryError(ctx, msg, job, err)
		}
		log.Info("delivery_sent", zap.Int("retry_count", job.RetryCount))
		if ackErr := msg.Ack(); ackErr != nil {
			return fmt.Errorf("failed to ack job: %w", ackErr)
		}
		return nil

	default:
		if nackErr := msg.Nack(false); nackErr != nil { // Unknown job type, send to DLQ
			log.Warn("delivery_nack_failed", zap.Error(nackErr))
		}
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// deferEarlyJob parks a job that arrived before not_before. Re-publishing lets
// the queue hold it until then; a bare requeue would redeliver it at once.
func (w *DeliveryWorker) deferEarlyJob(ctx context.Context, msg queue.MessageInterface, job *queue.Job) error {
	log := w.logger.With(zap.String("job_id", job.ID.String()))
	log.Debug("delivery_not_ready", zap.Timep("not_before", job.NotBefore))

	if w.publisher != nil {
		enqueueErr := w.publisher.Enqueue(ctx, job)
		if enqueueErr == nil {
			if ackErr := msg.Ack(); ackErr != nil {
				return fmt.Errorf("failed to ack deferred job: %w", ackErr)
			}
			return nil
		}
		log.Warn("delivery_defer_failed", zap.Error(enqueueErr))
	}
	if nackErr := msg.Nack(true); nackErr != nil {
		return fmt.Errorf("failed to requeue early job: %w", nackErr)
	}
	return nil
}

func (w *DeliveryWorker) taskCompleted(ctx context.Context, job *queue.Job) bool {
	if w.tasks == nil || job.TaskID == nil {
		return false
	}
	task, err := w.tasks.GetTask(ctx, *job.TaskID)
	if err != nil {
		// Unknown or unreadable task: deliver anyway
		return false
	}
	return task.Completed
}

// handleDeliveryError retries transient failures and dead-letters the rest
func (w *DeliveryWorker) handleDeliveryError(ctx context.Context, msg queue.MessageInterface, job *queue.Job, err error) error {
	log := w.logger.With(zap.String("job_id", job.ID.String()))

	if !notify.IsTransient(err) {
		log.Error("delivery_failed_permanently", zap.Error(err))
		if nackErr := msg.Nack(false); nackErr != nil {
			log.Warn("delivery_nack_failed", zap.Error(nackErr))
		}
		return fmt.Errorf("delivery failed permanently: %w", err)
	}

	if !job.CanRetry() {
		log.Error("delivery_retries_exhausted", zap.Int("max_retries", job.MaxRetries), zap.Error(err))
		if nackErr := msg.Nack(false); nackErr != nil {
			log.Warn("delivery_nack_failed", zap.Error(nackErr))
		}
		return fmt.Errorf("delivery failed (max retries): %w", err)
	}

	if w.publisher != nil {
		delay := w.retryDelay(job.RetryCount)
		notBefore := w.clock.Now().Add(delay)
		delayed := *job
		delayed.NotBefore = &notBefore
		delayed.IncrementRetry()

		enqueueErr := w.publisher.Enqueue(ctx, &delayed)
		if enqueueErr == nil {
			if ackErr := msg.Ack(); ackErr != nil {
				log.Warn("delivery_ack_failed", zap.Error(ackErr))
			}
			log.Warn("delivery_retry_scheduled",
				zap.Int("retry_count", delayed.RetryCount),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			return fmt.Errorf("delivery failed (retry in %v): %w", delay, err)
		}
		log.Warn("delivery_reenqueue_failed", zap.Error(enqueueErr))
	}

	// A requeue would redeliver the original body with its old retry count
	log.Error("delivery_dead_lettered", zap.Int("retry_count", job.RetryCount), zap.Error(err))
	if nackErr := msg.Nack(false); nackErr != nil {
		log.Warn("delivery_nack_failed", zap.Error(nackErr))
	}
	return fmt.Errorf("delivery failed (no retry path): %w", err)
}

// Run consumes messages until ctx is cancelled or the channel closes
func (w *DeliveryWorker) Run(ctx context.Context, msgs <-chan *queue.Message, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Error("queue_error", zap.Error(err))
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Info("queue_channel_closed")
				return
			}
			if err := w.ProcessMessage(ctx, msg); err != nil {
				w.logger.Debug("delivery_not_completed", zap.Error(err))
			}
		}
	}
}
