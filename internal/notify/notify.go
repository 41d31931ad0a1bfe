// Package notify delivers reminder messages to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when a channel is missing its credentials
var ErrNotConfigured = errors.New("notification channel not configured")

// Notifier sends a message to a user-facing channel
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// TransientError marks a delivery failure that is worth retrying
type TransientError struct {
	Channel string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient delivery failure: %v", e.Channel, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure for channel
func Transient(channel string, err error) error {
	return &TransientError{Channel: channel, Err: err}
}

// IsTransient reports whether err, or anything it wraps, is retryable
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

type contextKey string

const (
	reminderIDContextKey contextKey = "reminder_id"
	taskIDContextKey     contextKey = "task_id"
)

// WithReminder attaches the reminder being delivered to ctx
func WithReminder(ctx context.Context, reminderID, taskID uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, reminderIDContextKey, reminderID)
	return context.WithValue(ctx, taskIDContextKey, taskID)
}

// ReminderFromContext returns the reminder and task attached by WithReminder
func ReminderFromContext(ctx context.Context) (reminderID, taskID *uuid.UUID) {
	if id, ok := ctx.Value(reminderIDContextKey).(uuid.UUID); ok {
		reminderID = &id
	}
	if id, ok := ctx.Value(taskIDContextKey).(uuid.UUID); ok {
		taskID = &id
	}
	return reminderID, taskID
}

// LogNotifier writes messages to the log; used when no channel is configured
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the message
func (n *LogNotifier) Send(ctx context.Context, message string) error {
	fields := []zap.Field{zap.String("message", message)}
	if reminderID, _ := ReminderFromContext(ctx); reminderID != nil {
		fields = append(fields, zap.String("reminder_id", reminderID.String()))
	}
	n.logger.Info("notification", fields...)
	return nil
}

// Multi fans a message out to several notifiers. It succeeds if any one does;
// otherwise the joined error is transient if any failure was.
type Multi struct {
	notifiers []Notifier
}

// NewMulti combines notifiers
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Send delivers to every notifier
func (m *Multi) Send(ctx context.Context, message string) error {
	if len(m.notifiers) == 0 {
		return ErrNotConfigured
	}

	var errs []error
	delivered := false
	for _, n := range m.notifiers {
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}

	joined := errors.Join(errs...)
	for _, err := range errs {
		if IsTransient(err) {
			return Transient("multi", joined)
		}
	}
	return joined
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Multi)(nil)
)
