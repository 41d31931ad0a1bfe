package queue

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultConnectTimeout bounds how long Connect keeps retrying
const DefaultConnectTimeout = 2 * time.Minute

// Connect dials RabbitMQ with exponential backoff so that processes started
// alongside the broker wait for it instead of failing. Retries stop when ctx
// is cancelled or after maxElapsed (DefaultConnectTimeout when zero).
func Connect(ctx context.Context, amqpURL string, maxElapsed time.Duration, logger *zap.Logger) (*RabbitMQQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxElapsed <= 0 {
		maxElapsed = DefaultConnectTimeout
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = maxElapsed

	attempt := 0
	return backoff.RetryNotifyWithData(func() (*RabbitMQQueue, error) {
		attempt++
		return NewRabbitMQQueue(amqpURL, logger)
	}, backoff.WithContext(b, ctx), func(err error, delay time.Duration) {
		logger.Warn("rabbitmq_connect_retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_delay", delay),
			zap.Error(err),
		)
	})
}
