package queue

import (
	"context"
	"time"
)

// MessageInterface is one consumed job that must be settled exactly once
type MessageInterface interface {
	Ack() error
	// Nack with requeue puts the job back; without it the job is dead-lettered
	Nack(requeue bool) error
	GetJob() *Job
}

// Publisher publishes delivery jobs
type Publisher interface {
	Enqueue(ctx context.Context, job *Job) error
}

// JobQueue publishes and consumes delivery jobs
type JobQueue interface {
	Publisher
	// Consume streams jobs until ctx is cancelled. At most prefetchCount
	// jobs are unsettled at a time. Both channels close when consumption stops.
	Consume(ctx context.Context, prefetchCount int) (<-chan *Message, <-chan error, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// DLQPurger removes dead-lettered jobs older than retention and reports how many were removed
type DLQPurger interface {
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int, error)
}
