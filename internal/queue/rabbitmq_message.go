package queue

import (
	"errors"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrAlreadySettled is returned when a delivery is acked or nacked twice.
// The broker closes the channel on a second settle, so it is never sent.
var ErrAlreadySettled = errors.New("delivery already settled")

// Message is one consumed delivery job
type Message struct {
	Job         *Job
	DeliveryTag uint64
	// Redelivered is set by the broker when the delivery was requeued
	Redelivered bool
	Channel     *amqp.Channel

	settled atomic.Bool
}

func newMessage(job *Job, d amqp.Delivery, ch *amqp.Channel) *Message {
	return &Message{Job: job, DeliveryTag: d.DeliveryTag, Redelivered: d.Redelivered, Channel: ch}
}

// Ack removes the delivery from the queue
func (m *Message) Ack() error {
	if !m.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return m.Channel.Ack(m.DeliveryTag, false)
}

// Nack rejects the delivery; without requeue it is dead-lettered
func (m *Message) Nack(requeue bool) error {
	if !m.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return m.Channel.Nack(m.DeliveryTag, false, requeue)
}

// GetJob returns the decoded job
func (m *Message) GetJob() *Job {
	return m.Job
}

var _ MessageInterface = (*Message)(nil)
