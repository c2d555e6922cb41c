package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/syntrixbase/indexsync/internal/core/pubsub"
)

// rabbitMessage adapts a delivery to pubsub.Message. Nak and NakWithDelay
// republish a copy with x-attempts bumped and then ack the original.
type rabbitMessage struct {
	d       amqp.Delivery
	ch      Channel
	queue   string
	retries *retryQueues
}

func (m *rabbitMessage) Data() []byte {
	return m.d.Body
}

func (m *rabbitMessage) Subject() string {
	return subjectOf(m.d)
}

func (m *rabbitMessage) Ack() error {
	return m.d.Ack(false)
}

func (m *rabbitMessage) Nak() error {
	return m.requeue(m.queue)
}

func (m *rabbitMessage) NakWithDelay(delay time.Duration) error {
	if delay <= 0 {
		return m.Nak()
	}
	queue, err := m.retries.queueFor(delay)
	if err != nil {
		_ = m.d.Nack(false, true)
		return err
	}
	return m.requeue(queue)
}

// InProgress is a no-op: an unacked delivery stays with this consumer until
// its channel closes.
func (m *rabbitMessage) InProgress() error {
	return nil
}

// Term sends the delivery to the dead queue.
func (m *rabbitMessage) Term() error {
	return m.d.Nack(false, false)
}

func (m *rabbitMessage) Metadata() (pubsub.MessageMetadata, error) {
	n := uint64(attemptsOf(m.d.Headers)) + 1
	if m.d.Redelivered {
		n++
	}
	return pubsub.MessageMetadata{
		NumDelivered: n,
		Timestamp:    m.d.Timestamp,
		Subject:      m.Subject(),
		Stream:       m.queue,
		Consumer:     m.d.ConsumerTag,
	}, nil
}

func (m *rabbitMessage) requeue(queue string) error {
	headers := amqp.Table{}
	for k, v := range m.d.Headers {
		headers[k] = v
	}
	headers[headerAttempts] = attemptsOf(m.d.Headers) + 1
	if _, ok := headers[headerSubject]; !ok {
		headers[headerSubject] = m.d.RoutingKey
	}

	pub := amqp.Publishing{
		ContentType:  m.d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    m.d.MessageId,
		Timestamp:    m.d.Timestamp,
		Headers:      headers,
		Body:         m.d.Body,
	}

	if err := m.ch.PublishWithContext(context.Background(), "", queue, false, false, pub); err != nil {
		// Let the broker redeliver the original instead.
		_ = m.d.Nack(false, true)
		return err
	}
	return m.d.Ack(false)
}
