// Package rabbitmq implements pubsub.Provider on RabbitMQ queues.
//
// A stream maps to durable queues on the default exchange: the work queue
// itself, "<name>.dead" which receives terminated messages, and one
// "<name>.retry.<ms>" queue per backoff delay. A retry queue has a fixed
// x-message-ttl and dead-letters back to the work queue, so every message in
// it expires in arrival order. Attempts are carried in the x-attempts header
// because RabbitMQ does not count redeliveries.
package rabbitmq

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	headerSubject  = "x-subject"
	headerAttempts = "x-attempts"

	retrySuffix = ".retry"
	deadSuffix  = ".dead"
)

// Channel is the subset of *amqp.Channel used by this package.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// connection is the subset of *amqp.Connection used by the provider.
type connection interface {
	Channel() (Channel, error)
	Close() error
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

// declareQueues declares the work and dead queues of a stream.
func declareQueues(ch Channel, name string) error {
	if _, err := ch.QueueDeclare(name+deadSuffix, true, false, false, false, nil); err != nil {
		return err
	}
	_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": name + deadSuffix,
	})
	return err
}

// retryQueues declares one delay queue per distinct backoff on first use.
type retryQueues struct {
	ch     Channel
	stream string

	mu       sync.Mutex
	declared map[int64]string
}

func newRetryQueues(ch Channel, stream string) *retryQueues {
	return &retryQueues{ch: ch, stream: stream, declared: make(map[int64]string)}
}

func (r *retryQueues) queueFor(delay time.Duration) (string, error) {
	ms := delay.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.declared[ms]; ok {
		return name, nil
	}
	name := fmt.Sprintf("%s%s.%d", r.stream, retrySuffix, ms)
	if _, err := r.ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-message-ttl":             ms,
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": r.stream,
	}); err != nil {
		return "", fmt.Errorf("failed to declare retry queue %s: %w", name, err)
	}
	r.declared[ms] = name
	return name, nil
}

// names lists the retry queues declared so far.
func (r *retryQueues) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.declared))
	for _, name := range r.declared {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func attemptsOf(headers amqp.Table) int32 {
	if headers == nil {
		return 0
	}
	switch v := headers[headerAttempts].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	}
	return 0
}

func subjectOf(d amqp.Delivery) string {
	if s, ok := d.Headers[headerSubject].(string); ok {
		return s
	}
	return d.RoutingKey
}
