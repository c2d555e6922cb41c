package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/syntrixbase/indexsync/internal/core/pubsub"
)

var _ pubsub.DepthReporter = (*rabbitConsumer)(nil)

type rabbitConsumer struct {
	ch      Channel
	opts    pubsub.ConsumerOptions
	retries *retryQueues
}

// NewConsumer creates a consumer on the stream's work queue.
func NewConsumer(ch Channel, opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if ch == nil {
		return nil, fmt.Errorf("channel cannot be nil")
	}
	if opts.StreamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	defaults := pubsub.DefaultConsumerOptions()
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = defaults.ChannelBufSize
	}
	if opts.ConsumerName == "" {
		opts.ConsumerName = "consumer"
	}
	return &rabbitConsumer{ch: ch, opts: opts, retries: newRetryQueues(ch, opts.StreamName)}, nil
}

// Subscribe declares the queues, caps unacked deliveries at ChannelBufSize
// and forwards deliveries until ctx is done. Cancelling stops the broker
// from sending more but leaves the channel open, so messages already handed
// out can still be settled while the caller drains. The channel is closed
// with the provider's connection.
func (c *rabbitConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	queue := c.opts.StreamName
	if err := declareQueues(c.ch, queue); err != nil {
		return nil, fmt.Errorf("failed to declare queues for %s: %w", queue, err)
	}
	if err := c.ch.Qos(c.opts.ChannelBufSize, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	deliveries, err := c.ch.Consume(queue, c.opts.ConsumerName, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %s: %w", queue, err)
	}

	out := make(chan pubsub.Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				c.stop(queue, deliveries)
				return
			case d, ok := <-deliveries:
				if !ok {
					slog.Warn("RabbitMQ delivery channel closed", "queue", queue)
					return
				}
				msg := &rabbitMessage{d: d, ch: c.ch, queue: queue, retries: c.retries}
				select {
				case out <- msg:
				case <-ctx.Done():
					_ = d.Nack(false, true)
					c.stop(queue, deliveries)
					return
				}
			}
		}
	}()
	return out, nil
}

// stop cancels the consumer and requeues whatever the broker had already
// pushed but nobody took.
func (c *rabbitConsumer) stop(queue string, deliveries <-chan amqp.Delivery) {
	if err := c.ch.Cancel(c.opts.ConsumerName, false); err != nil {
		slog.Warn("Failed to cancel RabbitMQ consumer", "queue", queue, "error", err)
		return
	}
	for d := range deliveries {
		_ = d.Nack(false, true)
	}
}

// Depth reports ready messages in the work queue and the retry queues this
// consumer declared. Unacked deliveries are not included because RabbitMQ
// does not expose them here.
func (c *rabbitConsumer) Depth(ctx context.Context) (uint64, error) {
	var total uint64
	for _, name := range append([]string{c.opts.StreamName}, c.retries.names()...) {
		q, err := c.ch.QueueDeclarePassive(name, true, false, false, false, nil)
		if err != nil {
			return 0, fmt.Errorf("failed to inspect queue %s: %w", name, err)
		}
		total += uint64(q.Messages)
	}
	return total, nil
}
