package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/syntrixbase/indexsync/internal/core/pubsub"
)

type rabbitPublisher struct {
	ch    Channel
	queue string
	opts  pubsub.PublisherOptions
}

// NewPublisher creates a publisher that declares the stream queues on ch.
func NewPublisher(ch Channel, opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if ch == nil {
		return nil, fmt.Errorf("channel cannot be nil")
	}
	if opts.StreamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if err := declareQueues(ch, opts.StreamName); err != nil {
		return nil, fmt.Errorf("failed to declare queues for %s: %w", opts.StreamName, err)
	}
	return &rabbitPublisher{ch: ch, queue: opts.StreamName, opts: opts}, nil
}

// Publish sends data to the stream queue. The subject travels in a header.
// RabbitMQ has no server-side dedup so the message id is informational.
func (p *rabbitPublisher) Publish(ctx context.Context, subject string, data []byte, opts ...pubsub.PublishOption) error {
	start := time.Now()
	cfg := pubsub.ApplyPublishOptions(opts)

	fullSubject := subject
	if p.opts.SubjectPrefix != "" {
		fullSubject = p.opts.SubjectPrefix + "." + subject
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    cfg.MsgID,
		Timestamp:    start,
		Body:         data,
		Headers: amqp.Table{
			headerSubject:  fullSubject,
			headerAttempts: int32(0),
		},
	}

	var err error
	for i := 0; i <= p.opts.RetryAttempts; i++ {
		if err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err == nil {
			break
		}
	}

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(fullSubject, err, time.Since(start))
	}
	return err
}

func (p *rabbitPublisher) Close() error {
	return p.ch.Close()
}
