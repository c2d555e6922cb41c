package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/indexsync/internal/core/pubsub"
)

type memoryPublisher struct {
	broker *broker
	opts   pubsub.PublisherOptions
	closed atomic.Bool
}

// Publish sends a message to the specified subject.
func (p *memoryPublisher) Publish(ctx context.Context, subject string, data []byte, opts ...pubsub.PublishOption) error {
	if p.closed.Load() {
		return ErrEngineClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	cfg := pubsub.ApplyPublishOptions(opts)

	fullSubject := subject
	if p.opts.SubjectPrefix != "" {
		fullSubject = p.opts.SubjectPrefix + "." + subject
	}

	err := p.broker.publish(fullSubject, data, cfg.MsgID)

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(fullSubject, err, time.Since(start))
	}
	return err
}

func (p *memoryPublisher) Close() error {
	p.closed.Store(true)
	return nil
}
