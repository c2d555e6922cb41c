package memory

import (
	"context"

	"github.com/syntrixbase/indexsync/internal/core/pubsub"
)

var _ pubsub.DepthReporter = (*memoryConsumer)(nil)

type memoryConsumer struct {
	broker *broker
	opts   pubsub.ConsumerOptions
}

func (c *memoryConsumer) pattern() string {
	if c.opts.FilterSubject != "" {
		return c.opts.FilterSubject
	}
	if c.opts.StreamName != "" {
		return c.opts.StreamName + ".>"
	}
	return ">"
}

// Subscribe starts consuming messages and returns a channel that is closed
// when ctx is cancelled. Only one subscription per pattern is allowed.
// ChannelBufSize is ignored: the channel is unbuffered.
func (c *memoryConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	if c.broker.closed.Load() {
		return nil, ErrEngineClosed
	}

	ackWait := c.opts.AckWait
	if ackWait <= 0 {
		ackWait = pubsub.DefaultAckWait
	}

	sub, err := c.broker.subscribe(ctx, c.pattern(), ackWait)
	if err != nil {
		return nil, err
	}
	return sub.msgCh, nil
}

// Depth counts queued, leased and delayed messages that are not yet settled.
func (c *memoryConsumer) Depth(ctx context.Context) (uint64, error) {
	if c.broker.closed.Load() {
		return 0, ErrEngineClosed
	}
	return c.broker.depth(c.pattern()), nil
}
