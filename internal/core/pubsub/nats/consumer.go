package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/indexsync/internal/core/pubsub"
)

// jetStreamConsumer implements pubsub.Consumer using a durable JetStream
// pull consumer with explicit acks. Redelivery after AckWait gives the
// lease semantics the worker pool relies on.
type jetStreamConsumer struct {
	js   JetStream
	opts pubsub.ConsumerOptions

	mu       sync.Mutex
	consumer jetstream.Consumer
}

var _ pubsub.DepthReporter = (*jetStreamConsumer)(nil)

// NewConsumer creates a new Consumer backed by NATS JetStream.
func NewConsumer(js JetStream, opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	if opts.StreamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}

	defaults := pubsub.DefaultConsumerOptions()
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = defaults.ChannelBufSize
	}
	if opts.AckWait <= 0 {
		opts.AckWait = defaults.AckWait
	}
	if opts.ConsumerName == "" {
		opts.ConsumerName = "consumer"
	}

	return &jetStreamConsumer{js: js, opts: opts}, nil
}

// Subscribe starts consuming messages and returns a channel.
func (c *jetStreamConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	if _, err := c.js.CreateOrUpdateStream(ctx, streamConfig(c.opts.StreamName, "", c.opts.Storage)); err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	filterSubject := c.opts.FilterSubject
	if filterSubject == "" {
		filterSubject = c.opts.StreamName + ".>"
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.opts.StreamName, jetstream.ConsumerConfig{
		Durable:       c.opts.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.opts.AckWait,
		MaxDeliver:    -1,
		MaxAckPending: c.opts.ChannelBufSize,
		FilterSubject: filterSubject,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	c.mu.Lock()
	c.consumer = consumer
	c.mu.Unlock()

	// Unbuffered: the server caps leased messages at MaxAckPending and the
	// pool takes each one only when a worker lane can accept it.
	msgCh := make(chan pubsub.Message)

	var closing atomic.Bool
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if closing.Load() {
			msg.Nak()
			return
		}
		select {
		case msgCh <- WrapMessage(msg):
		case <-ctx.Done():
			msg.Nak()
		}
	}, jetstream.PullMaxMessages(c.opts.ChannelBufSize))
	if err != nil {
		close(msgCh)
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	slog.Info("JetStream consumer subscribed",
		"stream", c.opts.StreamName,
		"consumer", c.opts.ConsumerName,
		"ack_wait", c.opts.AckWait)

	go func() {
		<-ctx.Done()
		closing.Store(true)
		cc.Stop()
		close(msgCh)
		slog.Info("JetStream consumer stopped", "stream", c.opts.StreamName)
	}()

	return msgCh, nil
}

// Depth reports pending plus unacknowledged messages for the durable consumer.
func (c *jetStreamConsumer) Depth(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	consumer := c.consumer
	c.mu.Unlock()

	if consumer == nil {
		return 0, fmt.Errorf("consumer not subscribed")
	}
	info, err := consumer.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.NumPending + uint64(info.NumAckPending), nil
}
