// Package pubsub is the durable queue abstraction the sync pipeline runs on.
//
// Backends must provide at-least-once delivery: a message handed to a consumer
// stays owned by the queue until it is acknowledged, terminated, or its lease
// (ack wait) expires, after which it becomes visible again.
package pubsub

import (
	"context"
	"errors"
	"time"
)

// ErrLeaseLost is returned when a message is touched or settled after its
// lease ran out and the queue handed it to someone else.
var ErrLeaseLost = errors.New("message lease lost")

// Message represents a received message with acknowledgment controls.
type Message interface {
	// Data returns the raw message payload.
	Data() []byte

	// Subject returns the message subject/topic.
	Subject() string

	// Ack acknowledges successful processing.
	Ack() error

	// Nak signals processing failure, requesting redelivery.
	Nak() error

	// NakWithDelay requests redelivery after a delay.
	NakWithDelay(delay time.Duration) error

	// Term terminates the message (no redelivery).
	Term() error
	// InProgress extends the lease by another ack wait. Backends without
	// leases return nil.
	InProgress() error

	// Metadata returns delivery metadata.
	Metadata() (MessageMetadata, error)
}

// MessageMetadata contains delivery information about a message.
// NumDelivered starts at 1 for the first delivery.
type MessageMetadata struct {
	NumDelivered uint64
	Timestamp    time.Time
	Subject      string
	Stream       string
	Consumer     string
}

// Publisher publishes messages to a stream.
type Publisher interface {
	// Publish sends a message to the specified subject.
	Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error

	// Close releases resources.
	Close() error
}

// Consumer consumes messages from a stream.
type Consumer interface {
	// Subscribe starts consuming messages and returns a channel.
	// The channel is closed when the context is cancelled or an error occurs.
	// Caller is responsible for calling Ack/Nak/Term on each message.
	Subscribe(ctx context.Context) (<-chan Message, error)
}

// DepthReporter is implemented by consumers that can report how many
// messages are waiting or leased but not yet acknowledged.
type DepthReporter interface {
	Depth(ctx context.Context) (uint64, error)
}
