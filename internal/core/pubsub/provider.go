package pubsub

import (
	"context"
	"io"
)

// Provider creates publishers and consumers on one broker connection.
// The sync pipeline picks the implementation (JetStream, RabbitMQ, in-memory)
// from configuration; callers only see this interface.
type Provider interface {
	io.Closer

	// NewPublisher creates a new Publisher with the given options.
	NewPublisher(opts PublisherOptions) (Publisher, error)

	// NewConsumer creates a new Consumer with the given options.
	NewConsumer(opts ConsumerOptions) (Consumer, error)
}

// Connectable is implemented by providers that dial a broker before use.
// The in-memory engine does not implement it.
type Connectable interface {
	Connect(ctx context.Context) error
}
