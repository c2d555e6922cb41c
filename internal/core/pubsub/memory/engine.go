package memory

import (
	"time"

	"github.com/syntrixbase/indexsync/internal/core/pubsub"
)

var _ pubsub.Provider = (*Engine)(nil)

// DuplicateWindow is how long a message id suppresses re-publishes.
const DuplicateWindow = 2 * time.Minute

// Engine is the in-memory pubsub.Provider.
type Engine struct {
	broker *broker
}

// New creates a new in-memory pubsub engine.
func New() *Engine {
	return &Engine{broker: newBroker()}
}

func (e *Engine) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &memoryPublisher{broker: e.broker, opts: opts}, nil
}

func (e *Engine) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &memoryConsumer{broker: e.broker, opts: opts}, nil
}

// Close shuts down the engine and all subscriptions. Unacknowledged
// messages are lost.
func (e *Engine) Close() error {
	return e.broker.close()
}

func (e *Engine) IsClosed() bool {
	return e.broker.closed.Load()
}
