package nats

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/indexsync/internal/core/pubsub"
)

// DuplicateWindow is how long JetStream remembers message ids for dedup.
const DuplicateWindow = 2 * time.Minute

// JetStream is the subset of jetstream.JetStream used by this package.
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NewJetStream creates a JetStream context on an open connection.
func NewJetStream(nc *nats.Conn) (JetStream, error) {
	return jetstream.New(nc)
}

// streamConfig is shared by publishers and consumers so that whichever side
// creates the stream first, the other side's CreateOrUpdateStream is a no-op.
func streamConfig(name, prefix string, storage pubsub.StorageType) jetstream.StreamConfig {
	subject := name + ".>"
	if prefix != "" && prefix != name {
		subject = prefix + ".>"
	}

	st := jetstream.MemoryStorage
	if storage == pubsub.FileStorage {
		st = jetstream.FileStorage
	}

	return jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{subject},
		Storage:    st,
		Retention:  jetstream.WorkQueuePolicy,
		Duplicates: DuplicateWindow,
	}
}
