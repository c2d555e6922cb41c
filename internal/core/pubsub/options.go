package pubsub

import "time"

// StorageType defines the storage backend for streams.
type StorageType int

const (
	// MemoryStorage stores data in memory.
	MemoryStorage StorageType = iota
	// FileStorage stores data on disk.
	FileStorage
)

// DefaultAckWait is the lease a consumer holds on a delivered message before
// the backend makes it visible again.
const DefaultAckWait = 30 * time.Second

// PublisherOptions configures publisher behavior.
type PublisherOptions struct {
	// StreamName is the name of the stream to publish to.
	StreamName string

	// SubjectPrefix is prepended to all subjects.
	SubjectPrefix string

	// RetryAttempts is the number of retry attempts for publishing.
	// 0 means no retry (default).
	RetryAttempts int

	// Storage is the storage type for the stream.
	Storage StorageType

	// OnPublish is called after each publish attempt (for metrics).
	OnPublish func(subject string, err error, latency time.Duration)
}

// ConsumerOptions configures consumer behavior.
type ConsumerOptions struct {
	// StreamName is the name of the stream to consume from.
	StreamName string

	// ConsumerName is the durable consumer name.
	ConsumerName string

	// FilterSubject filters messages by subject pattern.
	FilterSubject string

	// ChannelBufSize is the buffer size for the message channel.
	ChannelBufSize int

	// Storage is the storage type for the stream.
	Storage StorageType

	// AckWait is how long a delivered message stays invisible to other
	// consumers before it is redelivered. Zero means DefaultAckWait.
	AckWait time.Duration
}

// DefaultConsumerOptions returns ConsumerOptions with sensible defaults.
func DefaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{
		ChannelBufSize: 100,
		AckWait:        DefaultAckWait,
	}
}

// PublishConfig holds per-message publish settings.
type PublishConfig struct {
	// MsgID lets backends that support it drop duplicate publishes.
	MsgID string
}

// PublishOption configures a single Publish call.
type PublishOption func(*PublishConfig)

// WithMsgID sets the deduplication id of a message.
func WithMsgID(id string) PublishOption {
	return func(c *PublishConfig) {
		c.MsgID = id
	}
}

// ApplyPublishOptions folds opts into a PublishConfig.
func ApplyPublishOptions(opts []PublishOption) PublishConfig {
	var cfg PublishConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
