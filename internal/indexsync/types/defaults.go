package types

import "time"

const (
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 5 * time.Minute

	// DefaultTaskTimeout bounds a single adapter call.
	DefaultTaskTimeout = 10 * time.Second

	// DefaultDrainTimeout is how long shutdown waits for in-flight dispatches.
	DefaultDrainTimeout = 5 * time.Second

	// DefaultShutdownTimeout is how long shutdown waits for workers to finish.
	DefaultShutdownTimeout = 10 * time.Second

	DefaultNumWorkers     = 10
	DefaultPageSize       = 500
	DefaultEnqueueTimeout = 2 * time.Second
)

// ReasonInvalidPayload is the dead-letter reason for undecodable messages.
const ReasonInvalidPayload = "invalid_payload"
