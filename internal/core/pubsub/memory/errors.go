// Package memory provides an in-process durable-queue emulation used in
// standalone mode and in tests. It honours the same lease, Nak and Term
// semantics as the JetStream backend but keeps everything in memory.
package memory

import "errors"

var (
	// ErrEngineClosed is returned when operating on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrPatternSubscribed is returned when a pattern already has a subscriber.
	ErrPatternSubscribed = errors.New("pattern already has a subscriber")
)
