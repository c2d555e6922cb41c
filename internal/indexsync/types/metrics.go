package types

import "time"

// Metrics defines the interface for pipeline telemetry.
type Metrics interface {
	// Producer
	IncEnqueue(indexName, result string)

	// Worker
	IncProcessed(action Action, indexName string)
	IncFailed(action Action, indexName string, status int, permanent bool)
	IncRetried(action Action, indexName string)
	IncDeadLettered(indexName, reason string)
	ObserveJobDuration(action Action, indexName string, d time.Duration)
	SetQueueDepth(depth uint64)

	// Reindexer
	AddReindexEnqueued(entity string, n int)
}

// NoopMetrics is a no-op implementation of Metrics.
type NoopMetrics struct{}

func (NoopMetrics) IncEnqueue(indexName, result string)                                   {}
func (NoopMetrics) IncProcessed(action Action, indexName string)                          {}
func (NoopMetrics) IncFailed(action Action, indexName string, status int, permanent bool) {}
func (NoopMetrics) IncRetried(action Action, indexName string)                            {}
func (NoopMetrics) IncDeadLettered(indexName, reason string)                              {}
func (NoopMetrics) ObserveJobDuration(action Action, indexName string, d time.Duration)   {}
func (NoopMetrics) SetQueueDepth(depth uint64)                                            {}
func (NoopMetrics) AddReindexEnqueued(entity string, n int)                               {}
