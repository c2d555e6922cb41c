package types

import "time"

// RetryPolicy defines how transient failures are retried.
// MaxAttempts counts every attempt including the first.
type RetryPolicy struct {
	MaxAttempts    int      `json:"maxAttempts" yaml:"max_attempts"`
	InitialBackoff Duration `json:"initialBackoff" yaml:"initial_backoff"`
	MaxBackoff     Duration `json:"maxBackoff" yaml:"max_backoff"`
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: Duration(DefaultInitialBackoff),
		MaxBackoff:     Duration(DefaultMaxBackoff),
	}
}

// Backoff returns min(initial * 2^(attempts-1), max) for attempts >= 1.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	base := time.Duration(p.InitialBackoff)
	if base <= 0 {
		base = DefaultInitialBackoff
	}
	limit := time.Duration(p.MaxBackoff)
	if limit <= 0 {
		limit = DefaultMaxBackoff
	}
	if attempts < 1 {
		attempts = 1
	}

	d := base
	for i := 1; i < attempts; i++ {
		if d >= limit/2 {
			return limit
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}

// Exhausted reports whether a job that has failed attempts times must stop.
func (p RetryPolicy) Exhausted(attempts int) bool {
	max := p.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return attempts >= max
}
