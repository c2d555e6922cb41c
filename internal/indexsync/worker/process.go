// Package worker drains the job queue: it applies each job through the
// search adapter and decides between ack, delayed retry and dead-letter.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/syntrixbase/indexsync/internal/indexsync/adapter"
	"github.com/syntrixbase/indexsync/internal/indexsync/deadletter"
	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

// OutcomeKind is the terminal decision for one delivery.
type OutcomeKind int

const (
	Acked OutcomeKind = iota
	RetryScheduled
	DeadLettered
)

func (k OutcomeKind) String() string {
	switch k {
	case Acked:
		return "acked"
	case RetryScheduled:
		return "retry_scheduled"
	case DeadLettered:
		return "dead_lettered"
	}
	return "unknown"
}

// Outcome is what ProcessJob decided.
type Outcome struct {
	Kind   OutcomeKind
	Delay  time.Duration
	Reason string
	Err    error
}

// State maps the outcome to the job lifecycle.
func (o Outcome) State() types.JobState {
	switch o.Kind {
	case Acked:
		return types.StateAcked
	case RetryScheduled:
		return types.StateRetryScheduled
	default:
		return types.StateDeadLettered
	}
}

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	RetryPolicy types.RetryPolicy
	TaskTimeout time.Duration
	Metrics     types.Metrics
	Logger      *slog.Logger
}

// Processor runs a single job against the adapter.
type Processor struct {
	adapter adapter.Adapter
	sink    deadletter.Sink
	policy  types.RetryPolicy
	timeout time.Duration
	metrics types.Metrics
	logger  *slog.Logger
}

func NewProcessor(a adapter.Adapter, sink deadletter.Sink, opts ProcessorOptions) *Processor {
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = types.DefaultTaskTimeout
	}
	if opts.RetryPolicy.MaxAttempts <= 0 {
		opts.RetryPolicy.MaxAttempts = types.DefaultMaxAttempts
	}
	if opts.Metrics == nil {
		opts.Metrics = types.NoopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Processor{
		adapter: a,
		sink:    sink,
		policy:  opts.RetryPolicy,
		timeout: opts.TaskTimeout,
		metrics: opts.Metrics,
		logger:  opts.Logger.With("component", "worker"),
	}
}

// ProcessJob applies job and returns the decision. job.Attempts is the
// number of earlier failed attempts; data is the queued message kept for
// the dead-letter entry.
func (p *Processor) ProcessJob(ctx context.Context, job *types.Job, data []byte) Outcome {
	start := time.Now()
	err := p.apply(ctx, job)
	elapsed := time.Since(start)
	p.metrics.ObserveJobDuration(job.Action, job.IndexName, elapsed)

	log := p.logger.With(
		"jobId", job.ID,
		"action", job.Action,
		"tenantId", job.TenantID,
		"indexName", job.IndexName,
		"documentId", job.DocumentID,
		"durationMs", elapsed.Milliseconds(),
	)

	if err == nil {
		p.metrics.IncProcessed(job.Action, job.IndexName)
		log.Info("Index job applied", "attempts", job.Attempts+1, "status", types.StateAcked)
		return Outcome{Kind: Acked}
	}

	attempts := job.Attempts + 1
	permanent := types.IsPermanent(err)
	p.metrics.IncFailed(job.Action, job.IndexName, types.StatusCode(err), permanent)

	reason := deadletter.ReasonPermanent
	if !permanent {
		if !p.policy.Exhausted(attempts) {
			delay := p.policy.Backoff(attempts)
			p.metrics.IncRetried(job.Action, job.IndexName)
			log.Warn("Index job failed, retry scheduled",
				"attempts", attempts,
				"maxAttempts", p.policy.MaxAttempts,
				"backoff", delay,
				"status", types.StateRetryScheduled,
				"error", err)
			return Outcome{Kind: RetryScheduled, Delay: delay, Err: err}
		}
		reason = deadletter.ReasonMaxAttempts
	}

	failed := *job
	failed.Attempts = attempts
	if dlErr := p.sink.Write(ctx, deadletter.NewEntry(&failed, data, reason, err)); dlErr != nil {
		delay := p.policy.Backoff(attempts)
		log.Error("Dead-letter write failed, keeping job on the queue",
			"attempts", attempts, "backoff", delay, "error", err, "dlqError", dlErr)
		return Outcome{Kind: RetryScheduled, Delay: delay, Err: dlErr}
	}

	p.metrics.IncDeadLettered(job.IndexName, reason)
	log.Error("Index job dead-lettered",
		"attempts", attempts,
		"reason", reason,
		"statusCode", types.StatusCode(err),
		"status", types.StateDeadLettered,
		"error", err)
	return Outcome{Kind: DeadLettered, Reason: reason, Err: err}
}

// apply calls the adapter with the task timeout. A panic becomes a
// transient error.
func (p *Processor) apply(ctx context.Context, job *types.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var opts []adapter.WriteOption
	if job.Version > 0 {
		opts = append(opts, adapter.WithVersion(job.Version))
	}

	switch job.Action {
	case types.ActionUpsert:
		return p.adapter.Upsert(ctx, job.TenantID, job.IndexName, job.DocumentID, job.Payload, opts...)
	case types.ActionDelete:
		return p.adapter.Delete(ctx, job.TenantID, job.IndexName, job.DocumentID, opts...)
	default:
		return types.Permanent(0, fmt.Errorf("%w: unknown action %q", types.ErrInvalidJob, job.Action))
	}
}

// DeadLetterRaw records a message that could not be decoded.
func (p *Processor) DeadLetterRaw(ctx context.Context, subject string, data []byte, cause error) error {
	entry := deadletter.NewEntry(nil, data, types.ReasonInvalidPayload, cause)
	entry.Subject = subject
	if err := p.sink.Write(ctx, entry); err != nil {
		return err
	}
	p.metrics.IncDeadLettered("", types.ReasonInvalidPayload)
	p.logger.Error("Undecodable message dead-lettered", "subject", subject, "error", cause)
	return nil
}
