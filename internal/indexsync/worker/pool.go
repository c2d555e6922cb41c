package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/syntrixbase/indexsync/internal/core/pubsub"
	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

// DefaultDepthPollInterval is how often queue depth is sampled.
const DefaultDepthPollInterval = 15 * time.Second

// DefaultLeaseRefresh is a third of the default ack wait.
const DefaultLeaseRefresh = pubsub.DefaultAckWait / 3

// PoolOptions configures a Pool. Zero values take the defaults.
type PoolOptions struct {
	NumWorkers int
	// LeaseRefresh is how often the lease of every message the pool holds
	// is extended. It must be well below the queue's ack wait.
	LeaseRefresh      time.Duration
	DrainTimeout      time.Duration
	ShutdownTimeout   time.Duration
	DepthPollInterval time.Duration
	Metrics           types.Metrics
	Logger            *slog.Logger
}

type delivery struct {
	msg pubsub.Message
	job *types.Job
}

// Pool runs a fixed number of workers fed from the queue. Messages for the
// same target always land on the same worker, so one process applies them
// in delivery order. Lanes are unbuffered: the pool takes a message off the
// queue only when a worker can start on it soon, and keeps its lease alive
// until it is settled.
type Pool struct {
	consumer  pubsub.Consumer
	processor *Processor
	opts      PoolOptions
	metrics   types.Metrics
	logger    *slog.Logger

	lanes []chan delivery
	wg    sync.WaitGroup

	heldMu sync.Mutex
	held   map[pubsub.Message]struct{}

	closing       atomic.Bool
	inFlightCount atomic.Int32
}

func NewPool(consumer pubsub.Consumer, processor *Processor, opts PoolOptions) *Pool {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = types.DefaultNumWorkers
	}
	if opts.LeaseRefresh <= 0 {
		opts.LeaseRefresh = DefaultLeaseRefresh
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = types.DefaultDrainTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = types.DefaultShutdownTimeout
	}
	if opts.DepthPollInterval <= 0 {
		opts.DepthPollInterval = DefaultDepthPollInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = types.NoopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{
		consumer:  consumer,
		processor: processor,
		opts:      opts,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("component", "worker-pool"),
		held:      make(map[pubsub.Message]struct{}),
	}
}

// Start consumes until ctx is cancelled, then drains and stops the workers.
func (p *Pool) Start(ctx context.Context) error {
	msgCh, err := p.consumer.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	p.lanes = make([]chan delivery, p.opts.NumWorkers)
	for i := range p.lanes {
		p.lanes[i] = make(chan delivery)
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}

	// Leases are kept alive until the last worker is done, past ctx.
	leaseCtx, stopLeases := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLeases()
	go p.refreshLeases(leaseCtx)

	if reporter, ok := p.consumer.(pubsub.DepthReporter); ok {
		go p.pollDepth(ctx, reporter)
	}

	p.logger.Info("Worker pool started, waiting for jobs", "num_workers", p.opts.NumWorkers)

	for msg := range msgCh {
		p.dispatch(ctx, msg)
	}

	p.logger.Info("Stopping worker pool...")
	p.closing.Store(true)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), p.opts.DrainTimeout)
	defer drainCancel()
	p.waitForDrain(drainCtx)

	for _, ch := range p.lanes {
		close(ch)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), p.opts.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-done:
		p.logger.Info("All workers stopped gracefully")
	case <-shutdownCtx.Done():
		p.logger.Warn("Shutdown timeout exceeded, some workers may still be running")
	}
	return nil
}

func (p *Pool) waitForDrain(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.inFlightCount.Load() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			p.logger.Warn("Drain timeout, messages still in-flight", "remaining", p.inFlightCount.Load())
			return
		case <-ticker.C:
		}
	}
}

// dispatch decodes msg and hands it to the lane owning its target. It
// blocks while that worker is busy; the message's lease is refreshed
// meanwhile.
func (p *Pool) dispatch(ctx context.Context, msg pubsub.Message) {
	p.inFlightCount.Add(1)
	defer p.inFlightCount.Add(-1)

	if p.closing.Load() {
		p.logger.Warn("Worker pool is closing, NAK message for redelivery")
		_ = msg.Nak()
		return
	}

	job, err := types.DecodeJob(msg.Data())
	if err != nil {
		if dlErr := p.processor.DeadLetterRaw(ctx, msg.Subject(), msg.Data(), err); dlErr != nil {
			p.logger.Error("Failed to dead-letter undecodable message", "subject", msg.Subject(), "error", dlErr)
			_ = msg.NakWithDelay(p.processor.policy.Backoff(1))
			return
		}
		_ = msg.Term()
		return
	}

	p.hold(msg)
	p.lanes[p.laneFor(job.Target())] <- delivery{msg: msg, job: job}
}

func (p *Pool) hold(msg pubsub.Message) {
	p.heldMu.Lock()
	p.held[msg] = struct{}{}
	p.heldMu.Unlock()
}

func (p *Pool) release(msg pubsub.Message) {
	p.heldMu.Lock()
	delete(p.held, msg)
	p.heldMu.Unlock()
}

func (p *Pool) heldMessages() []pubsub.Message {
	p.heldMu.Lock()
	defer p.heldMu.Unlock()
	out := make([]pubsub.Message, 0, len(p.held))
	for msg := range p.held {
		out = append(out, msg)
	}
	return out
}

// refreshLeases extends the lease of every held message, whether it waits
// for its lane or is being processed.
func (p *Pool) refreshLeases(ctx context.Context) {
	ticker := time.NewTicker(p.opts.LeaseRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, msg := range p.heldMessages() {
				if err := msg.InProgress(); err != nil && !errors.Is(err, pubsub.ErrLeaseLost) {
					p.logger.Debug("Failed to extend lease", "subject", msg.Subject(), "error", err)
				}
			}
		}
	}
}

func (p *Pool) laneFor(t types.Target) int {
	h := xxhash.New()
	_, _ = h.WriteString(t.TenantID)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(t.IndexName)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(t.DocumentID)
	return int(h.Sum64() % uint64(len(p.lanes)))
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	defer p.wg.Done()

	for d := range p.lanes[id] {
		p.handle(ctx, id, d.msg, d.job)
	}
}

func (p *Pool) handle(ctx context.Context, id int, msg pubsub.Message, job *types.Job) {
	defer p.release(msg)

	// A delivery whose lease ran out has been handed out again; processing
	// it here would run the job twice and miscount its attempts.
	if err := msg.InProgress(); errors.Is(err, pubsub.ErrLeaseLost) {
		p.logger.Warn("Skipping message whose lease expired before processing",
			"worker_id", id, "subject", msg.Subject())
		return
	}

	md, err := msg.Metadata()
	if err != nil {
		p.logger.Error("Failed to get message metadata", "worker_id", id, "error", err)
		_ = msg.Nak()
		return
	}
	job.Attempts = 0
	if md.NumDelivered > 0 {
		job.Attempts = int(md.NumDelivered) - 1
	}

	// A cancelled pool context must not turn into a failed attempt.
	outcome := p.processor.ProcessJob(context.WithoutCancel(ctx), job, msg.Data())

	var settleErr error
	switch outcome.Kind {
	case Acked:
		settleErr = msg.Ack()
	case RetryScheduled:
		settleErr = msg.NakWithDelay(outcome.Delay)
	case DeadLettered:
		settleErr = msg.Term()
	}
	if settleErr != nil {
		p.logger.Warn("Failed to settle message", "worker_id", id, "outcome", outcome.Kind, "error", settleErr)
	}
}

func (p *Pool) pollDepth(ctx context.Context, reporter pubsub.DepthReporter) {
	ticker := time.NewTicker(p.opts.DepthPollInterval)
	defer ticker.Stop()

	sample := func() {
		depth, err := reporter.Depth(ctx)
		if err != nil {
			p.logger.Debug("Failed to read queue depth", "error", err)
			return
		}
		p.metrics.SetQueueDepth(depth)
	}

	sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}
