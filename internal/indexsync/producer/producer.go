// Package producer is the entry point CRUD handlers use after a successful
// commit. Enqueue reports failures to the caller; Notify never does.
package producer

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/syntrixbase/indexsync/internal/core/pubsub"
	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

// MaxSubjectLength is the longest subject published verbatim; longer ones
// are replaced by a hash.
const MaxSubjectLength = 1024

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("producer is closed")

// Enqueuer is what callers outside the pipeline depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *types.Job) error
}

// Options configures a Producer.
type Options struct {
	// StreamName is the subject prefix added by the publisher. It is only
	// used here to measure the full subject length.
	StreamName     string
	EnqueueTimeout time.Duration
	Metrics        types.Metrics
	Logger         *slog.Logger
}

// Producer publishes jobs to the durable queue.
type Producer struct {
	pub     pubsub.Publisher
	opts    Options
	metrics types.Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	wg     sync.WaitGroup
	closed bool
}

var _ Enqueuer = (*Producer)(nil)

func New(pub pubsub.Publisher, opts Options) *Producer {
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = types.DefaultEnqueueTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = types.NoopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Producer{
		pub:     pub,
		opts:    opts,
		metrics: opts.Metrics,
		logger:  opts.Logger.With("component", "producer"),
	}
}

// Enqueue validates job, fills in ID and EnqueuedAt when unset, and
// publishes it within the enqueue timeout. It does not wait for the index.
func (p *Producer) Enqueue(ctx context.Context, job *types.Job) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return p.enqueue(ctx, job)
}

func (p *Producer) enqueue(ctx context.Context, job *types.Job) error {
	if err := job.Validate(); err != nil {
		p.metrics.IncEnqueue(indexOf(job), "invalid")
		return err
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	job.Attempts = 0

	data, err := json.Marshal(job)
	if err != nil {
		p.metrics.IncEnqueue(job.IndexName, "invalid")
		return fmt.Errorf("%w: %v", types.ErrInvalidJob, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.EnqueueTimeout)
	defer cancel()

	subject := Subject(p.opts.StreamName, job)
	if err := p.pub.Publish(ctx, subject, data, pubsub.WithMsgID(MessageID(job))); err != nil {
		p.metrics.IncEnqueue(job.IndexName, "failure")
		return fmt.Errorf("enqueue %s: %w", job.Target(), err)
	}

	p.metrics.IncEnqueue(job.IndexName, "success")
	return nil
}

// Notify enqueues a copy of job in the background and only logs failures.
// The request context's cancellation does not abort it; the enqueue timeout
// does.
func (p *Producer) Notify(ctx context.Context, job *types.Job) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.logger.Warn("Dropping index job, producer closed", "tenantId", job.TenantID, "indexName", job.IndexName, "documentId", job.DocumentID)
		return
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	job = cloneJob(job)
	go func() {
		defer p.wg.Done()
		if err := p.enqueue(context.WithoutCancel(ctx), job); err != nil {
			p.logger.Error("Failed to enqueue index job",
				"tenantId", job.TenantID,
				"indexName", job.IndexName,
				"documentId", job.DocumentID,
				"action", job.Action,
				"error", err)
		}
	}()
}

// Close waits for pending Notify calls and closes the publisher.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	return p.pub.Close()
}

// Subject builds <b64(tenant)>.<index>.<b64(documentId)>. Index names that
// are not subject-safe are encoded too. When the full subject including the
// stream prefix exceeds MaxSubjectLength, hashed.<hex> is used instead.
func Subject(streamName string, job *types.Job) string {
	subject := fmt.Sprintf("%s.%s.%s",
		encode(job.TenantID), indexToken(job.IndexName), encode(job.DocumentID))

	full := subject
	if streamName != "" {
		full = streamName + "." + subject
	}
	if len(full) > MaxSubjectLength {
		sum := blake3.Sum256([]byte(full))
		return "hashed." + hex.EncodeToString(sum[:16])
	}
	return subject
}

// MessageID is the dedup id of a job: the same job published twice within
// the broker's duplicate window is stored once.
func MessageID(job *types.Job) string {
	h := blake3.New()
	payload, _ := json.Marshal(job.Payload)
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%d\x00", job.ID, job.TenantID, job.IndexName, job.DocumentID, job.Action, job.Version)
	_, _ = h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func cloneJob(job *types.Job) *types.Job {
	c := *job
	if job.Payload != nil {
		c.Payload = make(map[string]any, len(job.Payload))
		for k, v := range job.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

func encode(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func indexToken(s string) string {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return encode(s)
	}
	return s
}

func indexOf(job *types.Job) string {
	if job == nil {
		return ""
	}
	return job.IndexName
}
