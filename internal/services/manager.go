package services

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/syntrixbase/indexsync/internal/config"
	"github.com/syntrixbase/indexsync/internal/core/kv"
	"github.com/syntrixbase/indexsync/internal/core/pubsub"
	mongostore "github.com/syntrixbase/indexsync/internal/core/storage/mongo"
	"github.com/syntrixbase/indexsync/internal/indexsync/adapter"
	"github.com/syntrixbase/indexsync/internal/indexsync/deadletter"
	"github.com/syntrixbase/indexsync/internal/indexsync/metrics"
	"github.com/syntrixbase/indexsync/internal/indexsync/producer"
	"github.com/syntrixbase/indexsync/internal/indexsync/reindex"
	"github.com/syntrixbase/indexsync/internal/indexsync/worker"
)

// Options selects which long-running parts of the pipeline a process runs.
// The producer, dead-letter store and reindexer are always built.
type Options struct {
	RunWorker bool
	RunAdmin  bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager builds the sync pipeline from configuration and owns the lifetime
// of every connection it opens.
type Manager struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Prometheus

	kvStore  *kv.Store
	mongo    *mongostore.Provider
	postgres *sql.DB

	provider    pubsub.Provider
	producer    *producer.Producer
	adapter     adapter.Adapter
	deadLetters deadletter.Store
	replayer    *deadletter.Replayer
	reindexer   *reindex.Reindexer
	consumer    pubsub.Consumer
	pool        *worker.Pool

	servers     []*http.Server
	serverNames []string
	wg          sync.WaitGroup

	poolDone chan struct{}
	poolErr  error
	errMu    sync.Mutex
}

func NewManager(cfg *config.Config, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		opts:     opts,
		logger:   opts.Logger.With("component", "services"),
		poolDone: make(chan struct{}),
	}
}

// Producer is the enqueue side of the pipeline.
func (m *Manager) Producer() *producer.Producer {
	return m.producer
}

func (m *Manager) Adapter() adapter.Adapter {
	return m.adapter
}

func (m *Manager) DeadLetters() deadletter.Store {
	return m.deadLetters
}

func (m *Manager) Replayer() *deadletter.Replayer {
	return m.replayer
}

func (m *Manager) Reindexer() *reindex.Reindexer {
	return m.reindexer
}

// Registry holds the pipeline metrics plus the Go runtime collectors.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// PoolDone is closed when the worker pool returns. It never closes when the
// manager runs no worker.
func (m *Manager) PoolDone() <-chan struct{} {
	return m.poolDone
}

// PoolErr reports why the worker pool stopped, if it failed to start.
func (m *Manager) PoolErr() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.poolErr
}

func (m *Manager) setPoolErr(err error) {
	m.errMu.Lock()
	m.poolErr = err
	m.errMu.Unlock()
}

// Wait blocks until every background task started by Start has returned.
func (m *Manager) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// drainPollInterval is how often WaitDrained samples the queue.
var drainPollInterval = 20 * time.Millisecond

// WaitDrained blocks until the queue holds no unsettled job: everything was
// indexed or dead-lettered. It needs a manager built with RunWorker on a
// queue that reports its depth.
func (m *Manager) WaitDrained(ctx context.Context) error {
	reporter, ok := m.consumer.(pubsub.DepthReporter)
	if !ok {
		return errors.New("queue depth is not available")
	}
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		depth, err := reporter.Depth(ctx)
		if err != nil {
			return err
		}
		if depth == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.poolDone:
			return errors.New("worker pool stopped before the queue drained")
		case <-ticker.C:
		}
	}
}
