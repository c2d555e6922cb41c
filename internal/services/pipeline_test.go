package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/indexsync/internal/config"
	"github.com/syntrixbase/indexsync/internal/core/pubsub"
	mongostore "github.com/syntrixbase/indexsync/internal/core/storage/mongo"
	"github.com/syntrixbase/indexsync/internal/indexsync/adapter"
	"github.com/syntrixbase/indexsync/internal/indexsync/deadletter"
	"github.com/syntrixbase/indexsync/internal/indexsync/reindex"
	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

type pipeline struct {
	m      *Manager
	index  *adapter.Memory
	cancel context.CancelFunc
}

// startPipeline runs a full in-process pipeline. prepare runs after Init and
// before the workers start, which is where adapter hooks are installed.
func startPipeline(t *testing.T, mutate func(*config.Config), prepare func(*pipeline)) *pipeline {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	m := NewManager(cfg, Options{RunWorker: true})
	require.NoError(t, m.Init(context.Background()))

	p := &pipeline{m: m, index: m.Adapter().(*adapter.Memory)}
	if prepare != nil {
		prepare(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	m.Start(ctx)
	t.Cleanup(func() {
		cancel()
		shutdown(t, m)
	})
	return p
}

func (p *pipeline) enqueue(t *testing.T, job *types.Job) {
	t.Helper()
	require.NoError(t, p.m.Producer().Enqueue(context.Background(), job))
}

func (p *pipeline) deadLetters(t *testing.T) []*deadletter.Entry {
	entries, err := p.m.DeadLetters().List(context.Background(), deadletter.Filter{})
	assert.NoError(t, err)
	return entries
}

func upsert(tenant, index, id string, payload map[string]any) *types.Job {
	return &types.Job{TenantID: tenant, IndexName: index, DocumentID: id, Action: types.ActionUpsert, Payload: payload}
}

func TestPipeline_UpsertBecomesSearchable(t *testing.T) {
	p := startPipeline(t, nil, nil)

	p.enqueue(t, upsert("acme", "contacts", "c-1", map[string]any{"name": "Ada", "email": "ada@acme.io"}))

	require.Eventually(t, func() bool {
		doc, ok := p.index.Get("acme", "contacts", "c-1")
		return ok && doc["name"] == "Ada"
	}, waitFor, tick)
	doc, _ := p.index.Get("acme", "contacts", "c-1")
	assert.Equal(t, "acme", doc[adapter.TenantField])
	assert.Equal(t, 1, p.index.Count("crm-acme-contacts"))
	assert.Empty(t, p.deadLetters(t))
}

func TestPipeline_DeleteRemovesDocument(t *testing.T) {
	p := startPipeline(t, nil, nil)

	job := upsert("acme", "deals", "d-7", map[string]any{"amount": 1200})
	job.Version = 1
	p.enqueue(t, job)
	require.Eventually(t, func() bool {
		_, ok := p.index.Get("acme", "deals", "d-7")
		return ok
	}, waitFor, tick)

	p.enqueue(t, &types.Job{TenantID: "acme", IndexName: "deals", DocumentID: "d-7", Action: types.ActionDelete, Version: 2})
	require.Eventually(t, func() bool {
		_, ok := p.index.Get("acme", "deals", "d-7")
		return !ok
	}, waitFor, tick)

	// Deleting something that was never indexed is still a success.
	p.enqueue(t, &types.Job{TenantID: "acme", IndexName: "deals", DocumentID: "missing", Action: types.ActionDelete})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, p.deadLetters(t))
}

func TestPipeline_TransientFailuresAreRetried(t *testing.T) {
	var calls atomic.Int32
	p := startPipeline(t, nil, func(p *pipeline) {
		p.index.Hook = func(op, tenantID, indexName, documentID string) error {
			if calls.Add(1) <= 2 {
				return &types.StatusError{StatusCode: 503, Err: errors.New("cluster unavailable")}
			}
			return nil
		}
	})

	p.enqueue(t, upsert("acme", "contacts", "c-1", map[string]any{"name": "Ada"}))

	require.Eventually(t, func() bool {
		_, ok := p.index.Get("acme", "contacts", "c-1")
		return ok
	}, waitFor, tick)
	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, p.deadLetters(t))
}

func TestPipeline_ExhaustedRetriesAreDeadLettered(t *testing.T) {
	var calls atomic.Int32
	p := startPipeline(t, nil, func(p *pipeline) {
		p.index.Hook = func(op, tenantID, indexName, documentID string) error {
			calls.Add(1)
			return errors.New("timeout")
		}
	})

	p.enqueue(t, upsert("acme", "contacts", "c-1", map[string]any{"name": "Ada"}))

	require.Eventually(t, func() bool { return len(p.deadLetters(t)) == 1 }, waitFor, tick)
	entry := p.deadLetters(t)[0]
	assert.Equal(t, deadletter.ReasonMaxAttempts, entry.Reason)
	assert.Equal(t, 3, entry.Attempts)
	assert.Equal(t, "acme", entry.TenantID)
	assert.Equal(t, "c-1", entry.DocumentID)

	// The job terminates: no attempts after the dead letter.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, p.deadLetters(t), 1)
}

func TestPipeline_SlowFailuresKeepTheirLease(t *testing.T) {
	const docs = 6
	var mu sync.Mutex
	calls := map[string]int{}
	p := startPipeline(t, func(cfg *config.Config) {
		cfg.Queue.AckWait = 60 * time.Millisecond
		cfg.Worker.TaskTimeout = 40 * time.Millisecond
		cfg.Worker.NumWorkers = 1
	}, func(p *pipeline) {
		p.index.Hook = func(op, tenantID, indexName, documentID string) error {
			mu.Lock()
			calls[documentID]++
			mu.Unlock()
			time.Sleep(25 * time.Millisecond)
			return &types.StatusError{StatusCode: 503, Err: errors.New("cluster unavailable")}
		}
	})

	// Six jobs on one worker queue up for far longer than the ack wait.
	for i := 0; i < docs; i++ {
		p.enqueue(t, upsert("acme", "contacts", fmt.Sprintf("c-%d", i), map[string]any{"n": i}))
	}

	require.Eventually(t, func() bool { return p.depth() == 0 }, 5*time.Second, tick)
	entries := p.deadLetters(t)
	require.Len(t, entries, docs, "one dead letter per job")
	for _, e := range entries {
		assert.Equal(t, deadletter.ReasonMaxAttempts, e.Reason)
		assert.Equal(t, 3, e.Attempts, e.DocumentID)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, docs)
	for id, n := range calls {
		assert.Equal(t, 3, n, "attempts for %s", id)
	}
}

func TestPipeline_PermanentFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	var healthy atomic.Bool
	p := startPipeline(t, nil, func(p *pipeline) {
		p.index.Hook = func(op, tenantID, indexName, documentID string) error {
			calls.Add(1)
			if healthy.Load() {
				return nil
			}
			return types.Permanent(400, errors.New("mapper_parsing_exception"))
		}
	})

	p.enqueue(t, upsert("acme", "contacts", "c-1", map[string]any{"name": "Ada"}))

	require.Eventually(t, func() bool { return len(p.deadLetters(t)) == 1 }, waitFor, tick)
	entry := p.deadLetters(t)[0]
	assert.Equal(t, deadletter.ReasonPermanent, entry.Reason)
	assert.Equal(t, 400, entry.StatusCode)
	assert.Equal(t, int32(1), calls.Load())

	// After the mapping is fixed the dead letter can be replayed.
	healthy.Store(true)
	n, err := p.m.Replayer().ReplayAll(context.Background(), deadletter.Filter{TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Eventually(t, func() bool {
		_, ok := p.index.Get("acme", "contacts", "c-1")
		return ok
	}, waitFor, tick)
	assert.Empty(t, p.deadLetters(t))
}

func TestPipeline_Idempotent(t *testing.T) {
	p := startPipeline(t, nil, nil)

	for i := 0; i < 3; i++ {
		job := upsert("acme", "contacts", "c-1", map[string]any{"name": "Ada"})
		job.Version = 5
		p.enqueue(t, job)
	}
	require.Eventually(t, func() bool {
		return p.depth() == 0 && p.index.Count("crm-acme-contacts") == 1
	}, waitFor, tick)

	doc, ok := p.index.Get("acme", "contacts", "c-1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "Ada", adapter.TenantField: "acme"}, doc)
}

// depth counts unsettled jobs. It is polled from Eventually, so errors
// report a non-empty queue instead of failing the test.
func (p *pipeline) depth() uint64 {
	c, err := p.m.provider.NewConsumer(pubsub.ConsumerOptions{StreamName: p.m.cfg.Queue.StreamName})
	if err != nil {
		return ^uint64(0)
	}
	d, err := c.(pubsub.DepthReporter).Depth(context.Background())
	if err != nil {
		return ^uint64(0)
	}
	return d
}

func TestPipeline_StaleVersionDoesNotOverwrite(t *testing.T) {
	p := startPipeline(t, func(cfg *config.Config) { cfg.Worker.NumWorkers = 1 }, nil)

	newer := upsert("acme", "contacts", "c-1", map[string]any{"name": "Ada Lovelace"})
	newer.Version = 2
	p.enqueue(t, newer)
	older := upsert("acme", "contacts", "c-1", map[string]any{"name": "Ada"})
	older.Version = 1
	p.enqueue(t, older)

	require.Eventually(t, func() bool { return p.depth() == 0 }, waitFor, tick)
	doc, ok := p.index.Get("acme", "contacts", "c-1")
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", doc["name"])
}

func TestPipeline_TenantIsolation(t *testing.T) {
	for _, tenancy := range []adapter.Tenancy{adapter.TenancyPerTenant, adapter.TenancyShared} {
		t.Run(string(tenancy), func(t *testing.T) {
			p := startPipeline(t, func(cfg *config.Config) { cfg.Search.Tenancy = tenancy }, nil)

			p.enqueue(t, upsert("acme", "contacts", "c-1", map[string]any{"name": "Ada"}))
			p.enqueue(t, upsert("globex", "contacts", "c-1", map[string]any{"name": "Hank"}))
			require.Eventually(t, func() bool { return p.depth() == 0 }, waitFor, tick)

			acme, ok := p.index.Get("acme", "contacts", "c-1")
			require.True(t, ok)
			globex, ok := p.index.Get("globex", "contacts", "c-1")
			require.True(t, ok)
			assert.Equal(t, "Ada", acme["name"])
			assert.Equal(t, "acme", acme[adapter.TenantField])
			assert.Equal(t, "Hank", globex["name"])
			assert.Equal(t, "globex", globex[adapter.TenantField])

			// Deleting in one tenant leaves the other untouched.
			p.enqueue(t, &types.Job{TenantID: "acme", IndexName: "contacts", DocumentID: "c-1", Action: types.ActionDelete})
			require.Eventually(t, func() bool {
				_, ok := p.index.Get("acme", "contacts", "c-1")
				return !ok
			}, waitFor, tick)
			_, ok = p.index.Get("globex", "contacts", "c-1")
			assert.True(t, ok)
		})
	}
}

func TestPipeline_PinnedIndexRejectsOtherTenants(t *testing.T) {
	p := startPipeline(t, func(cfg *config.Config) {
		cfg.Search.Overrides = map[string]adapter.IndexOverride{
			"vip-contacts": {Index: "acme-vip", TenantID: "acme"},
		}
	}, nil)

	p.enqueue(t, upsert("globex", "vip-contacts", "c-1", map[string]any{"name": "Hank"}))

	require.Eventually(t, func() bool { return len(p.deadLetters(t)) == 1 }, waitFor, tick)
	assert.Equal(t, deadletter.ReasonPermanent, p.deadLetters(t)[0].Reason)
	assert.Zero(t, p.index.Count("acme-vip"))
}

func TestPipeline_RedeliveredAfterWorkerCrash(t *testing.T) {
	p := startPipeline(t, nil, func(p *pipeline) {
		p.enqueue(t, upsert("acme", "contacts", "c-1", map[string]any{"name": "Ada"}))

		// A worker takes the job and dies without settling it.
		crashed, err := p.m.provider.NewConsumer(pubsub.ConsumerOptions{
			FilterSubject: p.m.cfg.Queue.StreamName + ".*.*.*",
			AckWait:       50 * time.Millisecond,
		})
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		ch, err := crashed.Subscribe(ctx)
		require.NoError(t, err)
		select {
		case <-ch:
		case <-time.After(waitFor):
			t.Fatal("job was not delivered")
		}
		cancel()
		for range ch {
		}
	})

	require.Eventually(t, func() bool {
		_, ok := p.index.Get("acme", "contacts", "c-1")
		return ok
	}, waitFor, tick)
	assert.Empty(t, p.deadLetters(t))
}

func TestPipeline_BoundedConcurrency(t *testing.T) {
	const workers = 3
	var running, peak atomic.Int32
	p := startPipeline(t, func(cfg *config.Config) { cfg.Worker.NumWorkers = workers }, func(p *pipeline) {
		p.index.Hook = func(op, tenantID, indexName, documentID string) error {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return nil
		}
	})

	for i := 0; i < 30; i++ {
		p.enqueue(t, upsert("acme", "contacts", fmt.Sprintf("c-%02d", i), map[string]any{"n": i}))
	}

	require.Eventually(t, func() bool { return p.index.Count("crm-acme-contacts") == 30 }, waitFor, tick)
	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

// mapSource is a primary store held in memory.
type mapSource struct {
	mu   sync.Mutex
	rows map[string]map[string]map[string]any // tenant -> id -> fields
}

func (s *mapSource) Tenants(ctx context.Context, e reindex.Entity) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for tenant := range s.rows {
		out = append(out, tenant)
	}
	sort.Strings(out)
	return out, nil
}

func (s *mapSource) Page(ctx context.Context, e reindex.Entity, tenantID, after string, limit int) ([]reindex.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.rows[tenantID]))
	for id := range s.rows[tenantID] {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]reindex.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, reindex.Record{ID: id, Data: s.rows[tenantID][id]})
	}
	return out, nil
}

func TestPipeline_ReindexConverges(t *testing.T) {
	src := &mapSource{rows: map[string]map[string]map[string]any{"acme": {}, "globex": {}}}
	for i := 0; i < 25; i++ {
		src.rows["acme"][fmt.Sprintf("c-%02d", i)] = map[string]any{"name": fmt.Sprintf("contact %d", i)}
	}
	for i := 0; i < 4; i++ {
		src.rows["globex"][fmt.Sprintf("c-%02d", i)] = map[string]any{"name": fmt.Sprintf("lead %d", i)}
	}

	origMongo, origSources := mongoFactory, sourcesFactory
	t.Cleanup(func() { mongoFactory, sourcesFactory = origMongo, origSources })
	mongoFactory = func(ctx context.Context, cfg config.MongoConfig) (*mongostore.Provider, error) {
		return nil, nil
	}
	sourcesFactory = func(m *Manager) (map[string]reindex.Source, error) {
		return map[string]reindex.Source{reindex.SourceMongo: src}, nil
	}

	p := startPipeline(t, func(cfg *config.Config) {
		cfg.Reindex.Entities = []reindex.Entity{{Name: "contacts", Source: reindex.SourceMongo}}
	}, nil)

	// A stale document that the primary store still has gets overwritten.
	p.enqueue(t, upsert("acme", "contacts", "c-03", map[string]any{"name": "stale"}))

	n, err := p.m.Reindexer().Reindex(context.Background(), "acme", "contacts", 10)
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	require.Eventually(t, func() bool {
		doc, ok := p.index.Get("acme", "contacts", "c-03")
		return p.depth() == 0 && ok && doc["name"] == "contact 3"
	}, waitFor, tick)
	assert.Equal(t, 25, p.index.Count("crm-acme-contacts"))

	// Running again converges to the same state.
	n, err = p.m.Reindexer().Reindex(context.Background(), reindex.All, reindex.All, 7)
	require.NoError(t, err)
	assert.Equal(t, 29, n)
	require.Eventually(t, func() bool { return p.depth() == 0 }, waitFor, tick)
	assert.Equal(t, 25, p.index.Count("crm-acme-contacts"))
	assert.Equal(t, 4, p.index.Count("crm-globex-contacts"))
	doc, _ := p.index.Get("globex", "contacts", "c-02")
	assert.Equal(t, "lead 2", doc["name"])
}

func TestManager_WaitDrained(t *testing.T) {
	p := startPipeline(t, nil, nil)
	for i := 0; i < 5; i++ {
		p.enqueue(t, upsert("acme", "contacts", fmt.Sprintf("c-%d", i), map[string]any{"n": i}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, p.m.WaitDrained(ctx))
	assert.Equal(t, 5, p.index.Count("crm-acme-contacts"))
}

func TestManager_WaitDrainedStopsWithContext(t *testing.T) {
	release := make(chan struct{})
	p := startPipeline(t, nil, func(p *pipeline) {
		p.index.Hook = func(op, tenantID, indexName, documentID string) error {
			<-release
			return nil
		}
	})
	t.Cleanup(func() { close(release) })

	p.enqueue(t, upsert("acme", "contacts", "c-1", map[string]any{"name": "Ada"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.m.WaitDrained(ctx), context.DeadlineExceeded)
}

func TestManager_WaitDrainedNeedsWorker(t *testing.T) {
	m := NewManager(testConfig(), Options{})
	require.NoError(t, m.Init(context.Background()))
	defer shutdown(t, m)

	assert.ErrorContains(t, m.WaitDrained(context.Background()), "queue depth is not available")
}
