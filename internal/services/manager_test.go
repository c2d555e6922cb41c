package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/indexsync/internal/config"
	"github.com/syntrixbase/indexsync/internal/core/pubsub"
	pubsubtesting "github.com/syntrixbase/indexsync/internal/core/pubsub/testing"
	"github.com/syntrixbase/indexsync/internal/core/kv"
	mongostore "github.com/syntrixbase/indexsync/internal/core/storage/mongo"
	"github.com/syntrixbase/indexsync/internal/indexsync/adapter"
	"github.com/syntrixbase/indexsync/internal/indexsync/deadletter"
	"github.com/syntrixbase/indexsync/internal/indexsync/producer"
	"github.com/syntrixbase/indexsync/internal/indexsync/reindex"
	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

// testConfig runs everything in process: memory queue, memory index and an
// in-memory pebble store for dead letters and checkpoints.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Queue.Backend = config.QueueMemory
	cfg.Search.Backend = config.SearchMemory
	cfg.DeadLetter.Backend = config.DeadLetterPebble
	cfg.Reindex.Checkpoints = config.CheckpointsPebble
	cfg.Storage.Pebble.InMemory = true
	cfg.Admin.Enabled = false
	cfg.Worker.NumWorkers = 4
	cfg.Worker.DrainTimeout = time.Second
	cfg.Worker.ShutdownTimeout = time.Second
	cfg.Worker.Retry = types.RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: types.Duration(5 * time.Millisecond),
		MaxBackoff:     types.Duration(20 * time.Millisecond),
	}
	return cfg
}

func shutdown(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.Shutdown(ctx)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestManager_InitInMemory(t *testing.T) {
	m := NewManager(testConfig(), Options{RunWorker: true})
	require.NoError(t, m.Init(context.Background()))

	assert.NotNil(t, m.Producer())
	assert.IsType(t, &adapter.Memory{}, m.Adapter())
	assert.IsType(t, &deadletter.PebbleStore{}, m.DeadLetters())
	assert.NotNil(t, m.Replayer())
	assert.NotNil(t, m.Reindexer())
	assert.NotNil(t, m.Registry())
	assert.Empty(t, m.servers)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()
	shutdown(t, m)
	assert.NoError(t, m.PoolErr())
}

func TestManager_ProducerOnly(t *testing.T) {
	m := NewManager(testConfig(), Options{})
	require.NoError(t, m.Init(context.Background()))
	defer shutdown(t, m)

	assert.Nil(t, m.Adapter())
	assert.Nil(t, m.pool)
	require.NoError(t, m.Producer().Enqueue(context.Background(), &types.Job{
		TenantID: "acme", IndexName: "contacts", DocumentID: "c-1", Action: types.ActionDelete,
	}))
}

func TestManager_PublishLatencyIsRecorded(t *testing.T) {
	m := NewManager(testConfig(), Options{})
	require.NoError(t, m.Init(context.Background()))
	defer shutdown(t, m)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Producer().Enqueue(context.Background(), &types.Job{
			TenantID: "acme", IndexName: "contacts", DocumentID: fmt.Sprintf("c-%d", i), Action: types.ActionDelete,
		}))
	}

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var count uint64
	for _, f := range families {
		if f.GetName() != "indexsync_publish_duration_seconds" {
			continue
		}
		for _, metric := range f.GetMetric() {
			count += metric.GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(3), count)
}

func TestManager_QueueFailure(t *testing.T) {
	orig := providerFactory
	defer func() { providerFactory = orig }()
	providerFactory = func(ctx context.Context, cfg config.QueueConfig) (pubsub.Provider, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	m := NewManager(testConfig(), Options{RunWorker: true})
	err := m.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create memory queue")

	// Whatever Init opened is still released.
	shutdown(t, m)
}

func TestManager_QueueWiring(t *testing.T) {
	orig := providerFactory
	defer func() { providerFactory = orig }()
	mock := pubsubtesting.NewMockProvider()
	providerFactory = func(ctx context.Context, cfg config.QueueConfig) (pubsub.Provider, error) {
		return mock, nil
	}

	cfg := testConfig()
	cfg.Queue.StreamName = "CRM_INDEX"
	cfg.Queue.ConsumerName = "crm-workers"
	cfg.Queue.AckWait = 45 * time.Second
	m := NewManager(cfg, Options{RunWorker: true})
	require.NoError(t, m.Init(context.Background()))

	pubOpts := mock.PublisherOpts()
	require.Len(t, pubOpts, 1)
	assert.Equal(t, "CRM_INDEX", pubOpts[0].StreamName)
	assert.Equal(t, "CRM_INDEX", pubOpts[0].SubjectPrefix)

	consOpts := mock.ConsumerOpts()
	require.Len(t, consOpts, 1)
	assert.Equal(t, "crm-workers", consOpts[0].ConsumerName)
	assert.Equal(t, "CRM_INDEX.>", consOpts[0].FilterSubject)
	assert.Equal(t, 45*time.Second, consOpts[0].AckWait)

	job := upsert("acme", "contacts", "c-1", map[string]any{"name": "Ada"})
	require.NoError(t, m.Producer().Enqueue(context.Background(), job))
	published := mock.Publisher.Messages()
	require.Len(t, published, 1)
	// The publisher adds the stream prefix.
	assert.Equal(t, producer.Subject("CRM_INDEX", job), published[0].Subject)
	assert.Equal(t, producer.MessageID(job), published[0].MsgID)

	shutdown(t, m)
	assert.True(t, mock.IsClosed())
	assert.True(t, mock.Publisher.IsClosed())
}

func TestManager_ConsumerFailure(t *testing.T) {
	orig := providerFactory
	defer func() { providerFactory = orig }()
	mock := pubsubtesting.NewMockProvider()
	mock.SetConsumerError(errors.New("stream not found"))
	providerFactory = func(ctx context.Context, cfg config.QueueConfig) (pubsub.Provider, error) {
		return mock, nil
	}

	m := NewManager(testConfig(), Options{RunWorker: true})
	err := m.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create consumer")

	shutdown(t, m)
	assert.True(t, mock.IsClosed())
}

func TestManager_MongoFailure(t *testing.T) {
	orig := mongoFactory
	defer func() { mongoFactory = orig }()
	called := false
	mongoFactory = func(ctx context.Context, cfg config.MongoConfig) (*mongostore.Provider, error) {
		called = true
		return nil, errors.New("server selection timeout")
	}

	cfg := testConfig()
	cfg.DeadLetter.Backend = config.DeadLetterMongo
	m := NewManager(cfg, Options{})
	err := m.Init(context.Background())
	require.Error(t, err)
	assert.True(t, called)
	assert.Contains(t, err.Error(), "failed to connect to mongo")
	shutdown(t, m)
}

func TestManager_LocalStoreLocked(t *testing.T) {
	dir := t.TempDir()
	held, err := kv.Open(kv.Options{Path: dir})
	require.NoError(t, err)
	defer held.Close()

	cfg := testConfig()
	cfg.Storage.Pebble.InMemory = false
	cfg.Storage.Pebble.Path = dir
	m := NewManager(cfg, Options{})
	err = m.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is another indexsync process using it?")
	assert.Nil(t, m.kvStore)
	shutdown(t, m)
}

func TestManager_MongoStateSkipsLocalStore(t *testing.T) {
	dir := t.TempDir()
	held, err := kv.Open(kv.Options{Path: dir})
	require.NoError(t, err)
	defer held.Close()

	orig := mongoFactory
	defer func() { mongoFactory = orig }()
	mongoFactory = func(ctx context.Context, cfg config.MongoConfig) (*mongostore.Provider, error) {
		return nil, errors.New("server selection timeout")
	}

	// With both dead letters and checkpoints in mongo the locked pebble
	// directory is never touched; Init gets as far as dialing mongo.
	cfg := testConfig()
	cfg.DeadLetter.Backend = config.DeadLetterMongo
	cfg.Reindex.Checkpoints = config.CheckpointsMongo
	cfg.Storage.Pebble.InMemory = false
	cfg.Storage.Pebble.Path = dir
	m := NewManager(cfg, Options{})
	err = m.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to mongo")
	assert.Nil(t, m.kvStore)
	shutdown(t, m)
}

func TestManager_PostgresRequiresDSN(t *testing.T) {
	cfg := testConfig()
	cfg.Reindex.Entities = []reindex.Entity{{Name: "deals", Source: reindex.SourcePostgres}}
	cfg.Reindex.Entities[0].ApplyDefaults()

	m := NewManager(cfg, Options{})
	err := m.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn is empty")
	shutdown(t, m)
}

func TestManager_PostgresSource(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	orig := postgresFactory
	defer func() { postgresFactory = orig }()
	postgresFactory = func(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
		assert.Equal(t, "postgres://crm@localhost/crm", cfg.DSN)
		return db, nil
	}

	cfg := testConfig()
	cfg.Storage.Postgres.DSN = "postgres://crm@localhost/crm"
	cfg.Reindex.Entities = []reindex.Entity{{Name: "deals", Source: reindex.SourcePostgres}}

	m := NewManager(cfg, Options{})
	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, []string{"deals"}, m.Reindexer().Entities())

	shutdown(t, m)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_UnknownEntitySource(t *testing.T) {
	orig := mongoFactory
	defer func() { mongoFactory = orig }()
	mongoFactory = func(ctx context.Context, cfg config.MongoConfig) (*mongostore.Provider, error) {
		return nil, nil
	}

	cfg := testConfig()
	cfg.Reindex.Entities = []reindex.Entity{{Name: "contacts"}}

	m := NewManager(cfg, Options{})
	err := m.Init(context.Background())
	require.ErrorIs(t, err, reindex.ErrUnknownSource)
	shutdown(t, m)
}

func TestManager_AdminServer(t *testing.T) {
	cfg := testConfig()
	cfg.Admin.Enabled = true
	cfg.Admin.Address = freeAddr(t)

	m := NewManager(cfg, Options{RunWorker: true, RunAdmin: true})
	require.NoError(t, m.Init(context.Background()))
	require.Len(t, m.servers, 1)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	url := "http://" + cfg.Admin.Address
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(url + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	shutdown(t, m)

	_, err = http.Get(url + "/healthz")
	assert.Error(t, err)
}

func TestManager_AdminDisabled(t *testing.T) {
	m := NewManager(testConfig(), Options{RunAdmin: true})
	require.NoError(t, m.Init(context.Background()))
	defer shutdown(t, m)
	assert.Empty(t, m.servers)
}

func TestStorageType(t *testing.T) {
	assert.Equal(t, pubsub.MemoryStorage, storageType("memory"))
	assert.Equal(t, pubsub.FileStorage, storageType("file"))
}
