package services

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/syntrixbase/indexsync/internal/config"
	"github.com/syntrixbase/indexsync/internal/core/kv"
	"github.com/syntrixbase/indexsync/internal/core/pubsub"
	"github.com/syntrixbase/indexsync/internal/core/pubsub/memory"
	natspubsub "github.com/syntrixbase/indexsync/internal/core/pubsub/nats"
	"github.com/syntrixbase/indexsync/internal/core/pubsub/rabbitmq"
	mongostore "github.com/syntrixbase/indexsync/internal/core/storage/mongo"
	"github.com/syntrixbase/indexsync/internal/core/storage/postgres"
	"github.com/syntrixbase/indexsync/internal/indexsync/adapter"
	"github.com/syntrixbase/indexsync/internal/indexsync/deadletter"
	"github.com/syntrixbase/indexsync/internal/indexsync/metrics"
	"github.com/syntrixbase/indexsync/internal/indexsync/producer"
	"github.com/syntrixbase/indexsync/internal/indexsync/reindex"
	"github.com/syntrixbase/indexsync/internal/indexsync/worker"
	"github.com/syntrixbase/indexsync/internal/server"
)

// Factories are package variables so tests can swap the external systems.
var providerFactory = func(ctx context.Context, cfg config.QueueConfig) (pubsub.Provider, error) {
	var p pubsub.Provider
	switch cfg.Backend {
	case config.QueueMemory:
		return memory.New(), nil
	case config.QueueRabbitMQ:
		rp, err := rabbitmq.NewProvider(cfg.RabbitMQURL)
		if err != nil {
			return nil, err
		}
		p = rp
	default:
		np, err := natspubsub.NewProvider(cfg.NatsURL)
		if err != nil {
			return nil, err
		}
		p = np
	}
	if c, ok := p.(pubsub.Connectable); ok {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return p, nil
}

var adapterFactory = func(cfg config.SearchConfig, m *Manager) (adapter.Adapter, error) {
	if cfg.Backend == config.SearchMemory {
		return adapter.NewMemory(cfg.Resolver()), nil
	}
	return adapter.NewElasticsearch(adapter.ElasticsearchOptions{
		Addresses:      cfg.Addresses,
		APIKey:         cfg.APIKey,
		Username:       cfg.Username,
		Password:       cfg.Password,
		RequestTimeout: cfg.RequestTimeout,
		Resolver:       cfg.Resolver(),
		Logger:         m.opts.Logger,
	})
}

var mongoFactory = func(ctx context.Context, cfg config.MongoConfig) (*mongostore.Provider, error) {
	return mongostore.NewProvider(ctx, cfg.URI, cfg.DatabaseName)
}

var postgresFactory = func(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	return postgres.Open(ctx, postgres.Options{DSN: cfg.DSN, MaxOpenConns: cfg.MaxOpenConns})
}

// sourcesFactory builds the reindex sources the configured entities need.
var sourcesFactory = func(m *Manager) (map[string]reindex.Source, error) {
	sources := make(map[string]reindex.Source)
	if m.mongo != nil {
		sources[reindex.SourceMongo] = reindex.NewMongoSource(m.mongo.Database())
	}
	if m.postgres != nil {
		sources[reindex.SourcePostgres] = reindex.NewPostgresSource(m.postgres)
	}
	return sources, nil
}

// Init opens every connection and builds the pipeline. On error, whatever
// was opened is released by Shutdown.
func (m *Manager) Init(ctx context.Context) error {
	m.initMetrics()

	if err := m.initStorage(ctx); err != nil {
		return err
	}
	if err := m.initQueue(ctx); err != nil {
		return err
	}
	if err := m.initDeadLetters(ctx); err != nil {
		return err
	}
	if err := m.initReindexer(); err != nil {
		return err
	}
	if m.opts.RunWorker {
		if err := m.initWorker(); err != nil {
			return err
		}
	}
	if m.opts.RunAdmin && m.cfg.Admin.Enabled {
		m.initAdminServer()
	}
	return nil
}

func (m *Manager) initMetrics() {
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.metrics = metrics.New(m.registry)
}

// needsLocalStore reports whether anything is configured to live in Pebble.
// Pebble takes an exclusive lock on its directory, so only one process can
// open it at a time.
func (m *Manager) needsLocalStore() bool {
	return m.cfg.DeadLetter.Backend == config.DeadLetterPebble ||
		m.cfg.Reindex.Checkpoints == config.CheckpointsPebble
}

func (m *Manager) initStorage(ctx context.Context) error {
	if m.needsLocalStore() {
		pc := m.cfg.Storage.Pebble
		store, err := kv.Open(kv.Options{
			Path:           pc.Path,
			InMemory:       pc.InMemory,
			BlockCacheSize: pc.BlockCacheSize,
			Logger:         m.opts.Logger,
		})
		if err != nil {
			return fmt.Errorf("failed to open local store %s (is another indexsync process using it? "+
				"set dead_letter.backend and reindex.checkpoints to mongo to share state): %w", pc.Path, err)
		}
		m.kvStore = store
	}

	needMongo := m.cfg.DeadLetter.Backend == config.DeadLetterMongo ||
		m.cfg.Reindex.Checkpoints == config.CheckpointsMongo ||
		m.cfg.Reindex.UsesSource(reindex.SourceMongo)
	if needMongo {
		provider, err := mongoFactory(ctx, m.cfg.Storage.Mongo)
		if err != nil {
			return fmt.Errorf("failed to connect to mongo: %w", err)
		}
		m.mongo = provider
	}

	if m.cfg.Reindex.UsesSource(reindex.SourcePostgres) {
		if m.cfg.Storage.Postgres.DSN == "" {
			return fmt.Errorf("postgres entities are configured but storage.postgres.dsn is empty")
		}
		db, err := postgresFactory(ctx, m.cfg.Storage.Postgres)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		m.postgres = db
	}
	return nil
}

func (m *Manager) initQueue(ctx context.Context) error {
	qc := m.cfg.Queue
	provider, err := providerFactory(ctx, qc)
	if err != nil {
		return fmt.Errorf("failed to create %s queue: %w", qc.Backend, err)
	}
	m.provider = provider

	pub, err := provider.NewPublisher(pubsub.PublisherOptions{
		StreamName:    qc.StreamName,
		SubjectPrefix: qc.StreamName,
		RetryAttempts: qc.RetryAttempts,
		Storage:       storageType(qc.Storage),
		OnPublish:     m.metrics.ObservePublish,
	})
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	m.producer = producer.New(pub, producer.Options{
		StreamName:     qc.StreamName,
		EnqueueTimeout: qc.EnqueueTimeout,
		Metrics:        m.metrics,
		Logger:         m.opts.Logger,
	})
	return nil
}

func (m *Manager) initDeadLetters(ctx context.Context) error {
	if m.cfg.DeadLetter.Backend == config.DeadLetterPebble {
		m.deadLetters = deadletter.NewPebbleStore(m.kvStore)
	} else {
		store := deadletter.NewMongoStore(m.mongo.Database(), m.cfg.DeadLetter.Collection)
		if err := store.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("failed to create dead-letter indexes: %w", err)
		}
		m.deadLetters = store
	}
	m.replayer = deadletter.NewReplayer(m.deadLetters, m.producer, m.opts.Logger)
	return nil
}

func (m *Manager) initReindexer() error {
	sources, err := sourcesFactory(m)
	if err != nil {
		return err
	}
	var checkpoints reindex.CheckpointStore
	if m.cfg.Reindex.Checkpoints == config.CheckpointsPebble {
		checkpoints = reindex.NewPebbleCheckpoints(m.kvStore)
	} else {
		checkpoints = reindex.NewMongoCheckpoints(m.mongo.Database(), "")
	}
	r, err := reindex.NewReindexer(m.producer, sources, reindex.Options{
		Entities:    m.cfg.Reindex.Entities,
		Checkpoints: checkpoints,
		Metrics:     m.metrics,
		Logger:      m.opts.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create reindexer: %w", err)
	}
	m.reindexer = r
	return nil
}

func (m *Manager) initWorker() error {
	a, err := adapterFactory(m.cfg.Search, m)
	if err != nil {
		return fmt.Errorf("failed to create search adapter: %w", err)
	}
	m.adapter = a

	qc := m.cfg.Queue
	wc := m.cfg.Worker
	consumer, err := m.provider.NewConsumer(pubsub.ConsumerOptions{
		StreamName:     qc.StreamName,
		ConsumerName:   qc.ConsumerName,
		FilterSubject:  qc.StreamName + ".>",
		ChannelBufSize: wc.NumWorkers,
		Storage:        storageType(qc.Storage),
		AckWait:        qc.AckWait,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	m.consumer = consumer

	processor := worker.NewProcessor(a, m.deadLetters, worker.ProcessorOptions{
		RetryPolicy: wc.Retry,
		TaskTimeout: wc.TaskTimeout,
		Metrics:     m.metrics,
		Logger:      m.opts.Logger,
	})
	m.pool = worker.NewPool(consumer, processor, worker.PoolOptions{
		NumWorkers:        wc.NumWorkers,
		LeaseRefresh:      qc.AckWait / 3,
		DrainTimeout:      wc.DrainTimeout,
		ShutdownTimeout:   wc.ShutdownTimeout,
		DepthPollInterval: wc.DepthPollInterval,
		Metrics:           m.metrics,
		Logger:            m.opts.Logger,
	})
	return nil
}

func (m *Manager) initAdminServer() {
	ac := m.cfg.Admin
	router := server.NewRouter(server.Dependencies{
		Enqueuer:    m.producer,
		DeadLetters: m.deadLetters,
		Replayer:    m.replayer,
		Reindexer:   m.reindexer,
		Gatherer:    m.registry,
	}, server.Options{
		JWTSecret:       ac.JWTSecret,
		DefaultPageSize: m.cfg.Reindex.PageSize,
		Logger:          m.opts.Logger,
	})
	m.servers = append(m.servers, &http.Server{
		Addr:         ac.Address,
		Handler:      router,
		ReadTimeout:  ac.ReadTimeout,
		WriteTimeout: ac.WriteTimeout,
	})
	m.serverNames = append(m.serverNames, "Admin API")
}

func storageType(s string) pubsub.StorageType {
	if s == "memory" {
		return pubsub.MemoryStorage
	}
	return pubsub.FileStorage
}
