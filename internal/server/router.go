// Package server is the admin HTTP API of the sync pipeline: health and
// metrics endpoints plus authenticated routes to enqueue jobs, browse and
// replay dead letters, and trigger a reindex.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syntrixbase/indexsync/internal/indexsync/deadletter"
	"github.com/syntrixbase/indexsync/internal/indexsync/producer"
	"github.com/syntrixbase/indexsync/internal/indexsync/reindex"
)

// Reindexer is the part of *reindex.Reindexer the API drives.
type Reindexer interface {
	Run(ctx context.Context, tenantID, entityType string, pageSize int, opts reindex.RunOptions) (int, error)
	Entities() []string
}

// Replayer is the part of *deadletter.Replayer the API drives.
type Replayer interface {
	Replay(ctx context.Context, ids []string) (int, error)
	ReplayAll(ctx context.Context, f deadletter.Filter) (int, error)
}

// Dependencies are the pipeline components behind the routes. A nil
// Gatherer disables /metrics.
type Dependencies struct {
	Enqueuer    producer.Enqueuer
	DeadLetters deadletter.Store
	Replayer    Replayer
	Reindexer   Reindexer
	Gatherer    prometheus.Gatherer
}

type Options struct {
	// JWTSecret enables HS256 bearer auth on /v1 when non-empty.
	JWTSecret       string
	DefaultPageSize int
	Logger          *slog.Logger
}

type handler struct {
	deps     Dependencies
	pageSize int
	logger   *slog.Logger
}

// NewRouter builds the admin API.
func NewRouter(deps Dependencies, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "admin-api")

	r := gin.New()
	r.Use(recoveryMiddleware(logger), requestIDMiddleware(), loggingMiddleware(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	h := &handler{deps: deps, pageSize: opts.DefaultPageSize, logger: logger}

	v1 := r.Group("/v1")
	if opts.JWTSecret != "" {
		v1.Use(requireAuth([]byte(opts.JWTSecret)))
	}
	{
		v1.POST("/jobs", h.enqueue)

		v1.GET("/dead-letters", h.listDeadLetters)
		v1.GET("/dead-letters/:id", h.getDeadLetter)
		v1.DELETE("/dead-letters/:id", h.deleteDeadLetter)
		v1.POST("/dead-letters/replay", h.replay)

		v1.GET("/reindex/entities", h.entities)
		v1.POST("/reindex", h.reindex)
	}
	return r
}
