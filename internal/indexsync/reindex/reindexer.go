package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syntrixbase/indexsync/internal/indexsync/producer"
	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

// Options configures a Reindexer.
type Options struct {
	Entities []Entity
	// Checkpoints is optional; without it runs cannot resume.
	Checkpoints CheckpointStore
	Metrics     types.Metrics
	Logger      *slog.Logger
}

// RunOptions tunes a single Reindex call.
type RunOptions struct {
	// Resume starts each target after its saved checkpoint.
	Resume bool
}

// Reindexer pages through primary-store entities and enqueues an UPSERT
// for every record. Running it twice converges to the same index state.
type Reindexer struct {
	enqueuer    producer.Enqueuer
	sources     map[string]Source
	entities    []Entity
	checkpoints CheckpointStore
	metrics     types.Metrics
	logger      *slog.Logger
}

// NewReindexer builds a reindexer. sources is keyed by Entity.Source.
func NewReindexer(enq producer.Enqueuer, sources map[string]Source, opts Options) (*Reindexer, error) {
	if opts.Metrics == nil {
		opts.Metrics = types.NoopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	entities := make([]Entity, 0, len(opts.Entities))
	for _, e := range opts.Entities {
		e.ApplyDefaults()
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, ok := sources[e.Source]; !ok {
			return nil, fmt.Errorf("entity %s: no %s source configured: %w", e.Name, e.Source, ErrUnknownSource)
		}
		entities = append(entities, e)
	}
	return &Reindexer{
		enqueuer:    enq,
		sources:     sources,
		entities:    entities,
		checkpoints: opts.Checkpoints,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With("component", "reindexer"),
	}, nil
}

// Entities returns the configured entity names.
func (r *Reindexer) Entities() []string {
	names := make([]string, len(r.entities))
	for i, e := range r.entities {
		names[i] = e.Name
	}
	return names
}

// Reindex enqueues every record of entityType for tenantID. Either may be
// All. A failing (tenant, entity) target does not stop the others; the
// returned count covers everything enqueued and err joins every failure.
func (r *Reindexer) Reindex(ctx context.Context, tenantID, entityType string, pageSize int) (int, error) {
	return r.Run(ctx, tenantID, entityType, pageSize, RunOptions{})
}

// Run is Reindex with per-run options.
func (r *Reindexer) Run(ctx context.Context, tenantID, entityType string, pageSize int, opts RunOptions) (int, error) {
	if tenantID == "" {
		return 0, errors.New("tenant is required")
	}
	if pageSize <= 0 {
		pageSize = types.DefaultPageSize
	}
	entities, err := r.selectEntities(entityType)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	total := 0
	var errs []error
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		src := r.sources[e.Source]

		tenants := []string{tenantID}
		if tenantID == All {
			tenants, err = src.Tenants(ctx, e)
			if err != nil {
				errs = append(errs, fmt.Errorf("entity %s: failed to list tenants: %w", e.Name, err))
				continue
			}
		}

		entityTotal := 0
		for _, tenant := range tenants {
			n, err := r.reindexTarget(ctx, src, e, tenant, pageSize, opts.Resume)
			entityTotal += n
			if err != nil {
				errs = append(errs, fmt.Errorf("entity %s tenant %s: %w", e.Name, tenant, err))
			}
		}
		r.metrics.AddReindexEnqueued(e.Name, entityTotal)
		total += entityTotal
	}

	err = errors.Join(errs...)
	log := r.logger.With("tenantId", tenantID, "entity", entityType, "enqueued", total, "durationMs", time.Since(start).Milliseconds())
	if err != nil {
		log.Error("Reindex finished with failures", "failures", len(errs), "error", err)
	} else {
		log.Info("Reindex finished")
	}
	return total, err
}

func (r *Reindexer) selectEntities(entityType string) ([]Entity, error) {
	if entityType == All {
		return r.entities, nil
	}
	for _, e := range r.entities {
		if e.Name == entityType {
			return []Entity{e}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, entityType)
}

// reindexTarget pages through one (entity, tenant) pair, checkpointing the
// cursor after every page.
func (r *Reindexer) reindexTarget(ctx context.Context, src Source, e Entity, tenantID string, pageSize int, resume bool) (int, error) {
	cursor := ""
	if resume && r.checkpoints != nil {
		saved, err := r.checkpoints.Load(ctx, e.Name, tenantID)
		if err != nil {
			return 0, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		cursor = saved
		if cursor != "" {
			r.logger.Info("Resuming reindex", "entity", e.Name, "tenantId", tenantID, "after", cursor)
		}
	}

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		page, err := src.Page(ctx, e, tenantID, cursor, pageSize)
		if err != nil {
			return n, fmt.Errorf("failed to read page after %q: %w", cursor, err)
		}

		for _, rec := range page {
			job := &types.Job{
				TenantID:   tenantID,
				IndexName:  e.Index,
				DocumentID: rec.ID,
				Action:     types.ActionUpsert,
				Payload:    rec.Data,
				Version:    rec.Version,
			}
			if err := r.enqueuer.Enqueue(ctx, job); err != nil {
				if errors.Is(err, types.ErrInvalidJob) {
					r.logger.Warn("Skipping record that does not form a valid job",
						"entity", e.Name, "tenantId", tenantID, "documentId", rec.ID, "error", err)
					continue
				}
				return n, fmt.Errorf("failed to enqueue %s: %w", rec.ID, err)
			}
			n++
		}

		if len(page) > 0 {
			cursor = page[len(page)-1].ID
			if r.checkpoints != nil {
				if err := r.checkpoints.Save(ctx, e.Name, tenantID, cursor); err != nil {
					return n, fmt.Errorf("failed to save checkpoint: %w", err)
				}
			}
		}
		if len(page) < pageSize {
			break
		}
	}

	if r.checkpoints != nil {
		if err := r.checkpoints.Clear(ctx, e.Name, tenantID); err != nil {
			r.logger.Warn("Failed to clear checkpoint", "entity", e.Name, "tenantId", tenantID, "error", err)
		}
	}
	return n, nil
}
