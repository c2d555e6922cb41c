package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syntrixbase/indexsync/internal/indexsync/producer"
)

// Replayer re-enqueues dead-lettered jobs and removes them on success.
type Replayer struct {
	store    Store
	enqueuer producer.Enqueuer
	logger   *slog.Logger
}

func NewReplayer(store Store, enqueuer producer.Enqueuer, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{store: store, enqueuer: enqueuer, logger: logger.With("component", "dlq-replay")}
}

// Replay re-enqueues the given entries. Each replay is a new job with a
// fresh id so broker dedup does not drop it. Failures do not stop the
// remaining ids; they are joined into the returned error.
func (r *Replayer) Replay(ctx context.Context, ids []string) (int, error) {
	var (
		replayed int
		errs     []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.replayOne(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("replay %s: %w", id, err))
			continue
		}
		replayed++
	}
	return replayed, errors.Join(errs...)
}

// ReplayAll replays every entry matching f.
func (r *Replayer) ReplayAll(ctx context.Context, f Filter) (int, error) {
	entries, err := r.store.List(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("failed to list dead letters: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return r.Replay(ctx, ids)
}

func (r *Replayer) replayOne(ctx context.Context, id string) error {
	entry, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	job, err := entry.Job()
	if err != nil {
		return err
	}

	job.ID = ""
	job.EnqueuedAt = time.Time{}
	if err := r.enqueuer.Enqueue(ctx, job); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, id); err != nil {
		r.logger.Warn("Replayed dead letter could not be removed", "id", id, "error", err)
	}
	r.logger.Info("Dead letter replayed", "id", id, "jobId", job.ID, "tenantId", job.TenantID, "indexName", job.IndexName, "documentId", job.DocumentID)
	return nil
}
