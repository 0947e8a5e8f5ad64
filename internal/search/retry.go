package search

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/bher20/flightsearch/internal/metrics"
	"github.com/bher20/flightsearch/internal/storage"
)

func backoff() retry.Backoff {
	b := retry.NewExponential(5 * time.Millisecond)
	b = retry.WithCappedDuration(500*time.Millisecond, b)
	return retry.WithJitterPercent(20, b)
}

// update runs AtomicUpdate and retries optimistic conflicts with jittered
// exponential backoff, at most MaxUpdateRetries times. fn may run more than
// once and must be pure apart from its effect on rec.
func (e *Engine) update(ctx context.Context, op, id string, fn storage.UpdateFunc) (*storage.SearchRecord, error) {
	return e.updateWith(ctx, retry.WithMaxRetries(e.cfg.MaxUpdateRetries, backoff()), op, id, fn)
}

// persist is update for writes nobody waits on: provider reports and forced
// completion. Conflicts are retried for as long as the search deadline
// lasts, so a report is lost only when the store itself keeps failing.
func (e *Engine) persist(op, id string, fn storage.UpdateFunc) (*storage.SearchRecord, error) {
	rec, err := e.updateWith(e.storeCtx(), retry.WithMaxDuration(e.cfg.Deadline, backoff()), op, id, fn)
	if err != nil {
		metrics.DroppedUpdatesTotal.WithLabelValues(op).Inc()
	}
	return rec, err
}

func (e *Engine) updateWith(ctx context.Context, b retry.Backoff, op, id string, fn storage.UpdateFunc) (*storage.SearchRecord, error) {
	var out *storage.SearchRecord
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		rec, err := e.store.AtomicUpdate(ctx, id, fn)
		if errors.Is(err, storage.ErrConflict) {
			metrics.StoreConflictsTotal.WithLabelValues(op).Inc()
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}
