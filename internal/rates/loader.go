package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bher20/flightsearch/internal/logging"
	"github.com/bher20/flightsearch/internal/storage"
)

// Loader fetches a day's rates from a Source and stores them as that day's
// snapshot. A day is written at most once.
type Loader struct {
	source Source
	store  storage.Storage
}

func NewLoader(src Source, st storage.Storage) *Loader {
	return &Loader{source: src, store: st}
}

// Load makes sure a snapshot exists for day. It skips the fetch when one is
// already stored; losing a concurrent write race counts as success.
func (l *Loader) Load(ctx context.Context, day time.Time) (*Table, error) {
	key := DayKey(day)
	log := logging.Component("rates").WithField("day", key)

	existing, err := l.store.GetRateSnapshot(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	if existing != nil {
		log.Debug("snapshot already stored")
		return DecodePayload(key, existing.Payload)
	}

	entries, err := l.source.Fetch(ctx, day)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("rates source returned no entries for %s", key)
	}
	payload, err := EncodePayload(entries)
	if err != nil {
		return nil, err
	}

	err = l.store.SaveRateSnapshot(ctx, storage.RateSnapshot{
		Day:       key,
		Payload:   payload,
		FetchedAt: time.Now().UTC(),
	})
	switch {
	case errors.Is(err, storage.ErrSnapshotExists):
		log.Info("snapshot written concurrently, keeping the stored one")
		snap, err := l.store.GetRateSnapshot(ctx, key)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, fmt.Errorf("snapshot %s vanished", key)
		}
		return DecodePayload(key, snap.Payload)
	case err != nil:
		return nil, fmt.Errorf("save snapshot %s: %w", key, err)
	}

	log.WithField("currencies", len(entries)).Info("rates snapshot saved")
	return NewTable(key, entries), nil
}
