package rates

import (
	"context"
	"sync"

	"github.com/bher20/flightsearch/internal/storage"
)

// Service serves read-only rate tables from stored daily snapshots.
type Service struct {
	store storage.Storage

	mu    sync.RWMutex
	cache map[string]*Table
}

// NewService returns a Service backed by st.
func NewService(st storage.Storage) *Service {
	return &Service{store: st, cache: make(map[string]*Table)}
}

// Table returns the table for day (YYYY-MM-DD). A day without a snapshot
// yields an empty table rather than an error. Only stored snapshots are
// cached, since they never change once written.
func (s *Service) Table(ctx context.Context, day string) (*Table, error) {
	s.mu.RLock()
	t, ok := s.cache[day]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}

	snap, err := s.store.GetRateSnapshot(ctx, day)
	if err != nil {
		return nil, err
	}
	if snap == nil || len(snap.Payload) == 0 {
		return NewTable(day, nil), nil
	}
	t, err = DecodePayload(day, snap.Payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[day] = t
	s.mu.Unlock()
	return t, nil
}
