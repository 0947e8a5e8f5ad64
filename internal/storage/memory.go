package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage is an in-memory Storage implementation, useful for tests and
// simple single-process deployments.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]*SearchRecord
	snaps   map[string]RateSnapshot
	jobs    map[string]ScheduledJob
}

// NewMemory returns an empty MemoryStorage.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*SearchRecord),
		snaps:   make(map[string]RateSnapshot),
		jobs:    make(map[string]ScheduledJob),
	}
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) Ping(ctx context.Context) error { return nil }

func (m *MemoryStorage) CreateRecord(ctx context.Context, rec SearchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return ErrAlreadyExists
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *MemoryStorage) GetRecord(ctx context.Context, id string) (*SearchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// AtomicUpdate holds the write lock for the whole read-modify-write, so
// updates to any record are serialized.
func (m *MemoryStorage) AtomicUpdate(ctx context.Context, id string, fn UpdateFunc) (*SearchRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now().UTC()
	m.records[id] = next
	return next.Clone(), nil
}

func (m *MemoryStorage) GetRateSnapshot(ctx context.Context, day string) (*RateSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snaps[day]
	if !ok {
		return nil, nil
	}
	cp := s
	cp.Payload = append([]byte(nil), s.Payload...)
	return &cp, nil
}

func (m *MemoryStorage) SaveRateSnapshot(ctx context.Context, snap RateSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snaps[snap.Day]; ok {
		return ErrSnapshotExists
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}
	snap.Payload = append([]byte(nil), snap.Payload...)
	m.snaps[snap.Day] = snap
	return nil
}

func (m *MemoryStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[name] = newScheduledJob(name, started, dur, success, errMsg)
	return nil
}

// ScheduledJob returns the last recorded run of a job.
func (m *MemoryStorage) ScheduledJob(name string) (ScheduledJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[name]
	return j, ok
}
