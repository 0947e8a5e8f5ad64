package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"
)

const (
	recordPrefix = "record/"
	ratePrefix   = "rate/"
	jobPrefix    = "job/"
)

// PebbleStorage is a durable embedded key-value backend. Record updates are
// serialized per key in-process; pebble itself gives no read-modify-write
// primitive.
type PebbleStorage struct {
	db    *pebble.DB
	locks *keyLocks
}

func NewPebbleStorage(dir string) (*PebbleStorage, error) {
	if dir == "" {
		dir = "./data/pebble"
	}
	d, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStorage{db: d, locks: newKeyLocks()}, nil
}

func (p *PebbleStorage) Close() error { return p.db.Close() }

func (p *PebbleStorage) Ping(ctx context.Context) error {
	_, err := p.get(jobPrefix + "ping")
	return err
}

// get returns a copy of the value, or nil when the key is absent.
func (p *PebbleStorage) get(key string) ([]byte, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (p *PebbleStorage) set(key string, val []byte) error {
	return p.db.Set([]byte(key), val, pebble.Sync)
}

func (p *PebbleStorage) CreateRecord(ctx context.Context, rec SearchRecord) error {
	key := recordPrefix + rec.ID
	unlock := p.locks.lock(key)
	defer unlock()

	cur, err := p.get(key)
	if err != nil {
		return err
	}
	if cur != nil {
		return ErrAlreadyExists
	}
	b, err := encodeRecord(&rec)
	if err != nil {
		return err
	}
	return p.set(key, b)
}

func (p *PebbleStorage) GetRecord(ctx context.Context, id string) (*SearchRecord, error) {
	v, err := p.get(recordPrefix + id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return decodeRecord(v)
}

func (p *PebbleStorage) AtomicUpdate(ctx context.Context, id string, fn UpdateFunc) (*SearchRecord, error) {
	key := recordPrefix + id
	unlock := p.locks.lock(key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := p.get(key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNotFound
	}
	rec, err := decodeRecord(v)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.ID = id
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	b, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}
	if err := p.set(key, b); err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *PebbleStorage) GetRateSnapshot(ctx context.Context, day string) (*RateSnapshot, error) {
	v, err := p.get(ratePrefix + day)
	if err != nil || v == nil {
		return nil, err
	}
	var snap RateSnapshot
	if err := json.Unmarshal(v, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", day, err)
	}
	return &snap, nil
}

func (p *PebbleStorage) SaveRateSnapshot(ctx context.Context, snap RateSnapshot) error {
	key := ratePrefix + snap.Day
	unlock := p.locks.lock(key)
	defer unlock()

	cur, err := p.get(key)
	if err != nil {
		return err
	}
	if cur != nil {
		return ErrSnapshotExists
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return p.set(key, b)
}

func (p *PebbleStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	b, err := json.Marshal(newScheduledJob(name, started, dur, success, errMsg))
	if err != nil {
		return err
	}
	return p.set(jobPrefix+name, b)
}
