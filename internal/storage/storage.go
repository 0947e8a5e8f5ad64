package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for the requested id.
	ErrNotFound = errors.New("storage: record not found")
	// ErrAlreadyExists is returned by CreateRecord for a duplicate id.
	ErrAlreadyExists = errors.New("storage: record already exists")
	// ErrConflict signals that a concurrent writer won an optimistic
	// AtomicUpdate. The caller retries.
	ErrConflict = errors.New("storage: concurrent update conflict")
	// ErrSnapshotExists is returned when a rate snapshot for the day was
	// already saved.
	ErrSnapshotExists = errors.New("storage: rate snapshot already exists")
)

// UpdateFunc mutates rec in place. Returning an error aborts the update and
// leaves the stored record untouched.
type UpdateFunc func(rec *SearchRecord) error

// Storage abstracts persistence for search records, rate snapshots and
// scheduled job bookkeeping.
type Storage interface {
	// Search records
	CreateRecord(ctx context.Context, rec SearchRecord) error
	GetRecord(ctx context.Context, id string) (*SearchRecord, error)
	// AtomicUpdate is linearizable per id: fn always observes the result
	// of the previous successful update.
	AtomicUpdate(ctx context.Context, id string, fn UpdateFunc) (*SearchRecord, error)

	// Rate snapshots; GetRateSnapshot returns nil, nil for a missing day.
	GetRateSnapshot(ctx context.Context, day string) (*RateSnapshot, error)
	SaveRateSnapshot(ctx context.Context, snap RateSnapshot) error

	UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error

	Ping(ctx context.Context) error
	// Close releases any resources (no-op for in-memory).
	Close() error
}

// Locker is implemented by backends that can coordinate jobs across
// processes.
type Locker interface {
	AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error)
}
