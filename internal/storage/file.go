package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var safeKey = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileStorage keeps one JSON document per key under a directory:
// records/<id>.json, rates/<day>.json and jobs/<name>.json. Writes go through
// a temp file and rename, so readers never see a half-written document.
type FileStorage struct {
	dir   string
	locks *keyLocks
}

// NewFileStorage opens (and creates if needed) a file-backed store rooted at
// dir.
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		dir = "./data"
	}
	for _, sub := range []string{"records", "rates", "jobs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return &FileStorage{dir: dir, locks: newKeyLocks()}, nil
}

func (s *FileStorage) Close() error { return nil }

func (s *FileStorage) Ping(ctx context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

func (s *FileStorage) path(kind, key string) (string, error) {
	if !safeKey.MatchString(key) {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	return filepath.Join(s.dir, kind, key+".json"), nil
}

func (s *FileStorage) CreateRecord(ctx context.Context, rec SearchRecord) error {
	p, err := s.path("records", rec.ID)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(p)
	defer unlock()

	if _, err := os.Stat(p); err == nil {
		return ErrAlreadyExists
	}
	b, err := encodeRecord(&rec)
	if err != nil {
		return err
	}
	return writeBytesAtomically(p, b)
}

func (s *FileStorage) GetRecord(ctx context.Context, id string) (*SearchRecord, error) {
	p, err := s.path("records", id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.readRecord(p)
}

func (s *FileStorage) readRecord(p string) (*SearchRecord, error) {
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(p), err)
	}
	return rec, nil
}

func (s *FileStorage) AtomicUpdate(ctx context.Context, id string, fn UpdateFunc) (*SearchRecord, error) {
	p, err := s.path("records", id)
	if err != nil {
		return nil, ErrNotFound
	}
	unlock := s.locks.lock(p)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.readRecord(p)
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
	if err := writeBytesAtomically(p, b); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *FileStorage) GetRateSnapshot(ctx context.Context, day string) (*RateSnapshot, error) {
	p, err := s.path("rates", day)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap RateSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", day, err)
	}
	return &snap, nil
}

func (s *FileStorage) SaveRateSnapshot(ctx context.Context, snap RateSnapshot) error {
	p, err := s.path("rates", snap.Day)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(p)
	defer unlock()

	if _, err := os.Stat(p); err == nil {
		return ErrSnapshotExists
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return writeBytesAtomically(p, b)
}

func (s *FileStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	p, err := s.path("jobs", name)
	if err != nil {
		return err
	}
	b, err := json.Marshal(newScheduledJob(name, started, dur, success, errMsg))
	if err != nil {
		return err
	}
	unlock := s.locks.lock(p)
	defer unlock()
	return writeBytesAtomically(p, b)
}
