package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPoolStorage talks to postgres through pgxpool. AtomicUpdate locks
// the row with SELECT ... FOR UPDATE, so it never returns ErrConflict.
type PostgresPoolStorage struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	conns map[int64]*pgxpool.Conn
}

func OpenPostgresPool(ctx context.Context, dsn string) (*PostgresPoolStorage, error) {
	if dsn == "" {
		dsn = "postgres://localhost:5432/flightsearch?sslmode=disable"
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &PostgresPoolStorage{pool: pool, conns: make(map[int64]*pgxpool.Conn)}, nil
}

func (s *PostgresPoolStorage) Close() error {
	s.mu.Lock()
	for key, c := range s.conns {
		c.Release()
		delete(s.conns, key)
	}
	s.mu.Unlock()
	s.pool.Close()
	return nil
}

func (s *PostgresPoolStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresPoolStorage) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS search_records (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            document BYTEA NOT NULL,
            version BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_search_records_status ON search_records (status);`,
		`CREATE TABLE IF NOT EXISTS rate_snapshots (
            day TEXT PRIMARY KEY,
            payload BYTEA NOT NULL,
            fetched_at TIMESTAMPTZ NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS scheduled_jobs (
            name TEXT PRIMARY KEY,
            last_run_at TIMESTAMPTZ,
            last_duration_ms BIGINT,
            last_success INTEGER,
            last_error TEXT
        );`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresPoolStorage) CreateRecord(ctx context.Context, rec SearchRecord) error {
	doc, err := encodeRecord(&rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
        INSERT INTO search_records (id, status, document, version, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$5)
        ON CONFLICT (id) DO NOTHING
    `, rec.ID, string(rec.Status), doc, rec.Version, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresPoolStorage) GetRecord(ctx context.Context, id string) (*SearchRecord, error) {
	return scanRecord(s.pool.QueryRow(ctx, `SELECT document, version FROM search_records WHERE id=$1`, id))
}

func scanRecord(row pgx.Row) (*SearchRecord, error) {
	var doc []byte
	var version int64
	if err := row.Scan(&doc, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec, err := decodeRecord(doc)
	if err != nil {
		return nil, err
	}
	rec.Version = version
	return rec, nil
}

func (s *PostgresPoolStorage) AtomicUpdate(ctx context.Context, id string, fn UpdateFunc) (*SearchRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rec, err := scanRecord(tx.QueryRow(ctx, `SELECT document, version FROM search_records WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.ID = id
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	doc, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
        UPDATE search_records SET status=$2, document=$3, version=$4, updated_at=$5 WHERE id=$1
    `, id, string(rec.Status), doc, rec.Version, rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresPoolStorage) GetRateSnapshot(ctx context.Context, day string) (*RateSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT payload, fetched_at
        FROM rate_snapshots
        WHERE day=$1
    `, day)

	var payload []byte
	var fetched time.Time
	if err := row.Scan(&payload, &fetched); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &RateSnapshot{
		Day:       day,
		Payload:   payload,
		FetchedAt: fetched,
	}, nil
}

func (s *PostgresPoolStorage) SaveRateSnapshot(ctx context.Context, snap RateSnapshot) error {
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
        INSERT INTO rate_snapshots (day, payload, fetched_at)
        VALUES ($1,$2,$3)
        ON CONFLICT (day) DO NOTHING
    `, snap.Day, snap.Payload, snap.FetchedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSnapshotExists
	}
	return nil
}

func (s *PostgresPoolStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	job := newScheduledJob(name, started, dur, success, errMsg)
	_, err := s.pool.Exec(ctx, `
        INSERT INTO scheduled_jobs (name, last_run_at, last_duration_ms, last_success, last_error)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (name) DO UPDATE SET
            last_run_at=EXCLUDED.last_run_at,
            last_duration_ms=EXCLUDED.last_duration_ms,
            last_success=EXCLUDED.last_success,
            last_error=EXCLUDED.last_error
    `, job.Name, job.LastRunAt, job.LastDurationMs, job.LastSuccess, job.LastError)
	return err
}

func (s *PostgresPoolStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil || !ok {
		conn.Release()
		return false, err
	}
	s.mu.Lock()
	s.conns[key] = conn
	s.mu.Unlock()
	return true, nil
}

func (s *PostgresPoolStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	s.mu.Lock()
	conn, ok := s.conns[key]
	delete(s.conns, key)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	defer conn.Release()
	var released bool
	err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&released)
	return released, err
}
