package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStorage backs sqlite and postgres. AtomicUpdate is optimistic: it
// compares the version column and returns ErrConflict when another writer
// got there first.
type GormStorage struct {
	db *gorm.DB

	mu    sync.Mutex
	conns map[int64]*sql.Conn
}

// searchRecordRow is the search_records table. The full record lives in
// document; status and version are broken out for queries and CAS.
type searchRecordRow struct {
	ID        string    `gorm:"primaryKey;column:id"`
	Status    string    `gorm:"column:status;index"`
	Document  []byte    `gorm:"column:document"`
	Version   int64     `gorm:"column:version"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (searchRecordRow) TableName() string { return "search_records" }

func NewGormStorage(driver, dsn string) (*GormStorage, error) {
	var gormDialector gorm.Dialector
	switch driver {
	case "postgres":
		gormDialector = postgres.Open(dsn)
	case "sqlite":
		if dsn == "" {
			dsn = "flightsearch.db"
		}
		gormDialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := gorm.Open(gormDialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	return &GormStorage{db: db, conns: make(map[int64]*sql.Conn)}, nil
}

func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&searchRecordRow{},
		&RateSnapshot{},
		&ScheduledJob{},
	)
}

// Search records

func (s *GormStorage) CreateRecord(ctx context.Context, rec SearchRecord) error {
	doc, err := encodeRecord(&rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	row := searchRecordRow{
		ID:        rec.ID,
		Status:    string(rec.Status),
		Document:  doc,
		Version:   rec.Version,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *GormStorage) getRow(ctx context.Context, id string) (*searchRecordRow, error) {
	var row searchRecordRow
	result := s.db.WithContext(ctx).First(&row, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, result.Error
	}
	return &row, nil
}

func (s *GormStorage) GetRecord(ctx context.Context, id string) (*SearchRecord, error) {
	row, err := s.getRow(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(row.Document)
	if err != nil {
		return nil, err
	}
	rec.Version = row.Version
	return rec, nil
}

func (s *GormStorage) AtomicUpdate(ctx context.Context, id string, fn UpdateFunc) (*SearchRecord, error) {
	row, err := s.getRow(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(row.Document)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.ID = id
	rec.Version = row.Version + 1
	rec.UpdatedAt = time.Now().UTC()
	doc, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Model(&searchRecordRow{}).
		Where("id = ? AND version = ?", id, row.Version).
		Updates(map[string]any{
			"status":     string(rec.Status),
			"document":   doc,
			"version":    rec.Version,
			"updated_at": rec.UpdatedAt,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrConflict
	}
	return rec, nil
}

// Rate snapshots

func (s *GormStorage) GetRateSnapshot(ctx context.Context, day string) (*RateSnapshot, error) {
	var snap RateSnapshot
	result := s.db.WithContext(ctx).First(&snap, "day = ?", day)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &snap, nil
}

func (s *GormStorage) SaveRateSnapshot(ctx context.Context, snap RateSnapshot) error {
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&snap)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSnapshotExists
	}
	return nil
}

// Close & Ping

func (s *GormStorage) Close() error {
	s.mu.Lock()
	for key, c := range s.conns {
		_ = c.Close()
		delete(s.conns, key)
	}
	s.mu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Scheduled Jobs & Locking

// AcquireAdvisoryLock takes a session-level postgres lock on a dedicated
// connection, which is held until ReleaseAdvisoryLock. On sqlite it always
// succeeds.
func (s *GormStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.db.Dialector.Name() != "postgres" {
		return true, nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return false, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		conn.Close()
		return false, err
	}
	if !ok {
		conn.Close()
		return false, nil
	}
	s.mu.Lock()
	s.conns[key] = conn
	s.mu.Unlock()
	return true, nil
}

func (s *GormStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.db.Dialector.Name() != "postgres" {
		return true, nil
	}
	s.mu.Lock()
	conn, ok := s.conns[key]
	delete(s.conns, key)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	defer conn.Close()
	var released bool
	err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&released)
	return released, err
}

func (s *GormStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	job := newScheduledJob(name, started, dur, success, errMsg)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&job).Error
}
