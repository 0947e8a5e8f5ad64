package storage

import (
	"context"
	"fmt"

	"github.com/bher20/flightsearch/internal/logging"
)

// Config controls how the storage backend is opened.
type Config struct {
	Driver string
	DSN    string
	// AutoMigrate creates missing tables for the SQL backends.
	AutoMigrate bool
}

// Open constructs a Storage based on the given configuration.
func Open(ctx context.Context, cfg Config) (Storage, error) {
	log := logging.Component("storage")
	drv := cfg.Driver
	if drv == "" {
		drv = "memory"
	}
	switch drv {
	case "memory":
		log.Info("using in-memory backend")
		return NewMemory(), nil

	case "file":
		log.WithField("dir", cfg.DSN).Info("using file backend")
		return NewFileStorage(cfg.DSN)

	case "pebble":
		log.WithField("dir", cfg.DSN).Info("using pebble backend")
		return NewPebbleStorage(cfg.DSN)

	case "sqlite", "postgres":
		log.WithField("driver", drv).Info("using gorm backend")
		st, err := NewGormStorage(drv, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				st.Close()
				return nil, fmt.Errorf("storage migrate: %w", err)
			}
		}
		return st, nil

	case "postgrespool":
		log.Info("using pgxpool backend")
		st, err := OpenPostgresPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				st.Close()
				return nil, fmt.Errorf("storage migrate: %w", err)
			}
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", drv)
	}
}
