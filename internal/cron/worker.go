package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/bher20/flightsearch/internal/alerting"
	"github.com/bher20/flightsearch/internal/logging"
	"github.com/bher20/flightsearch/internal/metrics"
	"github.com/bher20/flightsearch/internal/rates"
	"github.com/bher20/flightsearch/internal/storage"
)

const (
	JobName = "load_rates"
	// DefaultSchedule runs the job daily at noon local time.
	DefaultSchedule = "0 12 * * *"

	lockKey int64 = 42
)

// ErrLocked is returned by RunOnce when another worker holds the job lock.
var ErrLocked = errors.New("job lock held by another worker")

// RateLoader loads the rate snapshot for one day.
type RateLoader interface {
	Load(ctx context.Context, day time.Time) (*rates.Table, error)
}

// Alerter is notified when a run fails.
type Alerter interface {
	SendJobAlert(ctx context.Context, alert alerting.JobAlert) error
}

type Config struct {
	Schedule   string
	RunOnStart bool
	Location   *time.Location
}

type Option func(*Worker)

func WithAlerter(a Alerter) Option { return func(w *Worker) { w.alerter = a } }

func WithClock(now func() time.Time) Option { return func(w *Worker) { w.now = now } }

// Worker loads the daily exchange-rate snapshot on a cron schedule. When the
// store supports advisory locks only one worker in a deployment runs the job
// at a time.
type Worker struct {
	cfg     Config
	loader  RateLoader
	store   storage.Storage
	alerter Alerter
	now     func() time.Time

	mu sync.Mutex
}

func NewWorker(cfg Config, loader RateLoader, st storage.Storage, opts ...Option) *Worker {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	w := &Worker{cfg: cfg, loader: loader, store: st, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run schedules the job and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log := logging.Component("cron")
	c := cron.New(cron.WithLocation(w.cfg.Location))
	if _, err := c.AddFunc(w.cfg.Schedule, func() { w.runLogged(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", w.cfg.Schedule, err)
	}

	log.WithFields(logrus.Fields{
		"schedule": w.cfg.Schedule,
		"timezone": w.cfg.Location.String(),
	}).Info("cron worker starting")

	c.Start()
	if w.cfg.RunOnStart {
		w.runLogged(ctx)
	}

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("cron worker stopped")
	return ctx.Err()
}

func (w *Worker) runLogged(ctx context.Context) {
	if err := w.RunOnce(ctx); err != nil && !errors.Is(err, ErrLocked) {
		logging.Component("cron").WithError(err).Error("rate load failed")
	}
}

// RunOnce loads today's snapshot, records the run and alerts on failure.
func (w *Worker) RunOnce(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	log := logging.Component("cron").WithField("job", JobName)

	if locker, ok := w.store.(storage.Locker); ok {
		got, err := locker.AcquireAdvisoryLock(ctx, lockKey)
		if err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !got {
			log.Info("advisory lock held by another worker, skipping run")
			return ErrLocked
		}
		defer func() {
			if _, err := locker.ReleaseAdvisoryLock(context.WithoutCancel(ctx), lockKey); err != nil {
				log.WithError(err).Warn("release advisory lock failed")
			}
		}()
	}

	started := w.now()
	day := started.In(w.cfg.Location)
	tbl, runErr := w.loader.Load(ctx, day)
	dur := w.now().Sub(started)

	metrics.UpdateJobMetrics(JobName, started, runErr)
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := w.store.UpdateScheduledJob(ctx, JobName, started, dur, runErr == nil, errMsg); err != nil {
		log.WithError(err).Warn("update scheduled job failed")
	}

	if runErr != nil {
		if w.alerter != nil {
			alert := alerting.JobAlert{
				JobName:   JobName,
				Day:       rates.DayKey(day),
				Error:     errMsg,
				Duration:  dur,
				Timestamp: started,
			}
			if err := w.alerter.SendJobAlert(ctx, alert); err != nil {
				log.WithError(err).Warn("send alert failed")
			}
		}
		return runErr
	}

	log.WithFields(logrus.Fields{
		"day":        tbl.Date,
		"currencies": tbl.Len(),
		"duration":   dur.String(),
	}).Info("job completed")
	return nil
}
