// Package search runs searches against the configured providers and merges
// their offers into one record per search.
package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bher20/flightsearch/internal/events"
	"github.com/bher20/flightsearch/internal/logging"
	"github.com/bher20/flightsearch/internal/metrics"
	"github.com/bher20/flightsearch/internal/rates"
	"github.com/bher20/flightsearch/internal/storage"
	"github.com/bher20/flightsearch/pkg/providers"
)

//go:generate mockgen -package=search_test -destination=mock_client_test.go github.com/bher20/flightsearch/pkg/providers Client

// RateSource serves the rate table of a day (YYYY-MM-DD).
type RateSource interface {
	Table(ctx context.Context, day string) (*rates.Table, error)
}

// Config tunes the engine.
type Config struct {
	// Deadline is how long a record may stay PENDING before it is forced to
	// COMPLETED with the partial marker.
	Deadline time.Duration
	// ProviderTimeout, when set, bounds every Fetch in addition to whatever
	// timeout the client applies itself.
	ProviderTimeout time.Duration
	// TargetCurrency is the only currency GetNormalized accepts.
	TargetCurrency string
	// Location decides which calendar day's rate table is used.
	Location *time.Location
	// MaxUpdateRetries bounds retries of conflicting AtomicUpdates.
	MaxUpdateRetries uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPublisher sets where completion events go.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// Engine creates search records, fans out to providers and merges their
// results. Every provider task is supervised: Wait and Close observe them.
type Engine struct {
	cfg     Config
	store   storage.Storage
	clients []providers.Client
	rates   RateSource
	events  events.Publisher
	now     func() time.Time
	log     *logrus.Entry

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New returns an Engine. Provider names must be unique.
func New(cfg Config, st storage.Storage, clients []providers.Client, rs RateSource, opts ...Option) (*Engine, error) {
	seen := make(map[string]bool, len(clients))
	for _, c := range clients {
		if seen[c.Name()] {
			return nil, fmt.Errorf("duplicate provider name %q", c.Name())
		}
		seen[c.Name()] = true
	}
	if cfg.TargetCurrency == "" {
		cfg.TargetCurrency = "KZT"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 95 * time.Second
	}
	if cfg.MaxUpdateRetries == 0 {
		cfg.MaxUpdateRetries = 10
	}

	e := &Engine{
		cfg:     cfg,
		store:   st,
		clients: clients,
		rates:   rs,
		events:  events.Noop{},
		now:     time.Now,
		log:     logging.Component("search"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.base, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// TargetCurrency returns the only currency GetNormalized accepts.
func (e *Engine) TargetCurrency() string { return e.cfg.TargetCurrency }

// StartSearch persists a PENDING record and dispatches every provider
// concurrently. It returns as soon as the record exists; provider work
// outlives ctx.
func (e *Engine) StartSearch(ctx context.Context) (string, error) {
	now := e.now().UTC()
	rec := storage.SearchRecord{
		ID:        uuid.NewString(),
		Status:    storage.StatusPending,
		Items:     []providers.Offer{},
		Reports:   []storage.ProviderReport{},
		Expected:  len(e.clients),
		Deadline:  now.Add(e.cfg.Deadline),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rec.Expected == 0 {
		rec.Status = storage.StatusCompleted
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	e.wg.Add(1)
	e.mu.Unlock()

	if err := e.store.CreateRecord(ctx, rec); err != nil {
		e.wg.Done()
		return "", fmt.Errorf("create record: %w", err)
	}
	metrics.SearchesStartedTotal.Inc()
	e.log.WithFields(logrus.Fields{"search_id": rec.ID, "providers": rec.Expected}).Info("search started")

	if rec.Expected == 0 {
		e.wg.Done()
		return rec.ID, nil
	}
	go e.supervise(rec.ID)
	return rec.ID, nil
}

// supervise runs one task per provider and forces completion when the
// deadline passes first. It returns once every provider task has returned.
func (e *Engine) supervise(id string) {
	defer e.wg.Done()

	var tasks sync.WaitGroup
	for _, c := range e.clients {
		tasks.Add(1)
		go func(c providers.Client) {
			defer tasks.Done()
			e.runProvider(id, c)
		}(c)
	}
	done := make(chan struct{})
	go func() {
		tasks.Wait()
		close(done)
	}()

	timer := time.NewTimer(e.cfg.Deadline)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
		e.expire(id, "deadline")
	case <-e.base.Done():
		e.expire(id, "shutdown")
	}
	<-done
}

func (e *Engine) runProvider(id string, c providers.Client) {
	name := c.Name()
	log := e.log.WithFields(logrus.Fields{"search_id": id, "provider": name})

	start := time.Now()
	offers, err := e.fetch(c)
	took := time.Since(start)

	outcome := "ok"
	var te *providers.TimeoutError
	switch {
	case err == nil:
	case errors.As(err, &te):
		outcome = "timeout"
	case errors.Is(err, errProviderPanic):
		outcome = "panic"
	default:
		outcome = "error"
	}
	metrics.ObserveProvider(name, outcome, took)

	if err != nil {
		log.WithError(err).WithField("took", took).Warn("provider failed, recording zero offers")
	} else {
		log.WithFields(logrus.Fields{"offers": len(offers), "took": took}).Info("provider reported")
	}

	e.merge(id, report{provider: name, offers: offers, err: err, at: e.now().UTC()})
}

var errProviderPanic = errors.New("provider panicked")

// fetch calls the client, turning a panic into a provider error.
func (e *Engine) fetch(c providers.Client) (offers []providers.Offer, err error) {
	defer func() {
		if r := recover(); r != nil {
			offers = nil
			err = &providers.Error{Provider: c.Name(), Err: fmt.Errorf("%w: %v", errProviderPanic, r)}
		}
	}()

	ctx := e.base
	if e.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ProviderTimeout)
		defer cancel()
	}
	offers, err = c.Fetch(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, providers.ErrProviderTimeout) {
		err = &providers.TimeoutError{Provider: c.Name(), Err: err}
	}
	return offers, err
}

// storeCtx is used for merges so that a shutdown still records what the
// providers returned.
func (e *Engine) storeCtx() context.Context {
	return context.WithoutCancel(e.base)
}

func (e *Engine) merge(id string, r report) {
	log := e.log.WithFields(logrus.Fields{"search_id": id, "provider": r.provider})

	var applied, completed bool
	rec, err := e.persist("merge", id, func(rec *storage.SearchRecord) error {
		applied, completed = applyReport(rec, r)
		return nil
	})
	if err != nil {
		log.WithError(err).Error("merge failed")
		return
	}
	if !applied {
		log.Warn("duplicate report ignored")
		return
	}
	if completed {
		e.completed(rec, false)
	}
}

func (e *Engine) expire(id, reason string) {
	log := e.log.WithFields(logrus.Fields{"search_id": id, "reason": reason})

	var forced bool
	rec, err := e.persist("expire", id, func(rec *storage.SearchRecord) error {
		forced = forceComplete(rec)
		return nil
	})
	if err != nil {
		log.WithError(err).Error("forced completion failed")
		return
	}
	if forced {
		log.WithField("reported", len(rec.Reports)).Warn("search forced to COMPLETED before every provider reported")
		e.completed(rec, true)
	}
}

func (e *Engine) completed(rec *storage.SearchRecord, forced bool) {
	metrics.SearchesCompletedTotal.WithLabelValues(strconv.FormatBool(rec.Partial)).Inc()

	names := make([]string, 0, len(rec.Reports))
	for _, r := range rec.Reports {
		names = append(names, r.Provider)
	}
	evt := events.SearchCompleted{
		SearchID:    rec.ID,
		Partial:     rec.Partial,
		Offers:      len(rec.Items),
		Providers:   names,
		Forced:      forced,
		CompletedAt: rec.UpdatedAt,
	}
	ctx, cancel := context.WithTimeout(e.storeCtx(), 10*time.Second)
	defer cancel()
	if err := e.events.PublishSearchCompleted(ctx, evt); err != nil {
		e.log.WithError(err).WithField("search_id", rec.ID).Warn("publish search.completed failed")
	}
}

// Wait blocks until every dispatched provider task has finished.
func (e *Engine) Wait() { e.wg.Wait() }

// Close stops accepting searches and waits for running ones. When ctx ends
// first, in-flight provider calls are cancelled; their records are still
// completed before Close returns.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}
