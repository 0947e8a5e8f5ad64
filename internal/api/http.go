package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bher20/flightsearch/internal/logging"
	"github.com/bher20/flightsearch/internal/metrics"
	"github.com/bher20/flightsearch/internal/rates"
	"github.com/bher20/flightsearch/internal/search"
	"github.com/bher20/flightsearch/internal/storage"
	"github.com/bher20/flightsearch/pkg/providers"
)

// Searcher is the part of the aggregation engine the HTTP layer drives.
type Searcher interface {
	StartSearch(ctx context.Context) (string, error)
	GetNormalized(ctx context.Context, id, currency string) (*storage.SearchRecord, error)
}

type RateReader interface {
	Table(ctx context.Context, day string) (*rates.Table, error)
}

type RateLoader interface {
	Load(ctx context.Context, day time.Time) (*rates.Table, error)
}

// Deps wires the mux to the services it fronts. Loader may be nil, which
// disables POST /rates/refresh.
type Deps struct {
	Search    Searcher
	Rates     RateReader
	Loader    RateLoader
	Store     storage.Storage
	Providers []providers.Descriptor
	Location  *time.Location
	Now       func() time.Time
}

// NewMux constructs the HTTP mux, wiring in the search engine, rates,
// metrics, and health endpoints.
func NewMux(d Deps) *http.ServeMux {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handler{deps: d}

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", h.ready)
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("live"))
	})

	mux.HandleFunc("POST /search", instrument("/search", h.startSearch))
	mux.HandleFunc("GET /request/{id}/{currency}", instrument("/request", h.getRequest))
	mux.HandleFunc("GET /request/{id}/{currency}/{$}", instrument("/request", h.getRequest))
	mux.HandleFunc("GET /rates", instrument("/rates", h.getRates))
	mux.HandleFunc("POST /rates/refresh", instrument("/rates/refresh", h.refreshRates))
	mux.HandleFunc("GET /providers", instrument("/providers", h.listProviders))

	return mux
}

type handler struct {
	deps Deps
}

func (h *handler) ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		http.Error(w, "db not ready", http.StatusServiceUnavailable)
		return
	}
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		logging.Component("api").WithError(err).Warn("readyz: store ping failed")
		http.Error(w, "db not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *handler) startSearch(w http.ResponseWriter, r *http.Request) {
	id, err := h.deps.Search.StartSearch(r.Context())
	if err != nil {
		if errors.Is(err, search.ErrClosed) {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		logging.Component("api").WithError(err).Error("start search failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"search_id": id})
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	currency := r.PathValue("currency")

	rec, err := h.deps.Search.GetNormalized(r.Context(), id, currency)
	switch {
	case errors.Is(err, search.ErrUnsupportedCurrency):
		writeJSON(w, http.StatusOK, map[string]string{"status": "unsupported currency"})
	case errors.Is(err, storage.ErrNotFound):
		http.NotFound(w, r)
	case err != nil:
		logging.Component("api").WithError(err).WithField("search_id", id).Error("normalize failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (h *handler) getRates(w http.ResponseWriter, r *http.Request) {
	day := rates.DayKey(h.deps.Now().In(h.deps.Location))
	if q := r.URL.Query().Get("date"); q != "" {
		if _, err := time.Parse(rates.DayLayout, q); err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = q
	}
	tbl, err := h.deps.Rates.Table(r.Context(), day)
	if err != nil {
		logging.Component("api").WithError(err).WithField("day", day).Error("read rates failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tbl)
}

func (h *handler) refreshRates(w http.ResponseWriter, r *http.Request) {
	if h.deps.Loader == nil {
		http.Error(w, "rates loader not configured", http.StatusServiceUnavailable)
		return
	}
	tbl, err := h.deps.Loader.Load(r.Context(), h.deps.Now().In(h.deps.Location))
	if err != nil {
		logging.Component("api").WithError(err).Error("rates refresh failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, tbl)
}

func (h *handler) listProviders(w http.ResponseWriter, r *http.Request) {
	list := h.deps.Providers
	if list == nil {
		list = []providers.Descriptor{}
	}
	writeJSON(w, http.StatusOK, struct {
		Providers []providers.Descriptor `json:"providers"`
	}{Providers: list})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Component("api").WithError(err).Warn("encode response failed")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request count, latency and error responses for route.
func instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		metrics.RequestsTotal.WithLabelValues(route).Inc()

		next(rec, r)

		metrics.RequestDurationSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
		if rec.code >= 400 {
			metrics.RequestErrorsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		}
	}
}
