package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightsearch_http_requests_total",
			Help: "Total number of HTTP requests per route",
		},
		[]string{"route"},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flightsearch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds per route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	RequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightsearch_http_request_errors_total",
			Help: "Total number of error responses per route and status code",
		},
		[]string{"route", "code"},
	)
)

var (
	SearchesStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flightsearch_searches_started_total",
			Help: "Total number of searches started",
		},
	)

	SearchesCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightsearch_searches_completed_total",
			Help: "Searches that reached COMPLETED, by whether the result is partial",
		},
		[]string{"partial"},
	)

	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightsearch_provider_requests_total",
			Help: "Provider fetches by provider and outcome (ok, error, timeout, panic)",
		},
		[]string{"provider", "outcome"},
	)

	ProviderDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flightsearch_provider_duration_seconds",
			Help:    "Provider fetch latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 90, 120},
		},
		[]string{"provider"},
	)

	StoreConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightsearch_store_conflicts_total",
			Help: "Optimistic AtomicUpdate conflicts that were retried, by operation",
		},
		[]string{"op"},
	)

	DroppedUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightsearch_dropped_updates_total",
			Help: "Provider reports or forced completions that could not be stored, by operation",
		},
		[]string{"op"},
	)

	UnpricedOffersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flightsearch_unpriced_offers_total",
			Help: "Offers left without a derived price because no rate was known",
		},
	)
)

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flightsearch_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flightsearch_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightsearch_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}

// ObserveProvider records one provider fetch.
func ObserveProvider(provider, outcome string, took time.Duration) {
	ProviderRequestsTotal.WithLabelValues(provider, outcome).Inc()
	ProviderDurationSeconds.WithLabelValues(provider).Observe(took.Seconds())
}
