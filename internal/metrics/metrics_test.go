package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	if c := out.GetCounter(); c != nil {
		return c.GetValue()
	}
	return out.GetGauge().GetValue()
}

func TestUpdateJobMetrics_CountsFailures(t *testing.T) {
	before := value(t, ScheduledJobFailuresTotal.WithLabelValues("metrics_test_job"))

	UpdateJobMetrics("metrics_test_job", time.Now().Add(-time.Second), nil)
	UpdateJobMetrics("metrics_test_job", time.Now().Add(-time.Second), errors.New("boom"))

	require.Equal(t, before+1, value(t, ScheduledJobFailuresTotal.WithLabelValues("metrics_test_job")))
	require.GreaterOrEqual(t, value(t, ScheduledJobLastDurationSeconds.WithLabelValues("metrics_test_job")), 1.0)
}

func TestObserveProvider(t *testing.T) {
	ObserveProvider("metrics_test_provider", "timeout", 2*time.Second)
	require.Equal(t, 1.0, value(t, ProviderRequestsTotal.WithLabelValues("metrics_test_provider", "timeout")))
}
