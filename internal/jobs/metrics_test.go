package jobmetrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, registry *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	require.NoError(t, metrics.Track("inventory:reorder_scan").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, metrics.Track("inventory:reorder_scan").End(boom), boom)

	body := scrape(t, registry)
	require.Contains(t, body, `erp_jobs_total{job="inventory:reorder_scan",status="success"} 1`)
	require.Contains(t, body, `erp_jobs_total{job="inventory:reorder_scan",status="failure"} 1`)
	require.Contains(t, body, `erp_jobs_failures_total{job="inventory:reorder_scan"} 1`)
	require.Contains(t, body, `erp_job_duration_seconds_count{job="inventory:reorder_scan"} 2`)
}

func TestAddFindings(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.AddFindings("inventory:ledger_integrity", 4, 2)
	metrics.AddFindings("inventory:ledger_integrity", 4, 0)
	metrics.AddFindings("inventory:expiry_scan", 0, 1)

	body := scrape(t, registry)
	require.Contains(t, body, `erp_job_findings_total{job="inventory:ledger_integrity",org="4"} 2`)
	require.Contains(t, body, `erp_job_findings_total{job="inventory:expiry_scan",org="0"} 1`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.AddFindings("job", 1, 1)
	require.NoError(t, metrics.Track("job").End(nil))
}
