package output

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
)

func TestPrometheusMetricsCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	internal := domain.NewReporterMetrics()
	m := NewPrometheusMetrics("test", reg, internal)

	internal.Record(domain.OutcomeIgnored)
	internal.Record(domain.OutcomeReported)
	m.ObserveOutcome(domain.OutcomeReported)
	m.ObserveOutcome(domain.OutcomeRecent)
	m.ObserveOutcome(domain.OutcomeRecent)
	m.OnReport(&domain.ReportAttempt{Success: true})
	m.OnReport(&domain.ReportAttempt{Success: false})
	m.ObserveReportDuration(0.25)
	m.SetCacheEntries(7)
	m.IncrementTruncations()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.totalLines))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.linesByOutcome.WithLabelValues("recent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reports.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reports.WithLabelValues("failure")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.cacheEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.truncations))
	assert.Equal(t, 1, testutil.CollectAndCount(m.reportDuration))
}

func TestPrometheusMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics("", reg, nil)
	m.SetCacheEntries(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ufw_reporter_cache_entries 3")
}

func TestPrometheusMetricsServe(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	m := NewPrometheusMetrics("serve", prometheus.NewRegistry(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- m.Serve(ctx, MetricsConfig{
			Addr: addr,
			Path: "/metrics",
			Handlers: map[string]http.Handler{
				"/ping": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("pong")) }),
			},
		})
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/ping")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}

func TestPrometheusMetricsServeAddressInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	m := NewPrometheusMetrics("busy", prometheus.NewRegistry(), nil)
	err = m.Serve(context.Background(), MetricsConfig{Addr: listener.Addr().String()})
	assert.Error(t, err)
}
