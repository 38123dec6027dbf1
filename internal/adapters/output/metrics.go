package output

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
)

// PrometheusMetrics exposes reporter counters for scraping. It implements
// ports.ProcessingObserver, ports.ReportSubscriber and
// ports.MetricsCollector.
type PrometheusMetrics struct {
	totalLines     prometheus.CounterFunc
	linesByOutcome *prometheus.CounterVec
	reports        *prometheus.CounterVec
	reportDuration prometheus.Histogram
	cacheEntries   prometheus.Gauge
	truncations    prometheus.Counter
	memoryUsage    prometheus.GaugeFunc

	gatherer prometheus.Gatherer
	server   *http.Server
	mu       sync.Mutex
}

type MetricsConfig struct {
	Addr string
	Path string

	// Extra handlers mounted next to the metrics endpoint.
	Handlers map[string]http.Handler
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Addr: ":9090",
		Path: "/metrics",
	}
}

// NewPrometheusMetrics registers the collectors on reg. A nil reg uses
// the global default registry.
func NewPrometheusMetrics(namespace string, reg *prometheus.Registry, internalMetrics *domain.ReporterMetrics) *PrometheusMetrics {
	if namespace == "" {
		namespace = "ufw_reporter"
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer = reg
		gatherer = reg
	}
	factory := promauto.With(registerer)

	m := &PrometheusMetrics{gatherer: gatherer}

	m.totalLines = factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_total",
		Help:      "Total number of log lines processed",
	}, func() float64 {
		if internalMetrics != nil {
			return float64(internalMetrics.TotalLines())
		}
		return 0
	})

	m.linesByOutcome = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_by_outcome_total",
		Help:      "Processed log lines by outcome",
	}, []string{"outcome"})

	m.reports = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reports_total",
		Help:      "Report attempts by result",
	}, []string{"result"})

	m.reportDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "report_duration_seconds",
		Help:      "Round-trip time of report submissions",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	m.cacheEntries = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Number of IPs in the report cache",
	})

	m.truncations = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_truncations_total",
		Help:      "Detected truncations or replacements of the watched log",
	})

	m.memoryUsage = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_bytes",
		Help:      "Current memory usage in bytes",
	}, func() float64 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return float64(ms.Alloc)
	})

	return m
}

func (m *PrometheusMetrics) ObserveOutcome(outcome domain.Outcome) {
	m.linesByOutcome.WithLabelValues(string(outcome)).Inc()
}

func (m *PrometheusMetrics) OnReport(attempt *domain.ReportAttempt) {
	result := "success"
	if !attempt.Success {
		result = "failure"
	}
	m.reports.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) ObserveReportDuration(seconds float64) {
	m.reportDuration.Observe(seconds)
}

func (m *PrometheusMetrics) SetCacheEntries(count int) {
	m.cacheEntries.Set(float64(count))
}

func (m *PrometheusMetrics) IncrementTruncations() {
	m.truncations.Inc()
}

func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve runs the metrics server until ctx is cancelled.
func (m *PrometheusMetrics) Serve(ctx context.Context, config MetricsConfig) error {
	if config.Path == "" {
		config.Path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(config.Path, m.Handler())
	for path, h := range config.Handlers {
		mux.Handle(path, h)
	}

	server := &http.Server{
		Addr:              config.Addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	m.mu.Lock()
	m.server = server
	m.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", config.Addr).Str("path", config.Path).Msg("Starting Prometheus metrics server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err, ok := <-errChan:
		if ok {
			log.Error().Err(err).Msg("Metrics server error")
			return err
		}
		return nil
	case <-ctx.Done():
		return m.StopServer()
	}
}

func (m *PrometheusMetrics) StopServer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}
