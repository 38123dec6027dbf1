package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
)

type HealthStatus struct {
	Healthy      bool          `json:"healthy"`
	Status       string        `json:"status"`
	WatchedFile  string        `json:"watched_file"`
	Offset       int64         `json:"offset"`
	CacheEntries int           `json:"cache_entries"`
	Reported     int64         `json:"reported"`
	Failed       int64         `json:"failed"`
	LastReportAt time.Time     `json:"last_report_at,omitempty"`
	Uptime       time.Duration `json:"uptime_ns"`
	Reason       string        `json:"reason,omitempty"`
}

// MonitorState is the part of app.Monitor the health check reads.
type MonitorState interface {
	IsRunning() bool
	Metrics() domain.MetricsSnapshot
}

// TailerState is the part of input.FileTailer the health check reads.
type TailerState interface {
	Path() string
	Offset() int64
}

// CacheState is the part of app.ReportCache the health check reads.
type CacheState interface {
	Len() int
}

type HealthChecker struct {
	monitor   MonitorState
	tailer    TailerState
	cache     CacheState
	startTime time.Time

	lastCheck     HealthStatus
	lastCheckTime time.Time
	lastCheckMu   sync.RWMutex
	checkInterval time.Duration
}

type HealthCheckerConfig struct {
	CheckInterval time.Duration
}

func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		CheckInterval: 5 * time.Second,
	}
}

func NewHealthChecker(monitor MonitorState, tailer TailerState, cache CacheState, config HealthCheckerConfig) *HealthChecker {
	return &HealthChecker{
		monitor:       monitor,
		tailer:        tailer,
		cache:         cache,
		checkInterval: config.CheckInterval,
		startTime:     time.Now(),
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.lastCheckMu.RLock()
	if !h.lastCheckTime.IsZero() && time.Since(h.lastCheckTime) < h.checkInterval {
		cached := h.lastCheck
		h.lastCheckMu.RUnlock()
		return cached
	}
	h.lastCheckMu.RUnlock()

	status := h.performCheck(ctx)

	h.lastCheckMu.Lock()
	h.lastCheck = status
	h.lastCheckTime = time.Now()
	h.lastCheckMu.Unlock()

	return status
}

func (h *HealthChecker) performCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Uptime: time.Since(h.startTime),
	}
	if h.cache != nil {
		status.CacheEntries = h.cache.Len()
	}
	if h.tailer != nil {
		status.WatchedFile = h.tailer.Path()
		status.Offset = h.tailer.Offset()
	}

	if h.monitor == nil || !h.monitor.IsRunning() {
		status.Healthy = false
		status.Status = "OFFLINE"
		status.Reason = "monitor not running"
		return status
	}

	snap := h.monitor.Metrics()
	status.Reported = snap.Reported
	status.Failed = snap.FailedReports
	status.LastReportAt = snap.LastReportAt

	if ctx.Err() != nil {
		status.Healthy = false
		status.Status = "TIMEOUT"
		status.Reason = "health check cancelled"
		return status
	}

	if status.WatchedFile != "" {
		if _, err := os.Stat(status.WatchedFile); errors.Is(err, os.ErrNotExist) {
			status.Healthy = false
			status.Status = "NO_LOG"
			status.Reason = fmt.Sprintf("watched file %s does not exist", status.WatchedFile)
			return status
		}
	}

	status.Healthy = true
	if snap.LastReportError != "" {
		status.Status = "DEGRADED"
		status.Reason = "last report failed: " + snap.LastReportError
	} else {
		status.Status = "HEALTHY"
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
