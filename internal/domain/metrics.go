package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

type MetricsSnapshot struct {
	TotalLines      int64
	BlockEvents     int64
	Reported        int64
	FailedReports   int64
	Skipped         int64
	LastReportAt    time.Time
	LastReportError string
	Uptime          time.Duration
	StartTime       time.Time
}

// ReporterMetrics holds process-local counters shared by the monitor,
// the health endpoint and the CLI.
type ReporterMetrics struct {
	totalLines    atomic.Int64
	blockEvents   atomic.Int64
	reported      atomic.Int64
	failedReports atomic.Int64
	skipped       atomic.Int64

	lastReportAt    time.Time
	lastReportError string
	StartTime       time.Time

	mu sync.RWMutex
}

func NewReporterMetrics() *ReporterMetrics {
	return &ReporterMetrics{
		StartTime: time.Now(),
	}
}

// Record counts one handled line by its outcome.
func (m *ReporterMetrics) Record(outcome Outcome) {
	m.totalLines.Add(1)

	switch outcome {
	case OutcomeIgnored:
		return
	case OutcomeReported:
		m.blockEvents.Add(1)
		m.reported.Add(1)
	case OutcomeFailed:
		m.blockEvents.Add(1)
		m.failedReports.Add(1)
	case OutcomeMissingSource, OutcomeInvalidSource:
		m.skipped.Add(1)
	default:
		m.blockEvents.Add(1)
		m.skipped.Add(1)
	}
}

func (m *ReporterMetrics) RecordAttempt(attempt *ReportAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt.Success {
		m.lastReportAt = attempt.Timestamp
		m.lastReportError = ""
	} else {
		m.lastReportError = attempt.Error
	}
}

// OnReport lets the metrics subscribe to dispatcher report attempts.
func (m *ReporterMetrics) OnReport(attempt *ReportAttempt) {
	m.RecordAttempt(attempt)
}

func (m *ReporterMetrics) TotalLines() int64 {
	return m.totalLines.Load()
}

func (m *ReporterMetrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		TotalLines:      m.totalLines.Load(),
		BlockEvents:     m.blockEvents.Load(),
		Reported:        m.reported.Load(),
		FailedReports:   m.failedReports.Load(),
		Skipped:         m.skipped.Load(),
		LastReportAt:    m.lastReportAt,
		LastReportError: m.lastReportError,
		Uptime:          time.Since(m.StartTime),
		StartTime:       m.StartTime,
	}
}
