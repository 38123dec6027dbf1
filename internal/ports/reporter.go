// Package ports defines the primary and secondary port interfaces following
// hexagonal architecture (ports and adapters pattern).
//
// This package contains interfaces that define the contract between the
// reporting pipeline and external infrastructure (log source, abuse-reporting
// service, cache storage, observability outputs).
//
// Design Principles:
//   - Interfaces are small and focused
//   - Dependencies flow inward (domain has no external dependencies)
//   - Implementations provided by adapters in internal/adapters/
package ports

import (
	"context"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
)

// Reporter submits abuse reports to an external service.
//
// Implementations:
//   - AbuseIPDBReporter: POSTs to the AbuseIPDB v2 report endpoint
//   - DryRunReporter: Logs the report without any network call
type Reporter interface {
	// Report submits a single report.
	//
	// Parameters:
	//   - ctx: Context carrying the request deadline
	//   - report: IP, category codes and narrative
	//
	// Returns:
	//   - ReportResult with the service's confidence score on success
	//   - Error on network failure, timeout or non-2xx response
	//
	// Contract: a returned error means the report was NOT accepted and the
	// caller must leave its cache untouched.
	Report(ctx context.Context, report domain.Report) (*domain.ReportResult, error)

	// Name returns the reporter identifier for logging and metrics.
	Name() string
}

// ReportSubscriber defines the callback interface for report notification.
// Used by the dispatcher to notify interested components (metrics, journal).
type ReportSubscriber interface {
	// OnReport is called synchronously after every reporter call.
	//
	// Parameters:
	//   - attempt: The attempt record (safe to store reference)
	//
	// Performance: Implementation should return quickly, it runs on the
	// line-processing path.
	OnReport(attempt *domain.ReportAttempt)
}

// MetricsCollector defines the interface for observability metric collection.
// Implemented by the Prometheus adapter for scraping by monitoring systems.
//
// Thread Safety: All methods MUST be safe for concurrent calls.
type MetricsCollector interface {
	// ObserveReportDuration records the reporter round-trip time.
	//
	// Parameters:
	//   - seconds: Duration in seconds (float for sub-second precision)
	ObserveReportDuration(seconds float64)

	// SetCacheEntries updates the cache size gauge.
	SetCacheEntries(count int)

	// IncrementTruncations counts detected truncations of the watched file.
	IncrementTruncations()
}
