package ports

import "github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"

// ProcessingObserver defines the interface for observing processing results.
// Used to track metrics for all handled lines, not just reports.
type ProcessingObserver interface {
	// ObserveOutcome records the result of handling a line.
	//
	// Parameters:
	//   - outcome: The classification of the line (e.g., "ignored", "recent", "reported")
	ObserveOutcome(outcome domain.Outcome)
}
