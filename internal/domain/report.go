package domain

import (
	"encoding/json"
	"net/netip"
	"time"
)

// Outcome classifies what happened to one log line.
type Outcome string

const (
	OutcomeIgnored       Outcome = "ignored"
	OutcomeMissingSource Outcome = "missing_source"
	OutcomeInvalidSource Outcome = "invalid_source"
	OutcomeLocal         Outcome = "local"
	OutcomeAllowlisted   Outcome = "allowlisted"
	OutcomeRecent        Outcome = "recent"
	OutcomeReported      Outcome = "reported"
	OutcomeFailed        Outcome = "failed"
)

// Report is the payload submitted to the abuse-reporting service.
type Report struct {
	IP         netip.Addr `json:"ip"`
	Categories string     `json:"categories"`
	Comment    string     `json:"comment"`
}

// ReportResult carries the metadata returned on a successful report.
type ReportResult struct {
	IPAddress            string `json:"ipAddress"`
	AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
}

// ReportAttempt records one call to the reporter, successful or not.
type ReportAttempt struct {
	Timestamp  time.Time     `json:"timestamp"`
	IP         string        `json:"ip"`
	Categories string        `json:"categories"`
	Protocol   string        `json:"protocol"`
	DestPort   string        `json:"dest_port"`
	Success    bool          `json:"success"`
	Score      int           `json:"score,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

func (a *ReportAttempt) ToJSON() ([]byte, error) {
	return json.Marshal(a)
}
