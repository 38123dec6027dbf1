package app

import (
	"context"
	"errors"
	"net/netip"
	"sync"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
)

type mockReporter struct {
	mu      sync.Mutex
	reports []domain.Report
	err     error
	score   int
	panics  bool
}

func (m *mockReporter) Report(ctx context.Context, report domain.Report) (*domain.ReportResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panics {
		panic("intentional panic for testing")
	}
	m.reports = append(m.reports, report)
	if m.err != nil {
		return nil, m.err
	}
	return &domain.ReportResult{IPAddress: report.IP.String(), AbuseConfidenceScore: m.score}, nil
}

func (m *mockReporter) Name() string { return "mock" }

func (m *mockReporter) Calls() []domain.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Report, len(m.reports))
	copy(out, m.reports)
	return out
}

type memStore struct {
	mu      sync.Mutex
	data    map[string]int64
	saves   int
	saveErr error
}

func newMemStore(initial map[string]int64) *memStore {
	data := make(map[string]int64, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	return &memStore{data: data}
}

func (s *memStore) Load() (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) Save(entries map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.data = make(map[string]int64, len(entries))
	for k, v := range entries {
		s.data[k] = v
	}
	return nil
}

func (s *memStore) Close() error     { return nil }
func (s *memStore) Location() string { return "memory" }

func (s *memStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
}

func (r *recordingObserver) ObserveOutcome(outcome domain.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

type recordingSubscriber struct {
	mu       sync.Mutex
	attempts []*domain.ReportAttempt
}

func (r *recordingSubscriber) OnReport(attempt *domain.ReportAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
}

type prefixFilter struct {
	prefix netip.Prefix
}

func (f prefixFilter) Contains(addr netip.Addr) bool { return f.prefix.Contains(addr) }
func (f prefixFilter) Name() string                  { return "test" }

var errReportRejected = errors.New("abuseipdb: 429 Too Many Requests")
