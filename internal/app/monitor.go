package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/ports"
)

// LineHandler processes a single log line.
type LineHandler interface {
	Handle(ctx context.Context, line string) domain.Outcome
}

// Monitor feeds lines from a LineSource to the dispatcher one at a time, in
// file order.
type Monitor struct {
	source     ports.LineSource
	dispatcher LineHandler
	metrics    *domain.ReporterMetrics

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMonitor(source ports.LineSource, dispatcher LineHandler) *Monitor {
	return &Monitor{
		source:     source,
		dispatcher: dispatcher,
		metrics:    domain.NewReporterMetrics(),
	}
}

// Run consumes lines until ctx is cancelled or the source closes.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	defer func() {
		cancel()
		if err := m.source.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping line source")
		}
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(done)
	}()

	lineChan, errChan := m.source.Start(ctx)
	log.Info().Msg("Monitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Monitor stopped")
			return nil
		case err, ok := <-errChan:
			if !ok {
				errChan = nil
				continue
			}
			if errors.Is(err, domain.ErrLogFileMissing) {
				return err
			}
			log.Error().Err(err).Msg("Error reading log")
		case line, ok := <-lineChan:
			if !ok {
				log.Info().Msg("Line channel closed")
				if errChan != nil {
					if err, ok := <-errChan; ok && errors.Is(err, domain.ErrLogFileMissing) {
						return err
					}
				}
				return nil
			}
			m.process(ctx, line)
		}
	}
}

// process handles one line; a panic is logged and the line dropped.
func (m *Monitor) process(ctx context.Context, line string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic while handling line")
			m.metrics.Record(domain.OutcomeFailed)
		}
	}()

	outcome := m.dispatcher.Handle(ctx, line)
	m.metrics.Record(outcome)
}

// Stop cancels a running monitor and waits for it to return.
func (m *Monitor) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	running := m.running
	m.mu.RUnlock()

	if !running {
		return
	}

	log.Info().Msg("Stopping monitor gracefully...")
	cancel()
	<-done
}

func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Monitor) Metrics() domain.MetricsSnapshot {
	return m.metrics.GetSnapshot()
}

func (m *Monitor) InternalMetrics() *domain.ReporterMetrics {
	return m.metrics
}
