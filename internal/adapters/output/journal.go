// Package output provides the outbound adapters of the reporter.
//
// This file implements report-attempt sinks:
//   - ReportJournal: Buffered JSON-lines audit trail on disk
//   - ReportHistory: In-memory ring buffer served over HTTP
//
// Features:
//   - Buffered I/O (64KB buffer)
//   - Periodic automatic flushing (1 second)
//   - File sync on flush for durability
//   - Ring buffer for memory-bounded storage
//
// Thread Safety: All implementations are safe for concurrent OnReport() calls.
package output

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
)

// ReportJournal appends every report attempt as one JSON object per line.
//
// Features:
//   - Buffered writes
//   - Periodic flush every second
//   - File sync on flush for durability
type ReportJournal struct {
	writer    io.Writer     // Output destination
	bufWriter *bufio.Writer // Buffered writer (64KB)
	file      *os.File      // File handle (nil for non-file writers)
	mu        sync.Mutex    // Protects writes
	encoder   *json.Encoder // Reused encoder
	stopFlush chan struct{} // Stop periodic flush
	closeOnce sync.Once
}

// NewReportJournal opens (or creates) a journal file in append mode.
//
// Parameters:
//   - path: Journal file path
//
// Returns:
//   - Configured ReportJournal
//   - Error if file creation fails
//
// File Permissions: 0600 (owner read/write only)
func NewReportJournal(path string) (*ReportJournal, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	j := newReportJournal(file)
	j.file = file
	return j, nil
}

// NewReportJournalWriter writes the journal to an arbitrary writer.
func NewReportJournalWriter(w io.Writer) *ReportJournal {
	return newReportJournal(w)
}

func newReportJournal(w io.Writer) *ReportJournal {
	const bufferSize = 64 * 1024
	bufWriter := bufio.NewWriterSize(w, bufferSize)

	j := &ReportJournal{
		writer:    w,
		bufWriter: bufWriter,
		encoder:   json.NewEncoder(bufWriter),
		stopFlush: make(chan struct{}),
	}

	go j.periodicFlush()
	return j
}

// periodicFlush flushes the buffer every second until Close() is called.
func (j *ReportJournal) periodicFlush() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.Flush(); err != nil {
				log.Warn().Err(err).Msg("Failed to flush report journal")
			}
		case <-j.stopFlush:
			return
		}
	}
}

// OnReport implements ports.ReportSubscriber.
//
// Parameters:
//   - attempt: Attempt to serialize and append
//
// Thread Safety: Safe for concurrent calls via mutex.
func (j *ReportJournal) OnReport(attempt *domain.ReportAttempt) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.encoder.Encode(attempt); err != nil {
		log.Warn().Err(err).Str("ip", attempt.IP).Msg("Failed to write report journal entry")
	}
}

// Flush forces buffered data to disk.
//
// Returns:
//   - nil on success
//   - Error if flush or sync fails
func (j *ReportJournal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.bufWriter.Flush(); err != nil {
		return err
	}
	if j.file != nil {
		return j.file.Sync()
	}
	return nil
}

// Close stops periodic flushing, flushes the remaining buffer and closes
// the file. Calling Close more than once is safe.
func (j *ReportJournal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		close(j.stopFlush)

		j.mu.Lock()
		defer j.mu.Unlock()

		if err = j.bufWriter.Flush(); err != nil {
			return
		}
		if j.file != nil {
			if err = j.file.Sync(); err != nil {
				return
			}
			err = j.file.Close()
		}
	})
	return err
}

// ReportHistory stores the latest report attempts in a fixed-size ring
// buffer.
//
// Thread Safety: Safe for concurrent access via RWMutex.
type ReportHistory struct {
	attempts []*domain.ReportAttempt // Ring buffer storage
	head     int                     // Next write position
	count    int                     // Current attempt count
	capacity int                     // Buffer capacity
	mu       sync.RWMutex            // Protects all fields
}

// NewReportHistory creates an in-memory attempt buffer.
//
// Parameters:
//   - capacity: Maximum attempts to store (default: 100 if <= 0)
func NewReportHistory(capacity int) *ReportHistory {
	if capacity <= 0 {
		capacity = 100
	}
	return &ReportHistory{
		attempts: make([]*domain.ReportAttempt, capacity),
		capacity: capacity,
	}
}

// OnReport implements ports.ReportSubscriber. Overwrites the oldest
// attempt when the buffer is full.
func (h *ReportHistory) OnReport(attempt *domain.ReportAttempt) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.attempts[h.head] = attempt
	h.head = (h.head + 1) % h.capacity
	if h.count < h.capacity {
		h.count++
	}
}

// Latest returns the n most recent attempts, oldest first.
//
// Parameters:
//   - n: Number of attempts to return (capped at count, all if <= 0)
func (h *ReportHistory) Latest(n int) []*domain.ReportAttempt {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > h.count {
		n = h.count
	}
	result := make([]*domain.ReportAttempt, n)
	for i := 0; i < n; i++ {
		idx := (h.head - n + i + h.capacity) % h.capacity
		result[i] = h.attempts[idx]
	}
	return result
}

func (h *ReportHistory) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// ServeHTTP writes the latest attempts as a JSON array. The optional
// "limit" query parameter caps the number returned.
func (h *ReportHistory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Latest(limit)); err != nil {
		log.Warn().Err(err).Msg("Failed to encode report history")
	}
}
