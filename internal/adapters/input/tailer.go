package input

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
)

type TailState int

const (
	StateWatching TailState = iota
	StateTruncated
)

func (s TailState) String() string {
	switch s {
	case StateWatching:
		return "WATCHING"
	case StateTruncated:
		return "TRUNCATED"
	default:
		return "UNKNOWN"
	}
}

// FileTailer follows a single file by byte offset. It starts at the end of
// the file, so content present before Init is never emitted.
type FileTailer struct {
	path         string
	bufferSize   int
	pollInterval time.Duration
	onTruncate   func()

	mu          sync.Mutex
	offset      int64
	state       TailState
	info        os.FileInfo
	pending     []byte
	skipRest    bool
	initialized bool

	runMu    sync.Mutex
	running  bool
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
}

func NewFileTailer(path string, bufferSize int) *FileTailer {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &FileTailer{
		path:       filepath.Clean(path),
		bufferSize: bufferSize,
		stopChan:   make(chan struct{}),
	}
}

// SetPollInterval enables a periodic re-check in addition to change
// notifications. Zero disables polling.
func (t *FileTailer) SetPollInterval(d time.Duration) {
	t.pollInterval = d
}

// OnTruncate registers a callback invoked whenever the offset is reset.
func (t *FileTailer) OnTruncate(fn func()) {
	t.onTruncate = fn
}

// Init records the current end of file as the starting offset.
// A missing file yields domain.ErrLogFileMissing.
func (t *FileTailer) Init() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, err := os.Stat(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrLogFileMissing, t.path)
		}
		return fmt.Errorf("stat %s: %w", t.path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", t.path)
	}

	t.offset = info.Size()
	t.info = info
	t.state = StateWatching
	t.pending = t.pending[:0]
	t.skipRest = false
	t.initialized = true
	return nil
}

// ReadAppended returns every complete line appended since the last call.
// A trailing fragment without a newline is held back until it is completed.
func (t *FileTailer) ReadAppended() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return nil, errors.New("tailer not initialized")
	}

	info, err := os.Stat(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Between a remove and the next create.
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", t.path, err)
	}

	size := info.Size()
	replaced := t.info != nil && !os.SameFile(t.info, info)
	if size < t.offset || replaced {
		t.state = StateTruncated
		log.Warn().
			Str("file", t.path).
			Int64("offset", t.offset).
			Int64("size", size).
			Bool("replaced", replaced).
			Msg("File truncated. Resetting offset...")
		t.offset = 0
		t.pending = t.pending[:0]
		t.skipRest = false
		if t.onTruncate != nil {
			t.onTruncate()
		}
	}
	t.info = info

	if size == t.offset {
		t.state = StateWatching
		return nil, nil
	}

	file, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", t.path, err)
	}
	defer file.Close()

	reader := bufio.NewReaderSize(io.NewSectionReader(file, t.offset, size-t.offset), 64*1024)
	var lines []string

	for {
		chunk, err := reader.ReadSlice('\n')
		if len(chunk) > 0 {
			t.offset += int64(len(chunk))
			if line, ok := t.consume(chunk); ok {
				lines = append(lines, line)
			}
		}
		if err == nil || errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		return lines, fmt.Errorf("read %s: %w", t.path, err)
	}

	t.state = StateWatching
	return lines, nil
}

// consume appends chunk to the pending fragment and returns a line once a
// terminator is seen. Fragments beyond MaxLineLength are flushed early and
// the remainder of that physical line is discarded.
func (t *FileTailer) consume(chunk []byte) (string, bool) {
	complete := chunk[len(chunk)-1] == '\n'
	if complete {
		chunk = chunk[:len(chunk)-1]
	}

	if t.skipRest {
		if complete {
			t.skipRest = false
		}
		return "", false
	}

	t.pending = append(t.pending, chunk...)

	if !complete {
		if len(t.pending) <= domain.MaxLineLength {
			return "", false
		}
		line := string(t.pending[:domain.MaxLineLength])
		log.Warn().
			Int("size", len(t.pending)).
			Int("truncated_to", domain.MaxLineLength).
			Msg("Truncated oversized log line")
		t.pending = t.pending[:0]
		t.skipRest = true
		return line, true
	}

	if len(t.pending) > domain.MaxLineLength {
		log.Warn().
			Int("size", len(t.pending)).
			Int("truncated_to", domain.MaxLineLength).
			Msg("Truncated oversized log line")
		t.pending = t.pending[:domain.MaxLineLength]
	}

	line := strings.TrimRight(string(t.pending), "\r")
	t.pending = t.pending[:0]
	if strings.TrimSpace(line) == "" {
		return "", false
	}
	return line, true
}

func (t *FileTailer) Start(ctx context.Context) (<-chan string, <-chan error) {
	lineChan := make(chan string, t.bufferSize)
	errChan := make(chan error, 10)

	t.runMu.Lock()
	if t.running {
		t.runMu.Unlock()
		close(lineChan)
		close(errChan)
		return lineChan, errChan
	}
	t.running = true
	stop := make(chan struct{})
	t.stopChan = stop
	t.runMu.Unlock()

	go func() {
		defer close(lineChan)
		defer close(errChan)
		defer t.markStopped()

		t.mu.Lock()
		initialized := t.initialized
		t.mu.Unlock()
		if !initialized {
			if err := t.Init(); err != nil {
				errChan <- err
				return
			}
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			errChan <- fmt.Errorf("create watcher: %w", err)
			return
		}
		defer watcher.Close()

		// Watch the directory so a replaced file keeps being followed.
		if err := watcher.Add(filepath.Dir(t.path)); err != nil {
			errChan <- fmt.Errorf("watch %s: %w", filepath.Dir(t.path), err)
			return
		}

		t.runMu.Lock()
		t.watcher = watcher
		t.runMu.Unlock()

		var tick <-chan time.Time
		if t.pollInterval > 0 {
			ticker := time.NewTicker(t.pollInterval)
			defer ticker.Stop()
			tick = ticker.C
		}

		log.Info().Str("file", t.path).Int64("offset", t.Offset()).Msg("Now monitoring")

		name := filepath.Base(t.path)
		for {
			select {
			case <-ctx.Done():
				log.Debug().Msg("Context cancelled, stopping tailer")
				return
			case <-stop:
				log.Debug().Msg("Stop signal received, stopping tailer")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					if !t.drain(ctx, stop, lineChan, errChan) {
						return
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("File watcher error")
				sendErr(errChan, err)
			case <-tick:
				if !t.drain(ctx, stop, lineChan, errChan) {
					return
				}
			}
		}
	}()

	return lineChan, errChan
}

func (t *FileTailer) drain(ctx context.Context, stop <-chan struct{}, lineChan chan<- string, errChan chan<- error) bool {
	lines, err := t.ReadAppended()
	if err != nil {
		log.Warn().Err(err).Str("file", t.path).Msg("Error reading appended data")
		sendErr(errChan, err)
	}

	for _, line := range lines {
		select {
		case lineChan <- line:
		case <-ctx.Done():
			return false
		case <-stop:
			return false
		}
	}
	return true
}

func sendErr(errChan chan<- error, err error) {
	select {
	case errChan <- err:
	default:
	}
}

func (t *FileTailer) markStopped() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	t.running = false
	t.watcher = nil
}

func (t *FileTailer) Stop() error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if !t.running {
		return nil
	}

	select {
	case <-t.stopChan:
	default:
		close(t.stopChan)
	}
	return nil
}

func (t *FileTailer) IsRunning() bool {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	return t.running
}

func (t *FileTailer) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

func (t *FileTailer) State() TailState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *FileTailer) Path() string {
	return t.path
}
