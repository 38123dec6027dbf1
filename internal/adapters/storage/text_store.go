// Package storage implements ports.CacheStore backends for the report cache.
package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// TextStore keeps the cache as plain text, one "<ip> <unix-seconds>" entry
// per line. Every Save rewrites the whole file through a temp file and a
// rename, so readers never observe a partial write.
type TextStore struct {
	path string
}

func NewTextStore(path string) *TextStore {
	return &TextStore{path: filepath.Clean(path)}
}

func (s *TextStore) Load() (map[string]int64, error) {
	entries := make(map[string]int64)

	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info().Str("file", s.path).Msg("Cache file does not exist. No data to load.")
			return entries, nil
		}
		return nil, fmt.Errorf("open cache file: %w", err)
	}
	defer file.Close()

	skipped := 0
	reader := bufio.NewReader(file)
	for {
		raw, err := reader.ReadString('\n')
		if line := strings.TrimSpace(raw); line != "" {
			if ip, ts, ok := ParseEntry(line); ok {
				entries[ip] = ts
			} else {
				skipped++
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read cache file: %w", err)
		}
	}

	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Str("file", s.path).Msg("Skipped malformed cache entries")
	}
	return entries, nil
}

// ParseEntry parses one "<ip> <unix-seconds>" line.
func ParseEntry(line string) (string, int64, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return "", 0, false
	}
	addr, err := netip.ParseAddr(fields[0])
	if err != nil {
		return "", 0, false
	}
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || ts < 0 {
		return "", 0, false
	}
	return addr.String(), ts, true
}

// FormatEntries renders entries sorted by IP, so equal maps always produce
// identical bytes.
func FormatEntries(entries map[string]int64) []byte {
	ips := make([]string, 0, len(entries))
	for ip := range entries {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	var buf bytes.Buffer
	for _, ip := range ips {
		buf.WriteString(ip)
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatInt(entries[ip], 10))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func (s *TextStore) Save(entries map[string]int64) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(FormatEntries(entries)); err != nil {
		cleanup()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace cache file: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

func (s *TextStore) Close() error {
	return nil
}

func (s *TextStore) Location() string {
	return s.path
}
