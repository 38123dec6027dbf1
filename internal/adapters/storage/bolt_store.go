package storage

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

var ReportedBucket = []byte("reported")

// BoltStore keeps the cache in a bbolt database. Save replaces the bucket
// inside a single transaction.
type BoltStore struct {
	db     *bolt.DB
	dbPath string
}

func NewBoltStore(dbPath string) (*BoltStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{
		NoGrowSync: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(ReportedBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Debug().Str("db_path", dbPath).Msg("Bolt cache store opened")

	return &BoltStore{db: db, dbPath: dbPath}, nil
}

func (s *BoltStore) Load() (map[string]int64, error) {
	entries := make(map[string]int64)
	skipped := 0

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(ReportedBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			addr, err := netip.ParseAddr(string(k))
			if err != nil {
				skipped++
				return nil
			}
			ts, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil || ts < 0 {
				skipped++
				return nil
			}
			entries[addr.String()] = ts
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read bolt cache: %w", err)
	}

	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Str("db_path", s.dbPath).Msg("Skipped malformed cache entries")
	}
	return entries, nil
}

func (s *BoltStore) Save(entries map[string]int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(ReportedBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(ReportedBucket)
		if err != nil {
			return err
		}
		for ip, ts := range entries {
			if err := b.Put([]byte(ip), []byte(strconv.FormatInt(ts, 10))); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Location() string {
	return s.dbPath
}
