package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

var ErrReplayed = errors.New("envelope already used")

var bucketNonces = []byte("nonces")

// ReplayStore remembers used envelope nonces until they can no longer be
// replayed.
type ReplayStore struct {
	db  *bbolt.DB
	ttl time.Duration
}

// OpenReplayStore opens (or creates) the nonce database at path.
func OpenReplayStore(path string, ttl time.Duration) (*ReplayStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open replay store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNonces)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = 20 * time.Minute
	}
	return &ReplayStore{db: db, ttl: ttl}, nil
}

// Close releases the underlying database handle.
func (s *ReplayStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Use marks key as consumed at now. It fails with ErrReplayed when key was
// consumed within the TTL.
func (s *ReplayStore) Use(key string, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("replay store not initialised")
	}
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return fmt.Errorf("replay key required")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketNonces)
		if raw := bucket.Get([]byte(trimmed)); len(raw) == 8 {
			if int64(binary.BigEndian.Uint64(raw)) > now.Unix() {
				return ErrReplayed
			}
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(now.Add(s.ttl).Unix()))
		return bucket.Put([]byte(trimmed), buf)
	})
}

// Prune deletes entries whose TTL elapsed before now and reports how many
// were removed.
func (s *ReplayStore) Prune(now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketNonces)
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			if len(v) != 8 || int64(binary.BigEndian.Uint64(v)) <= now.Unix() {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
