// Package session holds the ephemeral OAuth and device-flow sessions in a
// bbolt-backed key-value store with per-key TTL. Sessions survive process
// restarts so an in-flight device login is not lost on redeploy.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned for missing or expired keys.
var ErrNotFound = errors.New("session not found")

var sessionsBucket = []byte("sessions")

type record struct {
	ExpiresAt int64           `json:"expires_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Store is a TTL key-value store for session state.
type Store struct {
	db   *bolt.DB
	stop chan struct{}
}

// OpenStore opens (or creates) the store file.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init session store: %w", err)
	}
	return &Store{db: db, stop: make(chan struct{})}, nil
}

// Put stores value under key with the given TTL, replacing any prior entry.
func (s *Store) Put(key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	entry, err := json.Marshal(record{
		ExpiresAt: time.Now().Add(ttl).Unix(),
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(key), entry)
	})
}

// Get loads the value under key into out. Expired entries are removed
// lazily and reported as ErrNotFound.
func (s *Store) Get(key string, out interface{}) error {
	var entry record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(sessionsBucket).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		return err
	}
	if time.Now().Unix() >= entry.ExpiresAt {
		s.Delete(key)
		return ErrNotFound
	}
	return json.Unmarshal(entry.Payload, out)
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(key))
	})
}

// Sweep removes every expired entry and returns how many were dropped.
func (s *Store) Sweep() (int, error) {
	now := time.Now().Unix()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(sessionsBucket)
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry record
			if json.Unmarshal(v, &entry) != nil || now >= entry.ExpiresAt {
				if err := cursor.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// StartSweeper runs Sweep on a fixed interval until Close.
func (s *Store) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed, err := s.Sweep(); err != nil {
					log.Printf("⚠️ Session sweep failed: %v", err)
				} else if removed > 0 {
					log.Printf("🧹 Swept %d expired sessions", removed)
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Close stops the sweeper and closes the store.
func (s *Store) Close() error {
	close(s.stop)
	return s.db.Close()
}
