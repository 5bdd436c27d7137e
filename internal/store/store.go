// Package store persists process-wide session state in a local bbolt file.
//
// All session keys live in a single bucket. The store is opened once at
// startup before any other component runs; if it cannot be opened the
// process has no safe degraded mode and must exit.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Session state keys. The session manager is the sole writer of these.
const (
	KeyAccessToken   = "adminAuthToken"
	KeyRefreshToken  = "adminRefreshTokenEncrypted"
	KeyUser          = "user"
	KeyCredentials   = "userCredentials"
	KeyPrefill       = "prefillData"
	KeyLastActivity  = "lastActivityTimestamp"
)

const bucketName = "session"

// Store is a bbolt-backed key-value store for session state.
type Store struct {
	db *bolt.DB
}

// Open initializes the bbolt file and ensures the session bucket exists.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("store get %q: %w", key, err)
	}
	return val, val != nil, nil
}

// GetString returns the value for key as a string.
func (s *Store) GetString(key string) (string, bool, error) {
	v, ok, err := s.Get(key)
	return string(v), ok, err
}

// Set writes a value under key.
func (s *Store) Set(key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("store set %q: %w", key, err)
	}
	return nil
}

// SetString writes a string value under key.
func (s *Store) SetString(key, value string) error {
	return s.Set(key, []byte(value))
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("store delete %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
