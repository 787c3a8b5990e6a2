// Package prefs stores user preferences that outlive a single save: the
// sticky destination database and the last-used tags and capture mode.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketPrefs = "prefs" // key: preference name -> JSON value

	keyTarget   = "target"
	keyLastSave = "last_save"
)

// Target is the database new clippings go to when a save names none.
type Target struct {
	DatabaseID   string `json:"database_id"`
	DatabaseName string `json:"database_name"`
}

// LastSave remembers the options of the most recent successful save.
type LastSave struct {
	Tags            string `json:"tags"`
	Mode            string `json:"mode"`
	GenerateSummary bool   `json:"generate_summary"`
}

// Store is a bbolt-backed preference store. The database file is opened
// only for the length of each transaction, so several processes can share it.
type Store struct {
	path string
	mu   sync.Mutex
}

// lockTimeout bounds the wait for another process's transaction to finish.
const lockTimeout = 2 * time.Second

// Open prepares the preference database at path, creating it if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	s := &Store{path: path}
	if err := s.update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketPrefs))
		return err
	}); err != nil {
		return nil, fmt.Errorf("initializing %s: %w", path, err)
	}
	return s, nil
}

// Close is a no-op; no file handle is held between operations.
func (s *Store) Close() error {
	return nil
}

func (s *Store) open(readOnly bool) (*bbolt.DB, error) {
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: lockTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.path, err)
	}
	return db, nil
}

func (s *Store) view(fn func(*bbolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(true)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.View(fn)
}

func (s *Store) update(fn func(*bbolt.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); err == nil {
			err = cerr
		}
	}()
	return db.Update(fn)
}

// Target returns the sticky target, or nil if none is selected.
func (s *Store) Target(ctx context.Context) (*Target, error) {
	var t Target
	found, err := s.get(ctx, keyTarget, &t)
	if err != nil || !found {
		return nil, err
	}
	return &t, nil
}

// SetTarget stores the sticky target.
func (s *Store) SetTarget(ctx context.Context, t Target) error {
	if t.DatabaseID == "" {
		return errors.New("database id cannot be empty")
	}
	return s.put(ctx, keyTarget, t)
}

// ClearTarget forgets the sticky target.
func (s *Store) ClearTarget(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketPrefs)).Delete([]byte(keyTarget))
	})
}

// LastSave returns the options of the last successful save, zero if none.
func (s *Store) LastSave(ctx context.Context) (LastSave, error) {
	var ls LastSave
	_, err := s.get(ctx, keyLastSave, &ls)
	return ls, err
}

// SetLastSave records the options of a successful save.
func (s *Store) SetLastSave(ctx context.Context, ls LastSave) error {
	return s.put(ctx, keyLastSave, ls)
}

func (s *Store) get(ctx context.Context, key string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var data []byte
	if err := s.view(func(tx *bbolt.Tx) error {
		if raw := tx.Bucket([]byte(bucketPrefs)).Get([]byte(key)); raw != nil {
			data = append([]byte(nil), raw...)
		}
		return nil
	}); err != nil {
		return false, err
	}

	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	return s.update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketPrefs)).Put([]byte(key), data)
	})
}
