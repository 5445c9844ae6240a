package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/pkg/types"
)

var bucketLifecycle = []byte("lifecycle")

// BoltStore keeps lifecycle records in a bbolt file. The file is opened per
// operation so that several processes on one host (the service and the
// watchdog) can share it; bbolt's file lock serialises them.
type BoltStore struct {
	path    string
	timeout time.Duration
}

// NewBoltStore creates the database file under dataDir if needed
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	s := &BoltStore{
		path:    filepath.Join(dataDir, "burrow.db"),
		timeout: 5 * time.Second,
	}

	err := s.update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketLifecycle); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketLifecycle, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) open() (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: s.timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func (s *BoltStore) update(fn func(tx *bolt.Tx) error) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(fn)
}

func (s *BoltStore) view(fn func(tx *bolt.Tx) error) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

// Get returns the workload's lifecycle record
func (s *BoltStore) Get(ctx context.Context, w types.Workload) (*types.LifecycleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *types.LifecycleRecord
	err := s.view(func(tx *bolt.Tx) error {
		var err error
		rec, err = readRecord(tx.Bucket(bucketLifecycle), w)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read lifecycle of %s: %w", w, err)
	}
	return rec, nil
}

// Transition performs the compare-and-set in a single write transaction
func (s *BoltStore) Transition(ctx context.Context, w types.Workload, from []types.LifecycleState, to types.LifecycleState, actor string) (*types.LifecycleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *types.LifecycleRecord
	err := s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLifecycle)
		current, err := readRecord(b, w)
		if err != nil {
			return err
		}
		if !containsState(from, current.State) {
			return &ConflictError{Current: current, From: from, To: to}
		}

		next := &types.LifecycleRecord{
			Workload:  w,
			State:     to,
			Revision:  current.Revision + 1,
			UpdatedAt: time.Now().UTC(),
			UpdatedBy: actor,
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(w.String()), data); err != nil {
			return err
		}
		rec = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to move %s to %s: %w", w, to, err)
	}
	return rec, nil
}

// Close is a no-op; the file is only held open during an operation
func (s *BoltStore) Close() error {
	return nil
}

func readRecord(b *bolt.Bucket, w types.Workload) (*types.LifecycleRecord, error) {
	data := b.Get([]byte(w.String()))
	if data == nil {
		return initialRecord(w), nil
	}
	var rec types.LifecycleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode lifecycle record: %w", err)
	}
	return &rec, nil
}
