// Package memstore is an in-memory implementation of store.Store, used by
// the runner's own test suite and by example systems that don't need
// durability. It is safe for concurrent use.
package memstore

import (
	"context"
	"sync"

	runnererrors "github.com/relabs-tech/kurbisio-runner/runner/errors"
	"github.com/relabs-tech/kurbisio-runner/runner/process"
	"github.com/relabs-tech/kurbisio-runner/runner/store"
)

type logKey struct {
	process  string
	pipeline int
}

type trackingKey struct {
	downstream, upstream string
	pipeline             int
}

// Store is an in-memory Store. The zero value is not usable; use New.
type Store struct {
	mu         sync.Mutex
	logs       map[logKey][]process.Notification
	tracked    map[trackingKey]map[int64]struct{}
	maxTracked map[trackingKey]int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		logs:       make(map[logKey][]process.Notification),
		tracked:    make(map[trackingKey]map[int64]struct{}),
		maxTracked: make(map[trackingKey]int64),
	}
}

// RunInTransaction runs fn against a tx that mutates this Store directly.
// Since the whole Store is guarded by a single mutex for the call's
// duration, this gives the same serializability a real database
// transaction provides, without partial rollback support: fn's mutations up
// to the point of an error are discarded because they were only staged in
// the tx, not applied, until fn returns nil.
func (s *Store) RunInTransaction(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, staged: make(map[logKey][]process.Notification)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	store         *Store
	staged        map[logKey][]process.Notification
	trackedInTx   []trackingKey
	trackedIDInTx []int64
}

func (tx *memTx) InsertTracking(downstream, upstream string, pipeline int, notificationID int64) error {
	key := trackingKey{downstream: downstream, upstream: upstream, pipeline: pipeline}
	seen := tx.store.tracked[key]
	if seen == nil {
		seen = make(map[int64]struct{})
		tx.store.tracked[key] = seen
	}
	if _, exists := seen[notificationID]; exists {
		return &runnererrors.UniquenessConflictError{
			Downstream: downstream, Upstream: upstream, Pipeline: pipeline, NotificationID: notificationID,
		}
	}
	// Stage, commit on tx success in commit().
	tx.trackedInTx = append(tx.trackedInTx, key)
	tx.trackedIDInTx = append(tx.trackedIDInTx, notificationID)
	return nil
}

func (tx *memTx) AppendEvents(proc string, pipeline int, newEvents []process.Event) ([]process.Notification, error) {
	key := logKey{process: proc, pipeline: pipeline}
	existing := tx.store.logs[key]
	staged := tx.staged[key]
	nextID := int64(len(existing) + len(staged) + 1)

	notifications := make([]process.Notification, 0, len(newEvents))
	for _, e := range newEvents {
		n := process.Notification{ID: nextID, Topic: e.Topic, State: e.Payload}
		staged = append(staged, n)
		notifications = append(notifications, n)
		nextID++
	}
	tx.staged[key] = staged
	return notifications, nil
}

func (tx *memTx) commit() {
	for key, notifications := range tx.staged {
		tx.store.logs[key] = append(tx.store.logs[key], notifications...)
	}
	for i, key := range tx.trackedInTx {
		tx.store.tracked[key][tx.trackedIDInTx[i]] = struct{}{}
		if tx.trackedIDInTx[i] > tx.store.maxTracked[key] {
			tx.store.maxTracked[key] = tx.trackedIDInTx[i]
		}
	}
}

// GetNotifications implements store.Store.
func (s *Store) GetNotifications(ctx context.Context, proc string, pipeline int, start, stop *int64) ([]process.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := logKey{process: proc, pipeline: pipeline}
	all := s.logs[key]

	var lo int64 = 0
	if start != nil {
		lo = *start
	}
	var hi int64 = int64(len(all))
	if stop != nil && *stop < hi {
		hi = *stop
	}

	var result []process.Notification
	for _, n := range all {
		if n.ID > lo && n.ID <= hi {
			result = append(result, n)
		}
	}
	return result, nil
}

// GetMaxNotificationID implements store.Store.
func (s *Store) GetMaxNotificationID(ctx context.Context, proc string, pipeline int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := logKey{process: proc, pipeline: pipeline}
	return int64(len(s.logs[key])), nil
}

// GetMaxTrackingNotificationID implements store.Store.
func (s *Store) GetMaxTrackingNotificationID(ctx context.Context, downstream, upstream string, pipeline int) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := trackingKey{downstream: downstream, upstream: upstream, pipeline: pipeline}
	if _, ok := s.maxTracked[key]; !ok {
		return nil, nil
	}
	v := s.maxTracked[key]
	return &v, nil
}

// SetupTables is a no-op for the in-memory store.
func (s *Store) SetupTables(ctx context.Context, proc string, pipelineIDs []int) error {
	return nil
}
