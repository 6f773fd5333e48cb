// Package store defines the record-store contract external to the runner
// (spec §6): append, half-open range reads of notifications, max id
// lookups, and the tracking table used for exactly-once processing.
//
// Two implementations live under this package: memstore (in-memory, for
// tests) and postgres (backed by core/csql, for production).
package store

import (
	"context"

	"github.com/relabs-tech/kurbisio-runner/runner/process"
)

// Tx is a single atomic unit of work against one process's event log and
// the tracking table. A Store implementation commits everything a Tx did
// when the function passed to RunInTransaction returns nil, and rolls back
// otherwise — including when InsertTracking reports a uniqueness conflict.
type Tx interface {
	// InsertTracking inserts a tracking row for (downstream, upstream,
	// pipeline, notificationID). It returns an *errors.UniquenessConflictError
	// (see runner/errors) if the row already exists; callers must treat that
	// as "this notification was already processed" and abort the transaction.
	InsertTracking(downstream, upstream string, pipeline int, notificationID int64) error

	// AppendEvents appends newEvents to process's log on pipeline and returns
	// the Notifications they became, in the same order, with freshly
	// assigned monotonic ids.
	AppendEvents(process string, pipeline int, newEvents []process.Event) ([]process.Notification, error)
}

// Store is the record store contract consumed by the runner core.
type Store interface {
	// RunInTransaction executes fn within a single database transaction,
	// committing on nil return and rolling back otherwise. Implementations
	// must serialize concurrent calls touching the same (process, pipeline)
	// the way the spec's single DBWorker per host does; a Store is free to
	// rely on the database's own isolation instead.
	RunInTransaction(ctx context.Context, fn func(Tx) error) error

	// GetNotifications returns notifications for process on pipeline in the
	// half-open range (start, stop]: i.e. strictly greater than start, up to
	// and including stop. A nil start means "from the beginning"; a nil stop
	// means "up to the current end".
	GetNotifications(ctx context.Context, process string, pipeline int, start, stop *int64) ([]process.Notification, error)

	// GetMaxNotificationID returns the highest notification id currently
	// recorded for process on pipeline, or 0 if none exist.
	GetMaxNotificationID(ctx context.Context, process string, pipeline int) (int64, error)

	// GetMaxTrackingNotificationID returns the highest notification id from
	// upstream, on pipeline, tracked by downstream — or nil if none yet.
	GetMaxTrackingNotificationID(ctx context.Context, downstream, upstream string, pipeline int) (*int64, error)

	// SetupTables creates whatever backing tables/structures process needs
	// on every pipeline it will run on, idempotently. Only meaningful for
	// durable stores; memstore treats it as a no-op.
	SetupTables(ctx context.Context, process string, pipelineIDs []int) error
}
