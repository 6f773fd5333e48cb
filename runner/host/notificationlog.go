package host

import (
	"context"
	"time"

	runnererrors "github.com/relabs-tech/kurbisio-runner/runner/errors"
	"github.com/relabs-tech/kurbisio-runner/runner/process"
	"github.com/relabs-tech/kurbisio-runner/runner/transport"
)

// RemoteNotificationLog is the NotificationLogView of spec §4.7: a handle a
// downstream host holds on an upstream host's notification store. Its sole
// operation, GetNotifications, is forwarded over transport to the
// upstream's dispatcher, which serializes the read through its own
// DBWorker.
type RemoteNotificationLog struct {
	Upstream string
	Handle   *transport.Handle
}

// GetNotifications implements process.NotificationLog.
func (r *RemoteNotificationLog) GetNotifications(ctx context.Context, first, last *int64) ([]process.Notification, error) {
	return withRetry(ctx, func() ([]process.Notification, error) {
		v, err := r.Handle.Invoke(ctx, "get_notifications", first, last)
		if err != nil {
			return nil, runnererrors.NewOperationalError("get_notifications from "+r.Upstream, err)
		}
		notifications, _ := v.([]process.Notification)
		return notifications, nil
	})
}

// withRetry retries fn up to remoteRetryAttempts times, waiting
// remoteRetryWait between attempts, as long as fn returns an operational
// error (spec §4.4, §7). Any other error — notably a programming error —
// is returned immediately without retry.
func withRetry(ctx context.Context, fn func() ([]process.Notification, error)) ([]process.Notification, error) {
	var lastErr error
	for attempt := 0; attempt < remoteRetryAttempts; attempt++ {
		notifications, err := fn()
		if err == nil {
			return notifications, nil
		}
		lastErr = err
		if _, operational := err.(*runnererrors.OperationalError); !operational {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(remoteRetryWait):
		}
	}
	return nil, lastErr
}

// handleGetNotifications serves a remote get_notifications call by reading
// this host's own store on the DBWorker (spec §4.7). first/last are
// inclusive on the public surface; the Store's GetNotifications is
// half-open on the low end, so first is translated to first-1.
func (h *Host) handleGetNotifications(first, last *int64) ([]process.Notification, error) {
	var start *int64
	if first != nil {
		s := *first - 1
		start = &s
	}

	v, err := h.doDBJob(func() (interface{}, error) {
		return h.store.GetNotifications(context.Background(), h.name, h.pipeline, start, last)
	})
	if err != nil {
		return nil, err
	}
	notifications, _ := v.([]process.Notification)
	return notifications, nil
}
