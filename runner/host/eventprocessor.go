package host

import (
	"context"

	runnererrors "github.com/relabs-tech/kurbisio-runner/runner/errors"
	"github.com/relabs-tech/kurbisio-runner/runner/process"
)

type processResult struct {
	newEvents        []process.Event
	newNotifications []process.Notification
}

// runEventProcessor implements the EventProcessor loop (spec §4.5): take
// the next queued upstream event, apply it via the process application
// inside one transaction that also records the tracking row, and on
// success, if any produced event is notifiable, queue a prompt for every
// downstream. A uniqueness conflict
// means this notification was already processed in a prior attempt and is
// treated as a no-op success; any other error triggers a reset.
func (h *Host) runEventProcessor() {
	defer h.wg.Done()

	for {
		select {
		case item := <-h.events:
			h.processOne(item)
		case <-h.stopCh:
			return
		}
	}
}

func (h *Host) processOne(item eventItem) {
	v, err := h.doDBJob(func() (interface{}, error) {
		newEvents, newNotifications, err := h.app.ProcessUpstreamEvent(
			context.Background(), h.pipeline, item.event, item.notificationID, item.upstream,
		)
		return processResult{newEvents: newEvents, newNotifications: newNotifications}, err
	})
	if err != nil {
		if runnererrors.IsUniquenessConflict(err) {
			h.logger.WithField("upstream", item.upstream).WithField("notification", item.notificationID).
				Debug("notification already processed, skipping")
			return
		}
		h.logger.WithError(err).WithField("upstream", item.upstream).WithField("notification", item.notificationID).
			Error("failed to process upstream event, resetting")
		h.reset("event processing failure on " + item.upstream)
		return
	}

	h.advancePositionIfGreater(item.upstream, item.notificationID)

	result, _ := v.(processResult)
	h.promoteIfNotifiable(result)
}

// promoteIfNotifiable enqueues a downstream prompt if any of the new
// events produced by this process are notifiable (spec §4.2, §4.5), naming
// the highest notifiable notification id so downstream can fetch exactly
// up to it without an extra round trip to resolve the head itself.
func (h *Host) promoteIfNotifiable(result processResult) {
	var head *int64
	notifiable := false
	for i, e := range result.newEvents {
		if !e.Notifiable {
			continue
		}
		notifiable = true
		if i < len(result.newNotifications) {
			id := result.newNotifications[i].ID
			head = &id
		}
	}
	if !notifiable {
		return
	}
	h.pushDownstreamPrompt(head)
}
