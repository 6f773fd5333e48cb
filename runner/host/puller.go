package host

import (
	"context"
	"time"

	"github.com/relabs-tech/kurbisio-runner/runner/process"
)

// runPuller implements the Puller loop (spec §4.4): wait for a prompt (or
// the poll_interval fallback timer, so a dropped or never-sent Prompt
// cannot stall a host indefinitely — spec §4.1/§6, S2), snapshot current
// heads, then for each upstream fetch notifications up to RangeLimit at a
// time and enqueue them for the EventProcessor.
func (h *Host) runPuller() {
	defer h.wg.Done()

	for {
		select {
		case <-h.hasBeenPrompted:
		case <-time.After(h.pollInterval):
		case <-h.stopCh:
			return
		}

		currentHeads, known := h.snapshotHeads()

		for upstream, log := range h.snapshotUpstreamLogs() {
			if h.isStopped() {
				return
			}
			h.pullOne(upstream, log, currentHeads[upstream], known[upstream])
		}

		select {
		case <-time.After(rateCapInterval):
		case <-h.stopCh:
			return
		}
	}
}

func (h *Host) snapshotUpstreamLogs() map[string]process.NotificationLog {
	// upstreamLogs is only ever written once, during Init, before inited is
	// set under initMu. The poll timer can wake the Puller before Init, so
	// it sees no upstreams until isInited reports true; after that the map
	// is safe to read without a lock.
	if !h.isInited() {
		return nil
	}
	return h.upstreamLogs
}

func (h *Host) pullOne(upstream string, log process.NotificationLog, head int64, headKnown bool) {
	position, havePosition := h.getPosition(upstream)
	var currentPosition int64
	if havePosition {
		currentPosition = position
	}

	if headKnown && currentPosition >= head {
		return // up to date
	}

	first := currentPosition + 1
	var last *int64
	if headKnown {
		l := first + RangeLimit - 1
		last = &l
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	notifications, err := log.GetNotifications(ctx, &first, last)
	cancel()
	if err != nil {
		h.logger.WithError(err).WithField("upstream", upstream).Warn("get_notifications failed, will retry on next prompt")
		return
	}

	if len(notifications) == RangeLimit {
		h.arm() // more may be available; re-iterate immediately
	}

	if len(notifications) > 0 {
		h.advancePositionIfGreater(upstream, notifications[len(notifications)-1].ID)
	}

	for _, n := range notifications {
		if h.isStopped() {
			return
		}
		if _, err := h.doDBJob(func() (interface{}, error) {
			return nil, h.app.CheckCausalDependencies(upstream, n.CausalDependencies)
		}); err != nil {
			// spec §7: a causal-dependency failure triggers a local reset and
			// waits for a subsequent prompt, rather than dropping the batch
			// silently. The rest of this pass over upstream is abandoned;
			// reset re-arms hasBeenPrompted so the pass is retried.
			h.logger.WithError(err).WithField("upstream", upstream).WithField("notification", n.ID).
				Warn("causal dependency unsatisfied, resetting")
			h.reset("causal dependency unsatisfied on " + upstream)
			return
		}

		event, err := h.decodeEvent(n)
		if err != nil {
			h.logger.WithError(err).WithField("upstream", upstream).WithField("notification", n.ID).
				Error("failed to decode event from notification")
			return
		}

		item := eventItem{event: event, notificationID: n.ID, upstream: upstream}
		select {
		case h.events <- item:
		case <-h.stopCh:
			return
		}
	}
}

func (h *Host) decodeEvent(n process.Notification) (process.Event, error) {
	v, err := h.doDBJob(func() (interface{}, error) {
		return h.app.GetEventFromNotification(n)
	})
	if err != nil {
		return process.Event{}, err
	}
	event, _ := v.(process.Event)
	return event, nil
}
