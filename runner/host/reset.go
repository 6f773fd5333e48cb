package host

// reset re-derives this host's in-memory state from the tracking table,
// the way spec §4.5 prescribes after any EventProcessor failure other than
// a uniqueness conflict, and §4.4 prescribes after a causal-dependency
// failure surfaced while pulling. It flushes the upstream event queue (any
// event still in it was fetched under positions that are about to be
// recomputed) and re-derives positions/readers from the tracking table,
// which is authoritative.
//
// Per the resolved "range-limit re-arm" open question (spec §9), reset
// always re-arms hasBeenPrompted on completion: the host may have cleared
// the signal before discovering it still has unfetched notifications, and
// without re-arming here it would wait for an external prompt that may
// never come.
func (h *Host) reset(reason string) {
	h.logger.WithField("reason", reason).Warn("resetting host: re-deriving positions and readers from tracking table")

	h.drainEvents()

	if _, err := h.doDBJob(func() (interface{}, error) {
		return nil, h.resetReaders()
	}); err != nil {
		h.logger.WithError(err).Error("reset: failed to re-derive reader state")
	}
	if _, err := h.doDBJob(func() (interface{}, error) {
		return nil, h.resetPositionsLocked()
	}); err != nil {
		h.logger.WithError(err).Error("reset: failed to re-derive positions")
	}

	h.arm()
}

func (h *Host) drainEvents() {
	for {
		select {
		case <-h.events:
		default:
			return
		}
	}
}
