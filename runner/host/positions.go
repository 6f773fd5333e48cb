package host

// getPosition returns the last processed notification id for upstream, and
// whether one is recorded at all. Positions are seeded from the tracking
// table at Init/reset and advanced optimistically by the Puller and
// authoritatively by the EventProcessor's reset (spec §3).
func (h *Host) getPosition(upstream string) (int64, bool) {
	h.positionsMu.Lock()
	defer h.positionsMu.Unlock()
	pos, ok := h.positions[upstream]
	return pos, ok
}

// advancePositionIfGreater sets positions[upstream] to id if it is greater
// than the current value (or if none is recorded yet).
func (h *Host) advancePositionIfGreater(upstream string, id int64) {
	h.positionsMu.Lock()
	defer h.positionsMu.Unlock()
	if current, ok := h.positions[upstream]; !ok || id > current {
		h.positions[upstream] = id
	}
}
