package host

// onPrompt implements PromptIntake (spec §4.3). If p carries a head, the
// recorded head for p.Sender only ever moves forward; hasBeenPrompted fires
// (edge-triggered) whenever it changes or is seen for the first time. A
// nil head fires hasBeenPrompted unconditionally — used to kick the Puller
// when the sender doesn't yet know its own head.
func (h *Host) onPrompt(p incomingPrompt) {
	h.headsMu.Lock()
	changed := false
	if p.head != nil {
		current, known := h.heads[p.sender]
		if !known || *p.head > current {
			h.heads[p.sender] = *p.head
			h.hasHead[p.sender] = true
			changed = true
		}
	} else {
		changed = true
	}
	h.headsMu.Unlock()

	if changed {
		h.arm()
	}
}

// arm sets hasBeenPrompted without blocking if it is already set
// (the channel's capacity-1 buffer makes this edge-triggered rather than
// counting).
func (h *Host) arm() {
	select {
	case h.hasBeenPrompted <- struct{}{}:
	default:
	}
}

// snapshotHeads clears hasBeenPrompted and returns a copy of the current
// heads map along with which entries are actually known (vs. unset).
func (h *Host) snapshotHeads() (heads map[string]int64, known map[string]bool) {
	h.headsMu.Lock()
	defer h.headsMu.Unlock()

	select {
	case <-h.hasBeenPrompted:
	default:
	}

	heads = make(map[string]int64, len(h.heads))
	known = make(map[string]bool, len(h.hasHead))
	for k, v := range h.heads {
		heads[k] = v
	}
	for k, v := range h.hasHead {
		known[k] = v
	}
	return heads, known
}

type incomingPrompt struct {
	sender string
	head   *int64
}
