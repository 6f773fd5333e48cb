package host

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHost() *Host {
	return &Host{
		heads:           make(map[string]int64),
		hasHead:         make(map[string]bool),
		hasBeenPrompted: make(chan struct{}, 1),
	}
}

func TestOnPromptFirstSightingArms(t *testing.T) {
	h := newTestHost()
	head := int64(5)

	h.onPrompt(incomingPrompt{sender: "a", head: &head})

	select {
	case <-h.hasBeenPrompted:
	default:
		t.Fatal("expected hasBeenPrompted to be armed")
	}
	heads, known := h.snapshotHeads()
	require.True(t, known["a"])
	assert.Equal(t, int64(5), heads["a"])
}

func TestOnPromptNonIncreasingHeadDoesNotRearm(t *testing.T) {
	h := newTestHost()
	head := int64(5)
	h.onPrompt(incomingPrompt{sender: "a", head: &head})
	h.snapshotHeads() // clears hasBeenPrompted

	same := int64(5)
	h.onPrompt(incomingPrompt{sender: "a", head: &same})

	select {
	case <-h.hasBeenPrompted:
		t.Fatal("did not expect hasBeenPrompted to be armed for a non-increasing head")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestOnPromptIncreasingHeadRearms(t *testing.T) {
	h := newTestHost()
	head := int64(5)
	h.onPrompt(incomingPrompt{sender: "a", head: &head})
	h.snapshotHeads()

	higher := int64(6)
	h.onPrompt(incomingPrompt{sender: "a", head: &higher})

	select {
	case <-h.hasBeenPrompted:
	default:
		t.Fatal("expected hasBeenPrompted to be armed for an increasing head")
	}
	heads, _ := h.snapshotHeads()
	assert.Equal(t, int64(6), heads["a"])
}

func TestOnPromptNilHeadAlwaysRearms(t *testing.T) {
	h := newTestHost()
	h.onPrompt(incomingPrompt{sender: "a", head: nil})
	h.snapshotHeads()

	h.onPrompt(incomingPrompt{sender: "a", head: nil})

	select {
	case <-h.hasBeenPrompted:
	default:
		t.Fatal("expected a nil-head prompt to always rearm")
	}
}

func TestArmIsIdempotentWhileAlreadyArmed(t *testing.T) {
	h := newTestHost()
	h.arm()
	h.arm() // must not block despite capacity-1 channel

	count := 0
	select {
	case <-h.hasBeenPrompted:
		count++
	default:
	}
	assert.Equal(t, 1, count)
}
