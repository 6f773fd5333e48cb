package host

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	runnererrors "github.com/relabs-tech/kurbisio-runner/runner/errors"
	"github.com/relabs-tech/kurbisio-runner/runner/process"
)

func newEventProcessorTestHost(app *fakeApp) *Host {
	h := &Host{
		name:              "downstream",
		pipeline:          1,
		app:               app,
		logger:            logrus.NewEntry(logrus.StandardLogger()),
		positions:         make(map[string]int64),
		upstreamLogs:      make(map[string]process.NotificationLog),
		dbJobs:            make(chan dbJob, 8),
		events:            make(chan eventItem, 8),
		downstreamPrompts: make(chan process.Prompt, 8),
		hasBeenPrompted:   make(chan struct{}, 1),
		stopCh:            make(chan struct{}),
	}
	h.wg.Add(1)
	go h.runDBWorker()
	return h
}

func TestProcessOneAdvancesPositionAndPromotesOnNotifiableEvent(t *testing.T) {
	app := newFakeApp()
	app.produced = []process.Event{{Topic: "shipped", Notifiable: true}}
	app.producedNotifs = []process.Notification{{ID: 10, Topic: "shipped"}}
	h := newEventProcessorTestHost(app)
	defer close(h.stopCh)

	h.processOne(eventItem{event: process.Event{Topic: "order"}, notificationID: 3, upstream: "orders"})

	pos, ok := h.getPosition("orders")
	require.True(t, ok)
	assert.Equal(t, int64(3), pos)

	select {
	case p := <-h.downstreamPrompts:
		assert.Equal(t, "downstream", p.Sender)
		require.NotNil(t, p.HeadNotificationID)
		assert.Equal(t, int64(10), *p.HeadNotificationID)
	case <-time.After(time.Second):
		t.Fatal("expected a downstream prompt for a notifiable event")
	}
}

func TestProcessOneSkipsPromoteWhenNoEventIsNotifiable(t *testing.T) {
	app := newFakeApp()
	app.produced = []process.Event{{Topic: "internal", Notifiable: false}}
	app.producedNotifs = []process.Notification{{ID: 1, Topic: "internal"}}
	h := newEventProcessorTestHost(app)
	defer close(h.stopCh)

	h.processOne(eventItem{event: process.Event{Topic: "order"}, notificationID: 1, upstream: "orders"})

	select {
	case <-h.downstreamPrompts:
		t.Fatal("did not expect a downstream prompt for a non-notifiable event")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestProcessOneUniquenessConflictIsANoOp(t *testing.T) {
	app := newFakeApp()
	app.processErr = &runnererrors.UniquenessConflictError{Downstream: "downstream", Upstream: "orders", Pipeline: 1, NotificationID: 1}
	h := newEventProcessorTestHost(app)
	defer close(h.stopCh)

	h.processOne(eventItem{event: process.Event{Topic: "order"}, notificationID: 1, upstream: "orders"})

	_, ok := h.getPosition("orders")
	assert.False(t, ok, "a uniqueness conflict must not advance the position")
	select {
	case <-h.downstreamPrompts:
		t.Fatal("did not expect a downstream prompt on a uniqueness conflict")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestProcessOneOtherErrorTriggersReset(t *testing.T) {
	app := newFakeApp()
	app.processErr = runnererrors.NewOperationalError("db exploded", nil)
	h := newEventProcessorTestHost(app)
	defer close(h.stopCh)
	h.events <- eventItem{event: process.Event{Topic: "stale"}, notificationID: 99, upstream: "orders"}

	h.processOne(eventItem{event: process.Event{Topic: "order"}, notificationID: 1, upstream: "orders"})

	assert.Empty(t, h.events, "reset must drain any queued events")
	select {
	case <-h.hasBeenPrompted:
	default:
		t.Fatal("expected reset() to re-arm hasBeenPrompted")
	}
}
