package host

import (
	"context"
	"encoding/json"
	"sync"

	runnererrors "github.com/relabs-tech/kurbisio-runner/runner/errors"
	"github.com/relabs-tech/kurbisio-runner/runner/process"
)

// fakeApp is a minimal, fully scriptable process.Application for host unit
// tests, isolating host worker logic from any real store or business policy.
type fakeApp struct {
	mu sync.Mutex

	recordedPositions map[string]*int64
	causalDepsErr     error
	processErr        error
	processedUpstream []int64
	produced          []process.Event
	producedNotifs    []process.Notification
}

func newFakeApp() *fakeApp {
	return &fakeApp{recordedPositions: make(map[string]*int64)}
}

func (a *fakeApp) Name() string                                         { return "fake" }
func (a *fakeApp) Follow(upstreamName string, log process.NotificationLog) {}
func (a *fakeApp) Readers() []string                                    { return nil }

func (a *fakeApp) GetRecordedPosition(upstreamName string) (*int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recordedPositions[upstreamName], nil
}

func (a *fakeApp) SetReaderPositionFromTrackingRecords(upstreamName string) error {
	return nil
}

func (a *fakeApp) CheckCausalDependencies(upstreamName string, deps []process.CausalDependency) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.causalDepsErr
}

func (a *fakeApp) GetEventFromNotification(n process.Notification) (process.Event, error) {
	var e process.Event
	if err := json.Unmarshal(n.State, &e); err != nil {
		return process.Event{Topic: n.Topic}, nil
	}
	return e, nil
}

func (a *fakeApp) ProcessUpstreamEvent(
	ctx context.Context, pipeline int, event process.Event, notificationID int64, upstreamName string,
) ([]process.Event, []process.Notification, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.processErr != nil {
		return nil, nil, a.processErr
	}
	a.processedUpstream = append(a.processedUpstream, notificationID)
	return a.produced, a.producedNotifs, nil
}

func fakeUniquenessConflict() error {
	return &runnererrors.UniquenessConflictError{Downstream: "fake", Upstream: "a", Pipeline: 1, NotificationID: 1}
}
