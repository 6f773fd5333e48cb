// Package baseapp provides a generic process.Application: the transactional
// "insert tracking, run policy, append events" mechanics every process
// application needs (spec §3/§6), parameterized by an injected Policy so a
// concrete system only has to supply business logic, not plumbing.
package baseapp

import (
	"context"
	"sync"

	runnererrors "github.com/relabs-tech/kurbisio-runner/runner/errors"
	"github.com/relabs-tech/kurbisio-runner/runner/process"
	"github.com/relabs-tech/kurbisio-runner/runner/store"
)

// Policy applies one upstream event and returns the domain events it
// produces. It must be side-effect-free outside of what it returns: actual
// persistence (tracking + appending events) is handled by App within the
// same store transaction, not by Policy itself.
type Policy func(ctx context.Context, upstreamName string, event process.Event) ([]process.Event, error)

// Handler answers a "call" RPC (spec §6): a named, ad-hoc operation on the
// process application outside the normal event flow, e.g. for tests or
// operational tooling.
type Handler func(ctx context.Context, args []interface{}) (interface{}, error)

// App is a generic process.Application. A concrete system constructs one
// per process name with New, registers Handlers for any "call" methods it
// wants to expose, and passes Policy the business logic that turns one
// upstream event into zero or more new events.
type App struct {
	name     string
	pipeline int
	store    store.Store
	policy   Policy

	mu       sync.RWMutex
	upstream map[string]process.NotificationLog

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	callbackMu     sync.RWMutex
	promptCallback func(head *int64)
}

// New constructs an App. pipeline identifies which pipeline this instance
// runs on, matching the Host it will be installed into.
func New(name string, pipeline int, st store.Store, policy Policy) *App {
	return &App{
		name:     name,
		pipeline: pipeline,
		store:    st,
		policy:   policy,
		upstream: make(map[string]process.NotificationLog),
		handlers: make(map[string]Handler),
	}
}

// Handle registers a Handler for the named "call" method.
func (a *App) Handle(method string, h Handler) {
	a.handlersMu.Lock()
	defer a.handlersMu.Unlock()
	a.handlers[method] = h
}

// Name implements process.Application.
func (a *App) Name() string { return a.name }

// SetPromptCallback implements process.Prompter: the Host installs this at
// Init so App can signal a local prompt for events it appends outside
// ProcessUpstreamEvent (spec §4.2, §9), e.g. from a Call handler.
func (a *App) SetPromptCallback(cb func(head *int64)) {
	a.callbackMu.Lock()
	defer a.callbackMu.Unlock()
	a.promptCallback = cb
}

// AppendEvents runs events through the store in one transaction, exactly
// as ProcessUpstreamEvent would for its own new events, and then fires the
// prompt callback if any of them is notifiable. Call handlers that append
// events directly (a root/ingestion process with no upstream) should use
// this instead of going around App straight to store.Store, so they get
// the same prompt-on-write behavior an upstream-event handler gets for
// free from the EventProcessor.
func (a *App) AppendEvents(ctx context.Context, events []process.Event) ([]process.Notification, error) {
	var notifications []process.Notification
	err := a.store.RunInTransaction(ctx, func(tx store.Tx) error {
		var err error
		notifications, err = tx.AppendEvents(a.name, a.pipeline, events)
		return err
	})
	if err != nil {
		return nil, err
	}
	a.notifyIfNotifiable(events, notifications)
	return notifications, nil
}

// notifyIfNotifiable invokes the installed prompt callback, if any, when
// events contains at least one notifiable event, naming the highest
// notifiable notification id so the downstream prompt can carry a head
// without an extra round trip to resolve it (spec §4.2).
func (a *App) notifyIfNotifiable(events []process.Event, notifications []process.Notification) {
	a.callbackMu.RLock()
	cb := a.promptCallback
	a.callbackMu.RUnlock()
	if cb == nil {
		return
	}

	var head *int64
	notifiable := false
	for i, e := range events {
		if !e.Notifiable {
			continue
		}
		notifiable = true
		if i < len(notifications) {
			id := notifications[i].ID
			head = &id
		}
	}
	if notifiable {
		cb(head)
	}
}

// Follow implements process.Application.
func (a *App) Follow(upstreamName string, log process.NotificationLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.upstream[upstreamName] = log
}

// Readers implements process.Application.
func (a *App) Readers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.upstream))
	for name := range a.upstream {
		names = append(names, name)
	}
	return names
}

// GetRecordedPosition implements process.Application.
func (a *App) GetRecordedPosition(upstreamName string) (*int64, error) {
	return a.store.GetMaxTrackingNotificationID(context.Background(), a.name, upstreamName, a.pipeline)
}

// SetReaderPositionFromTrackingRecords implements process.Application. The
// generic App has no separate reader-position cache of its own — its
// reader state *is* the tracking table — so this is a no-op; the Host's
// own positions map is what gets re-derived (see runner/host/reset.go).
func (a *App) SetReaderPositionFromTrackingRecords(upstreamName string) error {
	return nil
}

// CheckCausalDependencies implements process.Application: a dependency is
// satisfied once this process has tracked a notification id at or past it
// from the named upstream. Since one EventProcessor goroutine tracks
// notifications from a given upstream strictly in fetch order, the highest
// tracked id implies every id below it is tracked too.
func (a *App) CheckCausalDependencies(upstreamName string, deps []process.CausalDependency) error {
	for _, dep := range deps {
		max, err := a.store.GetMaxTrackingNotificationID(context.Background(), a.name, dep.Process, dep.Pipeline)
		if err != nil {
			return runnererrors.NewOperationalError("checking causal dependency", err)
		}
		if max == nil || *max < dep.NotificationID {
			return &runnererrors.CausalDependencyError{
				Upstream:       upstreamName,
				Pipeline:       dep.Pipeline,
				NotificationID: dep.NotificationID,
			}
		}
	}
	return nil
}

// GetEventFromNotification implements process.Application: by default the
// Event carries the Notification's Topic, and its State as Payload, which is
// how the stores' AppendEvents record an event. Concrete systems with a
// different wire format can wrap App and override this one method rather
// than reimplementing the whole interface.
func (a *App) GetEventFromNotification(n process.Notification) (process.Event, error) {
	return process.Event{Topic: n.Topic, Payload: n.State}, nil
}

// ProcessUpstreamEvent implements process.Application: insert the tracking
// row, run Policy, append the resulting events, all within one store
// transaction, exactly as spec §3/§6 requires.
func (a *App) ProcessUpstreamEvent(
	ctx context.Context,
	pipeline int,
	event process.Event,
	notificationID int64,
	upstreamName string,
) ([]process.Event, []process.Notification, error) {
	var newEvents []process.Event
	var newNotifications []process.Notification

	err := a.store.RunInTransaction(ctx, func(tx store.Tx) error {
		if err := tx.InsertTracking(a.name, upstreamName, pipeline, notificationID); err != nil {
			return err
		}

		produced, err := a.policy(ctx, upstreamName, event)
		if err != nil {
			return runnererrors.NewOperationalError("running policy for "+a.name, err)
		}
		newEvents = produced

		if len(produced) == 0 {
			return nil
		}

		notifications, err := tx.AppendEvents(a.name, pipeline, produced)
		if err != nil {
			return err
		}
		newNotifications = notifications
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return newEvents, newNotifications, nil
}

// Call implements the optional Call method runner/host's dispatcher looks
// for (spec §6, "call(method_name, args...)").
func (a *App) Call(ctx context.Context, method string, args []interface{}) (interface{}, error) {
	a.handlersMu.RLock()
	h, ok := a.handlers[method]
	a.handlersMu.RUnlock()
	if !ok {
		return nil, runnererrors.NewProgrammingError("process %s has no handler for method %q", a.name, method)
	}
	return h(ctx, args)
}
