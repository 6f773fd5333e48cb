// Package process defines the data model and the process-application
// contract described in spec §3 and §6: notifications, tracking records,
// prompts, and the opaque Application interface that hosts drive.
package process

import "context"

// CausalDependency names a notification, on some upstream process and
// pipeline, that must already be tracked before the event carrying this
// dependency may be processed. The distilled spec leaves the originating
// process implicit (assuming a single well-known upstream); this
// implementation names it explicitly since a generic store has no such
// assumption to lean on (see DESIGN.md, Open Questions).
type CausalDependency struct {
	Process        string
	Pipeline       int
	NotificationID int64
}

// Notification is an immutable, numbered record of one event, readable by
// downstream processes. IDs are monotonic and contiguous per
// (process, pipeline).
type Notification struct {
	ID                 int64
	Topic              string
	State              []byte
	CausalDependencies []CausalDependency
}

// Event is a domain event produced by a process application's policy.
// Notifiable events cause a Prompt to be sent downstream once committed.
type Event struct {
	Topic      string
	Payload    []byte
	Notifiable bool
}

// TrackingRecord marks that Downstream has processed NotificationID from
// Upstream on Pipeline. The uniqueness of (Downstream, Upstream, Pipeline,
// NotificationID) is the sole source of truth for "processed up to N".
type TrackingRecord struct {
	Downstream     string
	Upstream       string
	Pipeline       int
	NotificationID int64
}

// Prompt is an advisory "new notifications up to HeadNotificationID are
// available" message. Delivery is not required for correctness, only for
// latency: a lost prompt is made up for by the Puller's poll loop.
type Prompt struct {
	Sender             string
	Pipeline           int
	HeadNotificationID *int64
}

// NotificationLog is the remote-accessor view a downstream host holds of an
// upstream host's notification store (spec §4.7, NotificationLogView).
type NotificationLog interface {
	GetNotifications(ctx context.Context, first, last *int64) ([]Notification, error)
}

// Prompter is implemented by process applications that can emit a local
// "new notifications available" signal outside the normal upstream-event
// flow — e.g. a root/ingestion process with no upstream, driven entirely
// by Call (spec §4.2, §9: "replace with an explicit callback injected into
// the process application at init time"). A host installs the callback
// once, at Init, before any Call can reach the application; the
// application invokes it with the highest notifiable notification id it
// just committed (or nil if unknown) whenever it appends notifiable
// events outside ProcessUpstreamEvent.
type Prompter interface {
	SetPromptCallback(func(head *int64))
}

// Application is the opaque process-application contract from spec §3/§6.
// A host never inspects an application's internals; it only calls these
// methods, always from the host's single DBWorker goroutine.
type Application interface {
	// Name is the process application's name, unique within the System.
	Name() string

	// Follow installs an upstream's NotificationLog so the application (and,
	// transitively, its host) can pull and reason about that upstream.
	Follow(upstreamName string, log NotificationLog)

	// Readers returns the set of upstream names currently followed.
	Readers() []string

	// GetRecordedPosition returns the last tracked notification id for
	// upstreamName, or nil if none has been tracked yet.
	GetRecordedPosition(upstreamName string) (*int64, error)

	// SetReaderPositionFromTrackingRecords re-derives this application's own
	// notion of upstreamName's reader cursor from the tracking table. Called
	// during Init and during a reset, since tracking is authoritative.
	SetReaderPositionFromTrackingRecords(upstreamName string) error

	// CheckCausalDependencies verifies that every dependency in deps has
	// already been tracked. It returns a *errors.CausalDependencyError (see
	// package errors) for the first unsatisfied dependency.
	CheckCausalDependencies(upstreamName string, deps []CausalDependency) error

	// GetEventFromNotification decodes a raw Notification into the Event the
	// application's policy expects to process.
	GetEventFromNotification(n Notification) (Event, error)

	// ProcessUpstreamEvent applies event (sourced from notificationID on
	// upstreamName) through the application's policy. Implementations MUST,
	// within a single Store transaction: (1) insert a tracking record for
	// (self, upstreamName, pipeline, notificationID) — a uniqueness conflict
	// here means "already processed" and aborts the whole transaction; (2)
	// run business policy to produce zero or more new events; (3) append
	// those events and return them alongside the notifications they became.
	ProcessUpstreamEvent(
		ctx context.Context,
		pipeline int,
		event Event,
		notificationID int64,
		upstreamName string,
	) (newEvents []Event, newNotifications []Notification, err error)
}
