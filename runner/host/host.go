// Package host implements one ProcessHost: the four background workers
// (DBWorker, Puller, EventProcessor, Promoter — see spec §4) and the
// PromptIntake state that together run one process application on one
// pipeline, plus the actor-style RPC surface (served by a fifth goroutine,
// the dispatcher) other hosts use to reach it.
package host

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/kurbisio-runner/runner/process"
	"github.com/relabs-tech/kurbisio-runner/runner/store"
	"github.com/relabs-tech/kurbisio-runner/runner/transport"
)

// RangeLimit bounds how many notifications the Puller requests per
// upstream per pass (spec §4.4). If a batch comes back exactly this size,
// the Puller re-arms itself immediately since more may be waiting.
const RangeLimit = 10

// SectionSize is the page size used by external notification-log section
// views (spec §4.7). It does not affect the Puller's range-limited fetch.
const SectionSize = 5

// rateCapInterval bounds how fast the Puller can issue passes back to back
// once it has found work (spec §4.4: "sleep ≈150 ms to cap request rate").
// This is a fixed internal implementation detail, distinct from the
// configurable poll_interval fallback below.
const rateCapInterval = 150 * time.Millisecond

// defaultPollInterval is the fallback period the Puller wakes on even
// without a prompt (spec §4.1/§6's poll_interval config option), so a
// dropped or never-sent Prompt still converges within a bounded time (S2,
// property 2: eventual completeness).
const defaultPollInterval = 2 * time.Second

// remoteRetryAttempts/remoteRetryWait bound the Puller's retries of a failing
// get_notifications round trip (spec §4.4, §7).
const (
	remoteRetryAttempts = 10
	remoteRetryWait     = 100 * time.Millisecond
)

type dbJob struct {
	fn     func() (interface{}, error)
	result chan dbResult
}

type dbResult struct {
	value interface{}
	err   error
}

type eventItem struct {
	event          process.Event
	notificationID int64
	upstream       string
}

// Host runs one process application on one pipeline.
type Host struct {
	name     string
	pipeline int
	app      process.Application
	store    store.Store
	logger   *logrus.Entry
	metrics  *metrics

	// pollInterval is the Puller's poll_interval fallback (spec §4.1/§6):
	// the longest it ever waits without a prompt before checking upstreams
	// anyway. It is unrelated to rateCapInterval, which always applies
	// between passes regardless of this value.
	pollInterval time.Duration

	handle *transport.Handle

	headsMu sync.Mutex
	heads   map[string]int64
	hasHead map[string]bool

	positionsMu sync.Mutex
	positions   map[string]int64

	hasBeenPrompted chan struct{}

	dbJobs            chan dbJob
	events            chan eventItem
	downstreamPrompts chan process.Prompt

	upstreamLogs      map[string]process.NotificationLog
	downstreamHandles map[string]*transport.Handle

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	initMu sync.Mutex
	inited bool
}

// Options configures a Host's non-functional behavior.
type Options struct {
	PollInterval      time.Duration
	MetricsRegisterer prometheus.Registerer
	Logger            *logrus.Entry
}

// New constructs a Host in the Created state (spec §4.8): it spawns the
// four daemon worker loops and the RPC dispatcher immediately but is not
// usable via Call until Init completes.
func New(name string, pipeline int, app process.Application, st store.Store, opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	logger = logger.WithField("process", name).WithField("pipeline", pipeline)

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	h := &Host{
		name:              name,
		pipeline:          pipeline,
		app:               app,
		store:             st,
		logger:            logger,
		metrics:           newMetrics(opts.MetricsRegisterer, name, pipeline),
		pollInterval:      pollInterval,
		handle:            transport.NewHandle(32),
		heads:             make(map[string]int64),
		hasHead:           make(map[string]bool),
		positions:         make(map[string]int64),
		hasBeenPrompted:   make(chan struct{}, 1),
		dbJobs:            make(chan dbJob, 64),
		events:            make(chan eventItem, 256),
		downstreamPrompts: make(chan process.Prompt, 64),
		upstreamLogs:      make(map[string]process.NotificationLog),
		downstreamHandles: make(map[string]*transport.Handle),
		stopCh:            make(chan struct{}),
	}

	h.wg.Add(5)
	go h.runDispatcher()
	go h.runDBWorker()
	go h.runPuller()
	go h.runEventProcessor()
	go h.runPromoter()

	return h
}

// Handle returns the Host's inbound RPC mailbox, used by a Runner to wire
// this host as an upstream/downstream of its peers.
func (h *Host) Handle() *transport.Handle { return h.handle }

// Init wires this host's upstream notification logs and downstream
// handles via the same RPC path a remote caller would use (spec §4.8,
// Created -> Inited).
func (h *Host) Init(ctx context.Context, upstreamLogs map[string]process.NotificationLog, downstreamHandles map[string]*transport.Handle) error {
	_, err := h.handle.Invoke(ctx, "init", upstreamLogs, downstreamHandles)
	return err
}

// pushDownstreamPrompt enqueues a Prompt naming this host as sender, for
// the Promoter to fan out to every downstream (spec §4.2, §4.6). It's the
// single entry point for "this host just committed notifiable events",
// whether that came from the EventProcessor finishing an upstream event or
// from the application's injected Prompter callback firing after a
// Call-driven append.
func (h *Host) pushDownstreamPrompt(head *int64) {
	select {
	case h.downstreamPrompts <- process.Prompt{Sender: h.name, Pipeline: h.pipeline, HeadNotificationID: head}:
	case <-h.stopCh:
	}
}

// Prompt implements the "prompt" RPC for local callers (spec §6).
func (h *Host) Prompt(ctx context.Context, sender string, pipeline int, head *int64) error {
	_, err := h.handle.Invoke(ctx, "prompt", incomingPrompt{sender: sender, head: head})
	return err
}

// GetNotifications implements the "get_notifications" RPC for local
// callers (spec §6). first/last are inclusive.
func (h *Host) GetNotifications(ctx context.Context, first, last *int64) ([]process.Notification, error) {
	v, err := h.handle.Invoke(ctx, "get_notifications", first, last)
	if err != nil {
		return nil, err
	}
	notifications, _ := v.([]process.Notification)
	return notifications, nil
}

// Call implements the "call" RPC for local callers: invoke a named method
// on the underlying process application via this host's DBWorker.
func (h *Host) Call(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	return h.handle.Invoke(ctx, "call", method, args)
}

func (h *Host) resetReaders() error {
	for _, upstream := range h.app.Readers() {
		if err := h.app.SetReaderPositionFromTrackingRecords(upstream); err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) resetPositionsLocked() error {
	h.positionsMu.Lock()
	defer h.positionsMu.Unlock()
	for upstream := range h.upstreamLogs {
		recorded, err := h.app.GetRecordedPosition(upstream)
		if err != nil {
			return err
		}
		if recorded != nil {
			h.positions[upstream] = *recorded
		} else {
			delete(h.positions, upstream)
		}
	}
	return nil
}

// isInited reports whether Init has completed, taking initMu briefly (Call
// checks this before every invocation).
func (h *Host) isInited() bool {
	h.initMu.Lock()
	defer h.initMu.Unlock()
	return h.inited
}

func (h *Host) isStopped() bool {
	select {
	case <-h.stopCh:
		return true
	default:
		return false
	}
}

// Stop initiates shutdown (spec §4.8, Inited -> Stopped): it latches
// hasBeenStopped and lets every worker observe it at its next loop head or
// blocking wait. Stop does not wait for workers to exit; callers that need
// that use Wait.
func (h *Host) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.handle.Close()
	})
}

// Wait blocks until every worker goroutine has exited.
func (h *Host) Wait() {
	h.wg.Wait()
}

func defaultLogger() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}
