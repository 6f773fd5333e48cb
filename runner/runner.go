package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	runnererrors "github.com/relabs-tech/kurbisio-runner/runner/errors"
	"github.com/relabs-tech/kurbisio-runner/runner/host"
	"github.com/relabs-tech/kurbisio-runner/runner/process"
	"github.com/relabs-tech/kurbisio-runner/runner/store"
	"github.com/relabs-tech/kurbisio-runner/runner/transport"
)

// closeTimeout bounds how long Close waits for every host to acknowledge
// stop before abandoning the stragglers (spec §4.1: "bounded timeout
// (≈6s)"). The DB is consistent regardless, so abandoning a slow host is
// safe.
const closeTimeout = 6 * time.Second

func newConfigError(format string, args ...interface{}) error {
	return runnererrors.NewProgrammingError(format, args...)
}

// Builder configures a Runner. System, Store, and PipelineIDs are mandatory.
type Builder struct {
	// System is the process graph to run. Mandatory.
	System System

	// PipelineIDs are the independent pipelines to instantiate the graph
	// for; every id gets its own ProcessHost per process, sharing no memory
	// but sharing Store. Mandatory, non-empty.
	PipelineIDs []int

	// Store is the backing record store, shared by every host. Mandatory.
	Store store.Store

	// PollInterval overrides each host's Puller poll rate. Optional;
	// defaults to the host package's own default.
	PollInterval time.Duration

	// SetupTables, if true, has every process create its backing tables on
	// Store for every pipeline before any host starts (spec §6,
	// Store.SetupTables). Set to false against a store that's already
	// provisioned.
	SetupTables bool

	// MetricsRegisterer, if set, is where every host registers its
	// Prometheus collectors. Optional.
	MetricsRegisterer prometheus.Registerer

	// Logger is the base logger every host derives a scoped entry from.
	// Optional; defaults to logrus's standard logger.
	Logger *logrus.Entry
}

// Runner owns one ProcessHost per (process, pipeline) and the System graph
// they were built from.
type Runner struct {
	system System
	hosts  map[hostKey]*host.Host
}

type hostKey struct {
	process  string
	pipeline int
}

// MustNew is New, panicking on error — for use at process startup where a
// misconfigured graph is a programming error, matching backend.MustNew's
// panic-on-misconfiguration convention.
func MustNew(b *Builder) *Runner {
	r, err := New(b)
	if err != nil {
		panic(err)
	}
	return r
}

// New builds a Runner: one Host per (process, pipeline), wires every
// upstream NotificationLog and downstream Handle, then calls Init on every
// host and waits for all of them to complete (spec §4.1, §4.8).
func New(b *Builder) (*Runner, error) {
	if b.Store == nil {
		return nil, newConfigError("runner: Store is missing")
	}
	if len(b.PipelineIDs) == 0 {
		return nil, newConfigError("runner: PipelineIDs is empty")
	}
	if err := b.System.validate(); err != nil {
		return nil, err
	}

	logger := b.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx := context.Background()
	if b.SetupTables {
		for _, p := range b.System.Processes {
			if err := b.Store.SetupTables(ctx, p.Name, b.PipelineIDs); err != nil {
				return nil, fmt.Errorf("setting up tables for %s: %w", p.Name, err)
			}
		}
	}

	r := &Runner{
		system: b.System,
		hosts:  make(map[hostKey]*host.Host),
	}

	for _, pipeline := range b.PipelineIDs {
		for _, p := range b.System.Processes {
			app := p.Factory(pipeline, b.Store)
			h := host.New(p.Name, pipeline, app, b.Store, host.Options{
				PollInterval:      b.PollInterval,
				MetricsRegisterer: b.MetricsRegisterer,
				Logger:            logger,
			})
			r.hosts[hostKey{p.Name, pipeline}] = h
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(r.hosts))
	for _, pipeline := range b.PipelineIDs {
		for _, p := range b.System.Processes {
			p := p
			pipeline := pipeline
			wg.Add(1)
			go func() {
				defer wg.Done()
				upstreamLogs := make(map[string]process.NotificationLog, len(p.Upstream))
				for _, upName := range p.Upstream {
					upHost := r.hosts[hostKey{upName, pipeline}]
					upstreamLogs[upName] = &host.RemoteNotificationLog{Upstream: upName, Handle: upHost.Handle()}
				}
				downstreamHandles := make(map[string]*transport.Handle)
				for _, downName := range b.System.downstreamOf(p.Name) {
					downstreamHandles[downName] = r.hosts[hostKey{downName, pipeline}].Handle()
				}
				thisHost := r.hosts[hostKey{p.Name, pipeline}]
				if err := thisHost.Init(ctx, upstreamLogs, downstreamHandles); err != nil {
					errCh <- fmt.Errorf("init %s/%d: %w", p.Name, pipeline, err)
				}
			}()
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Call forwards to process/pipeline's host (spec §2: "call(process_name,
// pipeline_id, method, *args) looks up the host and forwards the call").
func (r *Runner) Call(ctx context.Context, processName string, pipeline int, method string, args ...interface{}) (interface{}, error) {
	h, ok := r.hosts[hostKey{processName, pipeline}]
	if !ok {
		return nil, newConfigError("runner: no host for %s/%d", processName, pipeline)
	}
	return h.Call(ctx, method, args...)
}

// Prompt forwards an external prompt to process/pipeline's host, e.g. to
// kick off processing from outside the graph (an ingestion process with no
// upstream of its own).
func (r *Runner) Prompt(ctx context.Context, processName string, pipeline int, head *int64) error {
	h, ok := r.hosts[hostKey{processName, pipeline}]
	if !ok {
		return newConfigError("runner: no host for %s/%d", processName, pipeline)
	}
	return h.Prompt(ctx, processName, pipeline, head)
}

// Close stops every host in parallel and waits up to closeTimeout for all
// of them to finish; stragglers past the deadline are abandoned (spec
// §4.1: "close() sends stop to every host in parallel with a bounded
// timeout (≈6s) and then abandons any that do not respond").
func (r *Runner) Close() {
	for _, h := range r.hosts {
		h.Stop()
	}

	done := make(chan struct{})
	go func() {
		for _, h := range r.hosts {
			h.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(closeTimeout):
	}
}
