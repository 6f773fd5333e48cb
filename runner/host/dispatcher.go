package host

import (
	"context"

	runnererrors "github.com/relabs-tech/kurbisio-runner/runner/errors"
	"github.com/relabs-tech/kurbisio-runner/runner/process"
	"github.com/relabs-tech/kurbisio-runner/runner/transport"
)

// runDispatcher serves this host's actor-style RPC surface (spec §6):
// init, prompt, get_notifications, call, stop. Exactly one goroutine reads
// Handle().Calls(), so these handlers never race each other — though some
// of them (handleCall, handleGetNotifications) hand off to the DBWorker for
// the actual application/store access.
func (h *Host) runDispatcher() {
	defer h.wg.Done()
	for {
		select {
		case call := <-h.handle.Calls():
			call.Reply <- h.dispatch(call)
		case <-h.stopCh:
			return
		}
	}
}

func (h *Host) dispatch(call transport.Call) transport.Result {
	switch call.Method {
	case "init":
		upstreamLogs, _ := call.Args[0].(map[string]process.NotificationLog)
		downstreamHandles, _ := call.Args[1].(map[string]*transport.Handle)
		return transport.Result{Err: h.handleInit(upstreamLogs, downstreamHandles)}

	case "prompt":
		p, _ := call.Args[0].(incomingPrompt)
		h.onPrompt(p)
		return transport.Result{}

	case "get_notifications":
		first, _ := call.Args[0].(*int64)
		last, _ := call.Args[1].(*int64)
		notifications, err := h.handleGetNotifications(first, last)
		return transport.Result{Value: notifications, Err: err}

	case "call":
		method, _ := call.Args[0].(string)
		args, _ := call.Args[1].([]interface{})
		value, err := h.handleCall(method, args)
		return transport.Result{Value: value, Err: err}

	case "stop":
		h.Stop()
		return transport.Result{}

	default:
		return transport.Result{Err: runnererrors.NewProgrammingError("unknown RPC method %q", call.Method)}
	}
}

// handleInit implements the Created -> Inited transition (spec §4.8).
func (h *Host) handleInit(upstreamLogs map[string]process.NotificationLog, downstreamHandles map[string]*transport.Handle) error {
	h.initMu.Lock()
	if h.inited {
		h.initMu.Unlock()
		return runnererrors.NewProgrammingError("host %s/%d already inited", h.name, h.pipeline)
	}
	h.initMu.Unlock()

	h.upstreamLogs = upstreamLogs
	h.downstreamHandles = downstreamHandles

	if _, err := h.doDBJob(func() (interface{}, error) {
		for upstream, log := range upstreamLogs {
			h.app.Follow(upstream, log)
		}
		return nil, nil
	}); err != nil {
		return err
	}

	// spec §4.8/§9: subscribe to the application's local prompt signal by
	// injecting an explicit callback rather than relying on a global
	// pub/sub registry. Only applications that can emit events outside the
	// upstream-event flow (e.g. a root process driven by Call) implement
	// process.Prompter; one with no such path has nothing to subscribe to.
	if prompter, ok := h.app.(process.Prompter); ok {
		prompter.SetPromptCallback(h.pushDownstreamPrompt)
	}

	if _, err := h.doDBJob(func() (interface{}, error) {
		return nil, h.resetReaders()
	}); err != nil {
		return err
	}
	if _, err := h.doDBJob(func() (interface{}, error) {
		return nil, h.resetPositionsLocked()
	}); err != nil {
		return err
	}

	h.initMu.Lock()
	h.inited = true
	h.initMu.Unlock()
	return nil
}

// handleCall implements the "call" RPC: invoke a named method on the
// process application via the DBWorker (spec §4.1, §6). It requires Init
// to already have completed.
func (h *Host) handleCall(methodName string, args []interface{}) (interface{}, error) {
	if !h.isInited() {
		return nil, runnererrors.NewProgrammingError("call %q before init on host %s/%d", methodName, h.name, h.pipeline)
	}
	invokable, ok := h.app.(interface {
		Call(ctx context.Context, method string, args []interface{}) (interface{}, error)
	})
	if !ok {
		return nil, runnererrors.NewProgrammingError("process application %s does not support Call", h.name)
	}
	return h.doDBJob(func() (interface{}, error) {
		return invokable.Call(context.Background(), methodName, args)
	})
}
