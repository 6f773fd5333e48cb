package host

import (
	"context"
	"sync"
	"time"

	"github.com/relabs-tech/kurbisio-runner/runner/process"
	"github.com/relabs-tech/kurbisio-runner/runner/transport"
)

// promoteTimeout bounds how long the Promoter waits on any one downstream
// before giving up on that prompt and moving on; a dropped prompt is not
// fatal since the downstream's own poll loop will catch up regardless.
const promoteTimeout = 5 * time.Second

// runPromoter implements the Promoter loop (spec §4.6): forward each
// queued downstream prompt to every downstream handle, one item at a
// time, waiting for all downstreams to acknowledge before taking the
// next. This bounds how far ahead the Promoter can run of a slow or
// unreachable downstream — it's the back-pressure point of the pipeline.
func (h *Host) runPromoter() {
	defer h.wg.Done()

	for {
		select {
		case p := <-h.downstreamPrompts:
			h.promote(p)
		case <-h.stopCh:
			return
		}
	}
}

func (h *Host) promote(p process.Prompt) {
	if len(h.downstreamHandles) == 0 {
		return
	}

	head := p.HeadNotificationID
	if head == nil {
		resolved, err := h.resolveMaxNotificationID()
		if err != nil {
			h.logger.WithError(err).Warn("failed to resolve head for pull prompt, forwarding with unknown head")
		} else {
			head = resolved
		}
	}

	var wg sync.WaitGroup
	for name, handle := range h.downstreamHandles {
		wg.Add(1)
		go func(name string, handle *transport.Handle) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), promoteTimeout)
			defer cancel()
			if _, err := handle.Invoke(ctx, "prompt", incomingPrompt{sender: p.Sender, head: head}); err != nil {
				h.logger.WithError(err).WithField("downstream", name).Warn("failed to forward prompt")
				return
			}
			h.metrics.incPromptsSent()
		}(name, handle)
	}
	wg.Wait()
}

// resolveMaxNotificationID answers spec §4.6's "pull shell with no head":
// a prompt fired with HeadNotificationID == nil (e.g. from the injected
// Prompter callback, which doesn't always know the id it just produced)
// must be resolved to this host's current max notification id before
// fan-out, rather than forwarded as unknown.
func (h *Host) resolveMaxNotificationID() (*int64, error) {
	v, err := h.doDBJob(func() (interface{}, error) {
		return h.store.GetMaxNotificationID(context.Background(), h.name, h.pipeline)
	})
	if err != nil {
		return nil, err
	}
	id, _ := v.(int64)
	return &id, nil
}
