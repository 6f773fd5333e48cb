package host

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/kurbisio-runner/runner/process"
	"github.com/relabs-tech/kurbisio-runner/runner/transport"
)

// promptingFakeApp extends fakeApp with process.Prompter, so handleInit has
// something to wire the local-prompt callback into (spec §4.8, §9).
type promptingFakeApp struct {
	*fakeApp
	callback func(head *int64)
}

func (a *promptingFakeApp) SetPromptCallback(cb func(head *int64)) {
	a.callback = cb
}

func newDispatcherTestHost(app process.Application) *Host {
	h := &Host{
		name:              "root",
		pipeline:          1,
		app:               app,
		logger:            logrus.NewEntry(logrus.StandardLogger()),
		positions:         make(map[string]int64),
		downstreamPrompts: make(chan process.Prompt, 8),
		dbJobs:            make(chan dbJob, 8),
		stopCh:            make(chan struct{}),
	}
	h.wg.Add(1)
	go h.runDBWorker()
	return h
}

func TestHandleInitWiresPromptCallbackWhenSupported(t *testing.T) {
	app := &promptingFakeApp{fakeApp: newFakeApp()}
	h := newDispatcherTestHost(app)
	defer close(h.stopCh)

	err := h.handleInit(map[string]process.NotificationLog{}, map[string]*transport.Handle{})
	require.NoError(t, err)
	require.NotNil(t, app.callback, "handleInit must install a prompt callback on a process.Prompter application")

	head := int64(7)
	app.callback(&head)

	select {
	case p := <-h.downstreamPrompts:
		assert.Equal(t, "root", p.Sender)
		require.NotNil(t, p.HeadNotificationID)
		assert.Equal(t, int64(7), *p.HeadNotificationID)
	default:
		t.Fatal("expected the installed callback to push a downstream prompt")
	}
}

func TestHandleInitToleratesApplicationsWithoutPrompter(t *testing.T) {
	app := newFakeApp()
	h := newDispatcherTestHost(app)
	defer close(h.stopCh)

	err := h.handleInit(map[string]process.NotificationLog{}, map[string]*transport.Handle{})
	require.NoError(t, err)
}
