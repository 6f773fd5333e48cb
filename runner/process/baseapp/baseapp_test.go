package baseapp_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/kurbisio-runner/runner/process"
	"github.com/relabs-tech/kurbisio-runner/runner/process/baseapp"
	"github.com/relabs-tech/kurbisio-runner/runner/store/memstore"
)

func noopPolicy(ctx context.Context, upstream string, e process.Event) ([]process.Event, error) {
	return nil, nil
}

// TestAppendEventsFiresPromptCallbackForNotifiableEvent covers spec §4.2/§9:
// a root process application with no upstream of its own, driven by a Call
// handler, must still be able to signal a local prompt when it appends a
// notifiable event directly.
func TestAppendEventsFiresPromptCallbackForNotifiableEvent(t *testing.T) {
	st := memstore.New()
	app := baseapp.New("orders", 0, st, noopPolicy)

	var gotHead *int64
	fired := false
	app.SetPromptCallback(func(head *int64) {
		fired = true
		gotHead = head
	})

	notifications, err := app.AppendEvents(context.Background(), []process.Event{
		{Topic: "order_placed", Notifiable: true},
	})
	require.NoError(t, err)
	require.Len(t, notifications, 1)

	assert.True(t, fired, "expected the prompt callback to fire for a notifiable event")
	require.NotNil(t, gotHead)
	assert.Equal(t, notifications[0].ID, *gotHead)
}

func TestAppendEventsSkipsCallbackWhenNoEventIsNotifiable(t *testing.T) {
	st := memstore.New()
	app := baseapp.New("orders", 0, st, noopPolicy)

	fired := false
	app.SetPromptCallback(func(head *int64) { fired = true })

	_, err := app.AppendEvents(context.Background(), []process.Event{
		{Topic: "internal", Notifiable: false},
	})
	require.NoError(t, err)

	assert.False(t, fired, "did not expect the prompt callback to fire for a non-notifiable event")
}

func TestAppendEventsToleratesNoCallbackInstalled(t *testing.T) {
	st := memstore.New()
	app := baseapp.New("orders", 0, st, noopPolicy)

	_, err := app.AppendEvents(context.Background(), []process.Event{
		{Topic: "order_placed", Notifiable: true},
	})
	require.NoError(t, err, "AppendEvents must not require a callback to be installed")
}
