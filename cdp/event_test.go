package cdp

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventWatcherDoesNotBlockNotify(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newEventWatcher(ctx)
	ch, unsubscribe := w.subscribe(cdproto.EventFetchRequestPaused, cdproto.EventInspectorDetached)
	defer unsubscribe()

	// Nobody reads yet, notify must still return.
	for i := 0; i < 100; i++ {
		w.notify(&Event{Name: cdproto.EventFetchRequestPaused, Data: i})
	}
	w.notify(&Event{Name: cdproto.EventInspectorDetached})
	w.notify(&Event{Name: cdproto.EventNetworkResponseReceived})

	for i := 0; i < 100; i++ {
		evt := <-ch
		require.Equal(t, i, evt.Data)
	}
	assert.Equal(t, cdproto.EventInspectorDetached, (<-ch).Name)
}

func TestEventWatcherUnsubscribe(t *testing.T) {
	t.Parallel()

	w := newEventWatcher(context.Background())
	ch, unsubscribe := w.subscribe(cdproto.EventInspectorDetached)
	w.notify(&Event{Name: cdproto.EventInspectorDetached})
	unsubscribe()
	unsubscribe()
	w.notify(&Event{Name: cdproto.EventInspectorDetached})

	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestEventWatcherContextDone(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	w := newEventWatcher(ctx)
	ch, _ := w.subscribe(cdproto.EventInspectorDetached)
	cancel()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancellation")
	}
}

func TestEventWatcherSubscribeAll(t *testing.T) {
	t.Parallel()

	w := newEventWatcher(context.Background())
	ch, unsubscribe := w.subscribe()
	defer unsubscribe()

	names := []cdproto.MethodType{
		cdproto.EventNetworkRequestWillBeSent,
		cdproto.EventFetchRequestPaused,
		cdproto.EventNetworkResponseReceived,
	}
	for _, n := range names {
		w.notify(&Event{Name: n})
	}
	for _, n := range names {
		assert.Equal(t, n, (<-ch).Name)
	}
}
