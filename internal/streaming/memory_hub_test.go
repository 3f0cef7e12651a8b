package streaming

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

func recv(t *testing.T, ch <-chan store.Event) store.Event {
	t.Helper()
	select {
	case got, ok := <-ch:
		require.True(t, ok, "channel closed")
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return store.Event{}
}

func assertNoEvent(t *testing.T, ch <-chan store.Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := store.Event{
		WorkflowID: "wf-1",
		StepID:     "charge",
		PointerID:  "p-1",
		Type:       schema.EventPointerCancelled,
		Sequence:   4,
	}
	require.NoError(t, hub.Publish(ctx, event))

	assert.Equal(t, event, recv(t, ch))
}

func TestEventFilterMatches(t *testing.T) {
	cancelled := store.Event{WorkflowID: "wf-1", Type: schema.EventPointerCancelled}

	tests := []struct {
		name   string
		filter EventFilter
		want   bool
	}{
		{"empty filter", EventFilter{}, true},
		{"same workflow", EventFilter{WorkflowID: "wf-1"}, true},
		{"other workflow", EventFilter{WorkflowID: "wf-2"}, false},
		{"listed type", EventFilter{EventTypes: []string{schema.EventCommandsPurged, schema.EventPointerCancelled}}, true},
		{"unlisted type", EventFilter{EventTypes: []string{schema.EventPointerCreated}}, false},
		{"workflow and type", EventFilter{WorkflowID: "wf-1", EventTypes: []string{schema.EventPointerCancelled}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(cancelled))
		})
	}
}

func TestFilteredFanOut(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	all, cancelAll, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancelAll()
	purges, cancelPurges, err := hub.Subscribe(ctx, EventFilter{WorkflowID: "wf-1", EventTypes: []string{schema.EventCommandsPurged}})
	require.NoError(t, err)
	defer cancelPurges()

	require.NoError(t, hub.Publish(ctx, store.Event{WorkflowID: "wf-1", Type: schema.EventPointerCancelled}))
	require.NoError(t, hub.Publish(ctx, store.Event{WorkflowID: "wf-2", Type: schema.EventCommandsPurged}))
	require.NoError(t, hub.Publish(ctx, store.Event{WorkflowID: "wf-1", Type: schema.EventCommandsPurged}))

	assert.Equal(t, schema.EventPointerCancelled, recv(t, all).Type)
	assert.Equal(t, "wf-2", recv(t, all).WorkflowID)
	assert.Equal(t, "wf-1", recv(t, all).WorkflowID)

	got := recv(t, purges)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assertNoEvent(t, purges)
}

func TestCancelIsIdempotent(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()
	require.NoError(t, hub.Publish(ctx, store.Event{WorkflowID: "wf-1", Type: "tick"}))

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, hub.Subscribers())
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, stop := context.WithCancel(context.Background())

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	stop()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription outlived its context")
	}
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClose(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)

	hub.Close()
	_, ok := <-ch
	assert.False(t, ok)
	cancel()

	late, lateCancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer lateCancel()
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed hub yields a closed channel")
}

func TestCloseRacesSubscribe(t *testing.T) {
	for range 50 {
		hub := NewMemoryHub()
		ctx, stop := context.WithCancel(context.Background())

		var wg sync.WaitGroup
		chans := make([]<-chan store.Event, 8)
		for i := range chans {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ch, _, err := hub.Subscribe(ctx, EventFilter{})
				if assert.NoError(t, err) {
					chans[i] = ch
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Close()
		}()
		wg.Wait()

		hub.Close()
		for _, ch := range chans {
			if ch == nil {
				continue
			}
			_, ok := <-ch
			assert.False(t, ok, "every subscription ends once the hub is closed")
		}
		assert.Zero(t, hub.Subscribers())
		stop()
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	const extra = 7
	for i := 0; i < subscriberBuffer+extra; i++ {
		require.NoError(t, hub.Publish(ctx, store.Event{WorkflowID: "wf-1", Sequence: int64(i + 1)}))
	}

	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, int64(1), recv(t, ch).Sequence, "the oldest events are kept")
	assert.Equal(t, uint64(extra), hub.Dropped())
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = hub.Publish(ctx, store.Event{WorkflowID: "wf-1", Type: "tick"})
			}
		}()
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{WorkflowID: "wf-1"})
			if err != nil {
				return
			}
			defer cancel()
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, hub.Subscribers())
}

func TestPublishCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := hub.Publish(ctx, store.Event{WorkflowID: "wf-1", Type: "tick"})
	assert.ErrorIs(t, err, context.Canceled)

	_, _, err = hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingAppender struct {
	err    error
	events []*store.Event
}

func (r *recordingAppender) AppendEvent(_ context.Context, event *store.Event) error {
	if r.err != nil {
		return r.err
	}
	event.Sequence = int64(len(r.events) + 1)
	r.events = append(r.events, event)
	return nil
}

func TestAppenderPublishesAfterAppend(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	next := &recordingAppender{}
	a := NewAppender(next, hub)
	require.NoError(t, a.AppendEvent(ctx, &store.Event{WorkflowID: "wf-1", Type: schema.EventWorkflowStarted}))

	require.Len(t, next.events, 1)
	got := recv(t, ch)
	assert.Equal(t, int64(1), got.Sequence, "subscribers see the sequence assigned by the store")
}

func TestAppenderDoesNotPublishFailedAppend(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	a := NewAppender(&recordingAppender{err: errors.New("disk full")}, hub)
	assert.Error(t, a.AppendEvent(ctx, &store.Event{WorkflowID: "wf-1", Type: "tick"}))
	assertNoEvent(t, ch)
}

func TestAppenderWithoutHub(t *testing.T) {
	next := &recordingAppender{}
	a := NewAppender(next, nil)
	require.NoError(t, a.AppendEvent(context.Background(), &store.Event{WorkflowID: "wf-1", Type: "tick"}))
	assert.Len(t, next.events, 1)
}
