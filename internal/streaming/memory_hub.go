package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rendis/cascade/internal/store"
)

// subscriberBuffer is the per-subscriber backlog before events are dropped.
const subscriberBuffer = 64

// Matches reports whether e passes the filter. Empty fields match anything.
func (f EventFilter) Matches(e store.Event) bool {
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	return len(f.EventTypes) == 0 || slices.Contains(f.EventTypes, e.Type)
}

type subscription struct {
	filter EventFilter
	ch     chan store.Event
	stop   func() bool
}

// MemoryHub fans events out to in-process subscribers over buffered
// channels. A subscriber that falls behind loses events rather than
// stalling the engine.
type MemoryHub struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	closed  bool
	dropped atomic.Uint64
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[*subscription]struct{})}
}

// Publish delivers event to every matching subscriber without blocking.
func (h *MemoryHub) Publish(ctx context.Context, event store.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. The channel is closed when
// cancel is called, when ctx ends, or when the hub is closed. cancel is
// idempotent.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan store.Event, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscription{filter: filter, ch: make(chan store.Event, subscriberBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}, nil
	}
	cancel := func() { h.remove(sub) }
	// stop is set before the subscription becomes visible to Close.
	sub.stop = context.AfterFunc(ctx, cancel)
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub.ch, cancel, nil
}

func (h *MemoryHub) remove(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Close ends every subscription. Later subscriptions get a closed channel.
func (h *MemoryHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		sub.stop()
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Subscribers reports the number of live subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many events were discarded for slow subscribers.
func (h *MemoryHub) Dropped() uint64 { return h.dropped.Load() }
