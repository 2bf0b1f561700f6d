package eventhub

import (
	"context"
	"sync"

	"pbx-monitor/internal/dispatch"
	"pbx-monitor/internal/runctx"
)

const (
	DefaultRecentSize       = 50
	DefaultSubscriberBuffer = 16
)

// Hub keeps the most recent matched events and fans every new one out to
// subscribers. Deliver never blocks: a subscriber whose buffer is full loses
// its oldest pending event.
type Hub struct {
	mu          sync.Mutex
	recent      []dispatch.Event
	next        int
	filled      bool
	subscribers map[int]chan dispatch.Event
	nextID      int
	delivered   uint64
}

var _ dispatch.Sink = (*Hub)(nil)

func New(recentSize int) *Hub {
	if recentSize <= 0 {
		recentSize = DefaultRecentSize
	}
	return &Hub{
		recent:      make([]dispatch.Event, recentSize),
		subscribers: map[int]chan dispatch.Event{},
	}
}

func (h *Hub) Deliver(_ context.Context, ev dispatch.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recent[h.next] = ev
	h.next = (h.next + 1) % len(h.recent)
	if h.next == 0 {
		h.filled = true
	}
	h.delivered++

	for _, ch := range h.subscribers {
		runctx.SendDropOldest(ch, ev)
	}
	return nil
}

// Recent returns up to limit buffered events, oldest first. A non-positive
// limit returns everything buffered.
func (h *Hub) Recent(limit int) []dispatch.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ordered []dispatch.Event
	if h.filled {
		ordered = append(ordered, h.recent[h.next:]...)
	}
	ordered = append(ordered, h.recent[:h.next]...)
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

func (h *Hub) Delivered() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.delivered
}

// Subscribe returns a channel of events delivered after the call and a
// function that unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan dispatch.Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan dispatch.Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
