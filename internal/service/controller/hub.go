package controller

import (
	"sync"

	"github.com/oshokin/shake-guard/internal/domain/shake"
)

// hub fans events out to subscribers without ever blocking the publisher.
type hub struct {
	// mu guards the fields below.
	mu sync.Mutex
	// subscribers maps subscription IDs to their channels.
	subscribers map[int]chan shake.Event
	// nextID is the ID of the next subscription.
	nextID int
	// closed is set once the hub shut down.
	closed bool
	// dropped counts events lost to slow subscribers.
	dropped int
}

// newHub creates an empty hub.
func newHub() *hub {
	return &hub{subscribers: make(map[int]chan shake.Event)}
}

// subscribe registers a subscriber with the given buffer.
// The returned function unsubscribes and closes the channel; it is idempotent.
func (h *hub) subscribe(buffer int) (<-chan shake.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan shake.Event, max(buffer, 1))
	if h.closed {
		close(ch)

		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if sub, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(sub)
		}
	}
}

// publish delivers ev to every subscriber with room in its buffer.
// It reports how many subscribers missed the event.
func (h *hub) publish(ev shake.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	var missed int

	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			missed++
		}
	}

	h.dropped += missed

	return missed
}

// close closes every subscriber channel and rejects new subscriptions.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true

	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}
