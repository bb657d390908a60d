package rpc

import (
	"sync"

	"telemart/core/events"
	"telemart/core/types"
)

const subscriberBuffer = 64

// Hub fans settlement events out to websocket subscribers. It satisfies
// events.Emitter so the engine can publish directly into it. Slow
// subscribers drop events rather than block the engine; message handling is
// run-to-completion and must never wait on a consumer.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan *types.Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan *types.Event)}
}

type renderable interface {
	Event() *types.Event
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	r, ok := evt.(renderable)
	if !ok {
		return
	}
	rendered := r.Event()
	if rendered == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub <- rendered:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus a cancel
// function.
func (h *Hub) Subscribe() (<-chan *types.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan *types.Event, subscriberBuffer)
	h.subs[id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}
