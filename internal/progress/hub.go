// Package progress fans job progress out to each user's open progress channels.
package progress

import (
	"context"
	"sync"

	"milhao-quiz-service/internal/domain"
)

const subscriberBuffer = 8

// Hub is an in-process per-user publish/subscribe fan-out.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.ProgressEvent]struct{}
	// pending holds the latest non-terminal event per user so a late
	// subscriber starts from the current state.
	pending map[string]domain.ProgressEvent
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan domain.ProgressEvent]struct{}),
		pending:     make(map[string]domain.ProgressEvent),
	}
}

// Subscribe returns a channel of userID's progress events.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(userID string) (<-chan domain.ProgressEvent, func()) {
	ch := make(chan domain.ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	subs := h.subscribers[userID]
	if subs == nil {
		subs = make(map[chan domain.ProgressEvent]struct{})
		h.subscribers[userID] = subs
	}
	subs[ch] = struct{}{}
	if ev, ok := h.pending[userID]; ok {
		ch <- ev
	}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[userID]
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.subscribers, userID)
		}
	}
	return ch, cancel
}

// Publish implements app.ProgressPublisher. It never blocks on slow subscribers.
func (h *Hub) Publish(_ context.Context, userID string, ev domain.ProgressEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Kind == domain.ProgressUpdate {
		h.pending[userID] = ev
	} else {
		delete(h.pending, userID)
	}
	h.broadcastLocked(userID, ev)
	return nil
}

// Subscribers reports how many channels userID has open.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[userID])
}

func (h *Hub) broadcastLocked(userID string, ev domain.ProgressEvent) {
	for ch := range h.subscribers[userID] {
		select {
		case ch <- ev:
		default:
			// full buffer: drop the oldest update so the newest state gets through
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}
