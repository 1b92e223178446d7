// Package hub implements the per-task progress broadcast hub: a
// process-wide publish/subscribe multiplexer fanning live progress events
// out to zero or more observers of a task.
package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"studio/internal/domain"
)

// subscriberBuffer is the per-channel buffer. A subscriber that falls this
// far behind starts losing events; delivery is best-effort and catch-up goes
// through the task registry, not the hub.
const subscriberBuffer = 16

// Hub fans progress events out to task observers. There is no buffering or
// replay: a channel subscribed after an event was published never receives
// that event. Safe for concurrent use from unrelated tasks and connections.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[chan domain.ProgressEvent]struct{}
	log    zerolog.Logger
}

// New constructs an empty hub. The hub is plain shared state with no
// background goroutine; construction and ownership stay explicit.
func New(log zerolog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[chan domain.ProgressEvent]struct{}),
		log:    log,
	}
}

// Subscribe registers a new observer channel for the task id and returns it.
// The caller owns the channel and must call Unsubscribe when done; the hub
// never closes subscriber channels.
func (h *Hub) Subscribe(taskID string) chan domain.ProgressEvent {
	ch := make(chan domain.ProgressEvent, subscriberBuffer)
	h.mu.Lock()
	subs, ok := h.topics[taskID]
	if !ok {
		subs = make(map[chan domain.ProgressEvent]struct{})
		h.topics[taskID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel from the task's subscriber set. The set is
// dropped entirely when its last member leaves, so memory stays bounded by
// active observers.
func (h *Hub) Unsubscribe(taskID string, ch chan domain.ProgressEvent) {
	h.mu.Lock()
	if subs, ok := h.topics[taskID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.topics, taskID)
		}
	}
	h.mu.Unlock()
}

// Publish delivers the event to every channel currently subscribed to the
// task id. Delivery is best-effort: a subscriber with a full buffer is
// skipped and does not affect delivery to the others or block the caller.
func (h *Hub) Publish(taskID string, ev domain.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs, ok := h.topics[taskID]
	if !ok {
		return
	}
	for ch := range subs {
		select {
		case ch <- ev:
		default:
			h.log.Warn().Str("task_id", taskID).Msg("hub: dropping event for slow subscriber")
		}
	}
}

// Subscribers returns the current observer count for the task id.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[taskID])
}
