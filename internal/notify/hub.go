package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub fans events out to in-process subscribers. Each subscriber has a
// buffered channel; a full buffer drops the event for that subscriber only.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	buffer int
	logger *zap.Logger
}

type subscriber struct {
	ch        chan Event
	sessionID string
}

// NewHub creates a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subs: make(map[int]*subscriber), buffer: buffer, logger: logger}
}

// Subscribe registers a subscriber. An empty sessionID receives events for
// every session. The returned cancel func closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	s := &subscriber{ch: make(chan Event, h.buffer), sessionID: sessionID}
	h.subs[id] = s

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

// Notify delivers e to every matching subscriber without blocking.
func (h *Hub) Notify(_ context.Context, e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.sessionID != "" && s.sessionID != e.SessionID {
			continue
		}
		select {
		case s.ch <- e:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				zap.String("type", string(e.Type)),
				zap.String("session", e.SessionID),
			)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
