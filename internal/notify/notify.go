// Package notify delivers workflow lifecycle events to interested parties:
// in-process subscribers (the websocket endpoint) and NATS.
package notify

import (
	"context"
	"sync"
	"time"
)

// EventType names a lifecycle transition.
type EventType string

const (
	CheckStarted       EventType = "check_started"
	CheckCompleted     EventType = "check_completed"
	ExecutionStarted   EventType = "execution_started"
	ExecutionCompleted EventType = "execution_completed"
	Error              EventType = "error"
)

// Event is one lifecycle notification.
type Event struct {
	Type      EventType         `json:"type"`
	SessionID string            `json:"session_id"`
	PlanID    string            `json:"plan_id,omitempty"`
	Handle    string            `json:"handle,omitempty"`
	Message   string            `json:"message,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	At        time.Time         `json:"at"`
}

// Notifier accepts events. Implementations must not block the caller for
// long; delivery failures are logged, not returned to the workflow.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Multi fans an event out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, e)
		}
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
