package events

import (
	"context"
	"sync"
	"time"
)

// Event types published on the bus.
const (
	DelegationCreated   = "delegation.created"
	DelegationCompleted = "delegation.completed"
	DelegationFailed    = "delegation.failed"
	DelegationCancelled = "delegation.cancelled"
	CollaborationOpened = "collaboration.opened"
	WorkflowCreated     = "workflow.created"
	WorkflowCompleted   = "workflow.completed"
	WorkflowFailed      = "workflow.failed"
	AgentStatus         = "agent.status"
)

// Event is one lifecycle notification.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Subject   string         `json:"subject"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher accepts lifecycle events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the published event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
