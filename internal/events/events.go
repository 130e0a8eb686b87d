// Package events models state-transition events for the observability
// collaborator. Publishing is fire-and-forget: sinks log their own failures
// and never block or fail the state transition that produced the event.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/tripletake/tripletake/internal/logger"
)

// Type identifies a state transition.
type Type string

const (
	SessionCreated    Type = "session_created"
	SessionCompleted  Type = "session_completed"
	SessionFailed     Type = "session_failed"
	SessionCancelled  Type = "session_cancelled"
	GroupTriggerFired Type = "group_trigger_fired"
	MergeCompleted    Type = "merge_completed"
	MergeFailed       Type = "merge_failed"
	GroupCancelled    Type = "group_cancelled"
)

// Event is one state transition.
type Event struct {
	Type      Type      `json:"type"`
	GroupID   string    `json:"group_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Sink receives published events.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// LogSink writes events to the structured log.
type LogSink struct{}

// Publish logs the event.
func (LogSink) Publish(ctx context.Context, ev Event) {
	logger.Ctx(ctx).Info("event",
		"event_type", string(ev.Type),
		"group_id", ev.GroupID,
		"session_id", ev.SessionID,
		"owner_id", ev.OwnerID,
		"detail", ev.Detail,
	)
}

// Multi fans an event out to several sinks in order.
type Multi []Sink

// Publish delivers the event to every sink.
func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, sink := range m {
		sink.Publish(ctx, ev)
	}
}

// Capture records events in memory. Test helper.
type Capture struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends the event.
func (c *Capture) Publish(_ context.Context, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a snapshot of everything captured so far.
func (c *Capture) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Count returns how many events of the given type were captured.
func (c *Capture) Count(t Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
