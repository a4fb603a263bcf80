package notifications

import (
	"context"
	"time"
)

// EventType enumerates the coordinator events.
type EventType string

const (
	EventProgress      EventType = "progress"
	EventStatusChange  EventType = "status-change"
	EventStageComplete EventType = "stage-complete"
	EventStageFailed   EventType = "stage-failed"
	EventComplete      EventType = "complete"
)

// Payload carries event-specific fields.
type Payload map[string]any

// Event is a published notification as seen by subscribers.
type Event struct {
	Sequence  uint64    `json:"seq"`
	TaskID    string    `json:"taskId"`
	Type      EventType `json:"type"`
	Payload   Payload   `json:"payload,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Terminal reports whether the event ends the task's event stream.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventComplete:
		return true
	case EventStageFailed:
		retrying, _ := e.Payload["retrying"].(bool)
		return !retrying
	case EventStatusChange:
		removed, _ := e.Payload["removed"].(bool)
		return removed
	default:
		return false
	}
}

// Sink receives coordinator events.
type Sink interface {
	Publish(ctx context.Context, taskID string, event EventType, payload Payload) error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, string, EventType, Payload) error { return nil }

func newEvent(taskID string, eventType EventType, payload Payload) Event {
	return Event{
		TaskID:    taskID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
