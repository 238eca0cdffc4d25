package events

import "time"

// Event defines the contract for everything published on the event bus.
type Event interface {
	// EventType returns the unique code for this event (e.g., "PIPELINE_PROGRESS").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

const (
	TypeProgress = "PIPELINE_PROGRESS"
	TypeAnswer   = "ANSWER_DELIVERED"
)

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// Progress is a status line emitted while a thread's question is answered
func Progress(threadID, status string, at time.Time) BaseEvent {
	return BaseEvent{
		Type: TypeProgress,
		Data: map[string]interface{}{
			"thread_id": threadID,
			"status":    status,
			"at":        at.Format(time.RFC3339Nano),
		},
		OccurredAt: at,
	}
}

// Answer carries the final reply of a thread
func Answer(threadID, text string, at time.Time) BaseEvent {
	return BaseEvent{
		Type: TypeAnswer,
		Data: map[string]interface{}{
			"thread_id": threadID,
			"text":      text,
			"at":        at.Format(time.RFC3339Nano),
		},
		OccurredAt: at,
	}
}

// FromPayload rebuilds an event received from the bus. The "at" field is
// used as the timestamp when present.
func FromPayload(eventType string, data map[string]interface{}) BaseEvent {
	at := time.Now()
	if raw, ok := data["at"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			at = parsed
		}
	}
	return BaseEvent{Type: eventType, Data: data, OccurredAt: at}
}

// String reads a string field of the payload, "" when absent
func (e BaseEvent) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}
