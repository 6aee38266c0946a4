package mq

import "time"

// ChildEventPayload is the envelope business-event producers publish to the
// events exchange. Data carries the flat event fields the mapper needs.
type ChildEventPayload struct {
	EventID    string            `json:"event_id"`
	TraceID    string            `json:"trace_id,omitempty"`
	EventType  string            `json:"event_type"`
	Data       map[string]string `json:"data"`
	OccurredAt time.Time         `json:"occurred_at"`
}
