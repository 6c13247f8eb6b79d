// Package types provides domain models shared across cascade components.
//
// The value tree (value.go) is the single data representation for events,
// extracted variables, and action payloads. Rule configuration shapes live in
// rules.go; wire-format conversion (structpb, YAML, SQL rows) happens at the
// API and loader boundaries.
package types

import "time"

// EventID represents a UUIDv7 event identifier.
type EventID string

// Event is the normalized unit a collector submits for matching.
// Read-only once handed to the engine.
type Event struct {
	ID        EventID
	Type      string
	CreatedMs int64
	Payload   Value
}

// NewEvent builds an Event with a fresh ID and the current time.
// A nil or non-object payload is replaced with an empty Object.
func NewEvent(eventType string, payload Value) Event {
	if payload.Kind() != KindObject {
		payload = Object(nil)
	}
	return Event{
		ID:        NewEventID(),
		Type:      eventType,
		CreatedMs: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// Value exposes the event as the "event" scope root:
// {id, type, created_ms, payload}.
func (e Event) Value() Value {
	payload := e.Payload
	if payload.Kind() != KindObject {
		payload = Object(nil)
	}
	return Object(map[string]Value{
		"id":         String(string(e.ID)),
		"type":       String(e.Type),
		"created_ms": Number(float64(e.CreatedMs)),
		"payload":    payload,
	})
}

// Resource limits enforced while loading rules and accepting events.
const (
	// MaxPayloadSize limits the serialized event payload accepted over the API.
	MaxPayloadSize = 1024 * 1024

	// MaxPathDepth bounds the number of steps in one accessor expression.
	MaxPathDepth = 16

	// MaxConstraintDepth bounds nesting of and/or/not nodes in a WHERE tree.
	MaxConstraintDepth = 32

	// MaxRegexLength bounds the length of a pattern in a rule.
	MaxRegexLength = 1000
)
