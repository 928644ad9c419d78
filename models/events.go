package models

import "time"

// EventKind identifies the payload carried by an Event.
type EventKind string

const (
	EventPhase    EventKind = "phase"
	EventSnapshot EventKind = "snapshot"
	EventError    EventKind = "error"
	EventWarning  EventKind = "warning"
)

// Event is a notification published by the acquisition controller to its
// subscribers (WebSocket clients, console).
type Event struct {
	Kind     EventKind `json:"type"`
	Phase    Phase     `json:"phase"`
	Previous *Phase    `json:"previousPhase,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Error    string    `json:"error,omitempty"`
	Warning  string    `json:"warning,omitempty"`
	Session  string    `json:"session,omitempty"`
	At       time.Time `json:"timestamp"`
}
