package domain

import "github.com/bytedance/sonic"

// Event types emitted on note changes.
const (
	EntityNote = "note"

	EventNoteCreated = "note-created"
	EventNoteUpdated = "note-updated"
	EventNoteMoved   = "note-moved"
	EventNoteDeleted = "note-deleted"
)

// Event records a change to a board entity for downstream consumers.
type Event struct {
	ID         string                 `json:"id"`
	EntityType string                 `json:"entityType"`
	Type       string                 `json:"type"`
	EntityID   string                 `json:"entityId"`
	Data       sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp  int64                  `json:"timestamp"`
}

// EventEnvelope wraps an event with the user whose board it belongs to.
type EventEnvelope struct {
	UserID string `json:"userId"`
	Event  Event  `json:"event"`
}
