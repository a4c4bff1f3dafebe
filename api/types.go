package api

import (
	"context"

	"pinboard-api/domain"
	"pinboard-api/storage"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	FetchNotes(ctx context.Context, userID string) ([]domain.Note, error)
	InsertNote(ctx context.Context, userID string, n domain.Note) error
	MergeNote(ctx context.Context, userID, noteID string, fields map[string]any) error
	DeleteNote(ctx context.Context, userID, noteID string) error
	UpdateNotePositions(ctx context.Context, userID string, placements []domain.Placement) []storage.PlacementError
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
	UpsertSettings(ctx context.Context, userID string, settings domain.Settings) error
	EnqueueEvents(ctx context.Context, userID string, events []domain.Event) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}
