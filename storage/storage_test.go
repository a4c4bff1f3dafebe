package storage

import (
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"pinboard-api/domain"
)

func TestNoteEntityRoundTrip(t *testing.T) {
	deadline := time.Date(2024, 3, 16, 8, 0, 0, 0, time.UTC)
	received := time.Date(2024, 3, 10, 11, 30, 0, 0, time.UTC)
	note := domain.Note{
		ID:              "n1",
		CustomerName:    "Acme GmbH",
		Subject:         "Follow up on quote",
		Remarks:         "Call before Friday",
		Status:          domain.StatusInProgress,
		NoteType:        domain.TypeCall,
		PositionX:       415,
		PositionY:       315,
		ZIndex:          7,
		Deadline:        &deadline,
		DeadlineType:    domain.DeadlineMust,
		EmailFrom:       "buyer@acme.example",
		EmailReceivedAt: &received,
		EmailContent:    "original message body",
	}

	got := noteFromEntity(entityFromNote("user-1", note))
	if got.ID != note.ID || got.CustomerName != note.CustomerName || got.Status != note.Status {
		t.Fatalf("unexpected note after round trip: %#v", got)
	}
	if got.PositionX != 415 || got.PositionY != 315 || got.ZIndex != 7 {
		t.Fatalf("position fields lost: %#v", got)
	}
	if got.Deadline == nil || !got.Deadline.Equal(deadline) {
		t.Fatalf("deadline lost: %#v", got.Deadline)
	}
	if got.EmailReceivedAt == nil || !got.EmailReceivedAt.Equal(received) {
		t.Fatalf("email received timestamp lost: %#v", got.EmailReceivedAt)
	}
}

func TestNoteFromEntityTreatsBadDeadlineAsAbsent(t *testing.T) {
	tests := []struct {
		name     string
		deadline string
	}{
		{name: "empty", deadline: ""},
		{name: "garbage", deadline: "not-a-date"},
		{name: "dateOnly", deadline: "2024-03-16"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := noteEntity{
				Entity:   aztables.Entity{PartitionKey: "u", RowKey: "n"},
				Deadline: tt.deadline,
			}
			if n := noteFromEntity(ent); n.Deadline != nil {
				t.Fatalf("expected no deadline for %q, got %v", tt.deadline, n.Deadline)
			}
		})
	}
}

func TestEntityFromNoteKeysOnUserAndNote(t *testing.T) {
	ent := entityFromNote("user-7", domain.Note{ID: "note-9"})
	if ent.PartitionKey != "user-7" || ent.RowKey != "note-9" {
		t.Fatalf("unexpected entity keys: %s/%s", ent.PartitionKey, ent.RowKey)
	}
}
