package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"pinboard-api/domain"
)

// Storage provides access to the board's persistence mechanisms.
type Storage struct {
	noteTable     *aztables.Client
	settingsTable *aztables.Client
	eventQueue    *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, notesTable, settingsTable, eventQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	nt := svc.NewClient(notesTable)
	st := svc.NewClient(settingsTable)

	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{noteTable: nt, settingsTable: st, eventQueue: eq}, nil
}

type noteEntity struct {
	aztables.Entity
	CustomerName    string  `json:"CustomerName"`
	Subject         string  `json:"Subject"`
	Remarks         string  `json:"Remarks"`
	Status          string  `json:"Status"`
	NoteType        string  `json:"NoteType"`
	PositionX       float64 `json:"PositionX"`
	PositionY       float64 `json:"PositionY"`
	ZIndex          int     `json:"ZIndex"`
	Deadline        string  `json:"Deadline"`
	DeadlineType    string  `json:"DeadlineType"`
	EmailFrom       string  `json:"EmailFrom"`
	EmailReceivedAt string  `json:"EmailReceivedAt"`
	EmailContent    string  `json:"EmailContent"`
}

func noteFromEntity(ent noteEntity) domain.Note {
	n := domain.Note{
		ID:           ent.RowKey,
		CustomerName: ent.CustomerName,
		Subject:      ent.Subject,
		Remarks:      ent.Remarks,
		Status:       domain.Status(ent.Status),
		NoteType:     domain.NoteType(ent.NoteType),
		PositionX:    ent.PositionX,
		PositionY:    ent.PositionY,
		ZIndex:       ent.ZIndex,
		DeadlineType: domain.DeadlineType(ent.DeadlineType),
		EmailFrom:    ent.EmailFrom,
		EmailContent: ent.EmailContent,
	}
	// A missing or malformed deadline means "no deadline", never an error.
	if ts, err := time.Parse(time.RFC3339, ent.Deadline); err == nil {
		n.Deadline = &ts
	}
	if ts, err := time.Parse(time.RFC3339, ent.EmailReceivedAt); err == nil {
		n.EmailReceivedAt = &ts
	}
	return n
}

func entityFromNote(userID string, n domain.Note) noteEntity {
	ent := noteEntity{
		Entity:       aztables.Entity{PartitionKey: userID, RowKey: n.ID},
		CustomerName: n.CustomerName,
		Subject:      n.Subject,
		Remarks:      n.Remarks,
		Status:       string(n.Status),
		NoteType:     string(n.NoteType),
		PositionX:    n.PositionX,
		PositionY:    n.PositionY,
		ZIndex:       n.ZIndex,
		DeadlineType: string(n.DeadlineType),
		EmailFrom:    n.EmailFrom,
		EmailContent: n.EmailContent,
	}
	if n.Deadline != nil {
		ent.Deadline = n.Deadline.Format(time.RFC3339)
	}
	if n.EmailReceivedAt != nil {
		ent.EmailReceivedAt = n.EmailReceivedAt.Format(time.RFC3339)
	}
	return ent
}

// FetchNotes retrieves all notes on the provided user's board.
func (s *Storage) FetchNotes(ctx context.Context, userID string) ([]domain.Note, error) {
	filter := "PartitionKey eq '" + userID + "'"
	pager := s.noteTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	notes := []domain.Note{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent noteEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			notes = append(notes, noteFromEntity(ent))
		}
	}
	return notes, nil
}

// InsertNote adds a new note entity to the user's board.
func (s *Storage) InsertNote(ctx context.Context, userID string, n domain.Note) error {
	data, err := json.Marshal(entityFromNote(userID, n))
	if err != nil {
		return err
	}
	_, err = s.noteTable.AddEntity(ctx, data, nil)
	return err
}

// MergeNote applies a partial update to a note. The fields map holds entity
// property names and values; keys are merged, everything else is untouched.
func (s *Storage) MergeNote(ctx context.Context, userID, noteID string, fields map[string]any) error {
	props := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		props[k] = v
	}
	props["PartitionKey"] = userID
	props["RowKey"] = noteID
	data, err := json.Marshal(props)
	if err != nil {
		return err
	}
	_, err = s.noteTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeMerge})
	return err
}

// DeleteNote removes a note from the user's board.
func (s *Storage) DeleteNote(ctx context.Context, userID, noteID string) error {
	_, err := s.noteTable.DeleteEntity(ctx, userID, noteID, nil)
	return err
}

// PlacementError records a position write that did not land.
type PlacementError struct {
	NoteID string
	Err    error
}

// UpdateNotePositions issues one merge per placement concurrently. The writes
// are independent and unordered: a failed write leaves that note stale until
// the next arrange or drag touches it, and never affects the other writes.
func (s *Storage) UpdateNotePositions(ctx context.Context, userID string, placements []domain.Placement) []PlacementError {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []PlacementError
	)
	for _, p := range placements {
		wg.Add(1)
		go func(p domain.Placement) {
			defer wg.Done()
			err := s.MergeNote(ctx, userID, p.NoteID, map[string]any{
				"PositionX": p.X,
				"PositionY": p.Y,
			})
			if err != nil {
				mu.Lock()
				failed = append(failed, PlacementError{NoteID: p.NoteID, Err: err})
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return failed
}

type settingsEntity struct {
	aztables.Entity
	ShowArchived  bool `json:"ShowArchived"`
	WorkdaysAhead int  `json:"WorkdaysAhead"`
}

// FetchSettings loads the user's board settings, falling back to defaults
// when none were saved yet.
func (s *Storage) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	resp, err := s.settingsTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Settings{}, nil
		}
		return domain.Settings{}, err
	}
	var ent settingsEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Settings{}, err
	}
	return domain.Settings{ShowArchived: ent.ShowArchived, WorkdaysAhead: ent.WorkdaysAhead}, nil
}

// UpsertSettings saves the user's board settings.
func (s *Storage) UpsertSettings(ctx context.Context, userID string, settings domain.Settings) error {
	ent := settingsEntity{
		Entity:        aztables.Entity{PartitionKey: userID, RowKey: userID},
		ShowArchived:  settings.ShowArchived,
		WorkdaysAhead: settings.WorkdaysAhead,
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.settingsTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

// EnqueueEvents sends the given change events to the event queue.
func (s *Storage) EnqueueEvents(ctx context.Context, userID string, events []domain.Event) error {
	for _, ev := range events {
		env := domain.EventEnvelope{UserID: userID, Event: ev}
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if _, err := s.eventQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
