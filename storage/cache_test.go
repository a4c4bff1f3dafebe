package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"pinboard-api/domain"
)

type stubBackend struct {
	fetchNotesFn    func(ctx context.Context, userID string) ([]domain.Note, error)
	insertNoteFn    func(ctx context.Context, userID string, n domain.Note) error
	mergeNoteFn     func(ctx context.Context, userID, noteID string, fields map[string]any) error
	deleteNoteFn    func(ctx context.Context, userID, noteID string) error
	updatePosFn     func(ctx context.Context, userID string, placements []domain.Placement) []PlacementError
	fetchSettingsFn func(ctx context.Context, userID string) (domain.Settings, error)
	upsertFn        func(ctx context.Context, userID string, settings domain.Settings) error
	enqueueFn       func(ctx context.Context, userID string, events []domain.Event) error
}

func (s *stubBackend) FetchNotes(ctx context.Context, userID string) ([]domain.Note, error) {
	if s.fetchNotesFn == nil {
		return nil, errors.New("unexpected FetchNotes call")
	}
	return s.fetchNotesFn(ctx, userID)
}

func (s *stubBackend) InsertNote(ctx context.Context, userID string, n domain.Note) error {
	if s.insertNoteFn == nil {
		return errors.New("unexpected InsertNote call")
	}
	return s.insertNoteFn(ctx, userID, n)
}

func (s *stubBackend) MergeNote(ctx context.Context, userID, noteID string, fields map[string]any) error {
	if s.mergeNoteFn == nil {
		return errors.New("unexpected MergeNote call")
	}
	return s.mergeNoteFn(ctx, userID, noteID, fields)
}

func (s *stubBackend) DeleteNote(ctx context.Context, userID, noteID string) error {
	if s.deleteNoteFn == nil {
		return errors.New("unexpected DeleteNote call")
	}
	return s.deleteNoteFn(ctx, userID, noteID)
}

func (s *stubBackend) UpdateNotePositions(ctx context.Context, userID string, placements []domain.Placement) []PlacementError {
	if s.updatePosFn == nil {
		return []PlacementError{{Err: errors.New("unexpected UpdateNotePositions call")}}
	}
	return s.updatePosFn(ctx, userID, placements)
}

func (s *stubBackend) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	if s.fetchSettingsFn == nil {
		return domain.Settings{}, errors.New("unexpected FetchSettings call")
	}
	return s.fetchSettingsFn(ctx, userID)
}

func (s *stubBackend) UpsertSettings(ctx context.Context, userID string, settings domain.Settings) error {
	if s.upsertFn == nil {
		return errors.New("unexpected UpsertSettings call")
	}
	return s.upsertFn(ctx, userID, settings)
}

func (s *stubBackend) EnqueueEvents(ctx context.Context, userID string, events []domain.Event) error {
	if s.enqueueFn == nil {
		return errors.New("unexpected EnqueueEvents call")
	}
	return s.enqueueFn(ctx, userID, events)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheFetchNotesMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)

	ctx := context.Background()
	userID := "user-1"
	expected := []domain.Note{{ID: "n1", CustomerName: "Acme", PositionX: 20, PositionY: 20}}

	var calls int
	cache := NewCache(&stubBackend{
		fetchNotesFn: func(ctx context.Context, uid string) ([]domain.Note, error) {
			calls++
			if uid != userID {
				t.Fatalf("unexpected user id: %s", uid)
			}
			return append([]domain.Note(nil), expected...), nil
		},
	}, client, time.Minute)

	notes, err := cache.FetchNotes(ctx, userID)
	if err != nil {
		t.Fatalf("fetch notes: %v", err)
	}
	if !reflect.DeepEqual(notes, expected) {
		t.Fatalf("unexpected notes: %#v", notes)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL(notesCacheKey(userID)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.FetchNotes(ctx, userID)
	if err != nil {
		t.Fatalf("fetch cached notes: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached notes: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheMutationsEvictNotes(t *testing.T) {
	mr, client := newTestRedis(t)

	ctx := context.Background()
	userID := "user-2"

	var fetches int
	cache := NewCache(&stubBackend{
		fetchNotesFn: func(ctx context.Context, uid string) ([]domain.Note, error) {
			fetches++
			return []domain.Note{{ID: "n1"}}, nil
		},
		mergeNoteFn: func(ctx context.Context, uid, noteID string, fields map[string]any) error {
			return nil
		},
	}, client, time.Minute)

	if _, err := cache.FetchNotes(ctx, userID); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if !mr.Exists(notesCacheKey(userID)) {
		t.Fatalf("expected notes cache entry after fetch")
	}

	if err := cache.MergeNote(ctx, userID, "n1", map[string]any{"Status": "done"}); err != nil {
		t.Fatalf("merge note: %v", err)
	}
	if mr.Exists(notesCacheKey(userID)) {
		t.Fatalf("expected notes cache eviction after merge")
	}

	if _, err := cache.FetchNotes(ctx, userID); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if fetches != 2 {
		t.Fatalf("expected backend refetch after eviction, fetches=%d", fetches)
	}
}

func TestCacheUpdateNotePositionsEvictsEvenOnPartialFailure(t *testing.T) {
	mr, client := newTestRedis(t)

	ctx := context.Background()
	userID := "user-3"
	someErr := errors.New("write failed")

	cache := NewCache(&stubBackend{
		fetchNotesFn: func(ctx context.Context, uid string) ([]domain.Note, error) {
			return []domain.Note{{ID: "n1"}}, nil
		},
		updatePosFn: func(ctx context.Context, uid string, placements []domain.Placement) []PlacementError {
			return []PlacementError{{NoteID: "n2", Err: someErr}}
		},
	}, client, time.Minute)

	if _, err := cache.FetchNotes(ctx, userID); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	failed := cache.UpdateNotePositions(ctx, userID, []domain.Placement{
		{NoteID: "n1", X: 20, Y: 20},
		{NoteID: "n2", X: 415, Y: 20},
	})
	if len(failed) != 1 || failed[0].NoteID != "n2" {
		t.Fatalf("unexpected failures: %#v", failed)
	}
	if mr.Exists(notesCacheKey(userID)) {
		t.Fatalf("expected eviction after position updates")
	}
}

func TestCacheFetchSettingsMissThenHit(t *testing.T) {
	_, client := newTestRedis(t)

	ctx := context.Background()
	userID := "user-settings"
	expected := domain.Settings{ShowArchived: true, WorkdaysAhead: 7}

	var calls int
	cache := NewCache(&stubBackend{
		fetchSettingsFn: func(ctx context.Context, uid string) (domain.Settings, error) {
			calls++
			return expected, nil
		},
	}, client, time.Minute)

	settings, err := cache.FetchSettings(ctx, userID)
	if err != nil {
		t.Fatalf("fetch settings: %v", err)
	}
	if settings != expected {
		t.Fatalf("unexpected settings: %#v", settings)
	}

	if _, err := cache.FetchSettings(ctx, userID); err != nil {
		t.Fatalf("fetch cached settings: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}
