package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"pinboard-api/domain"
)

type backend interface {
	FetchNotes(ctx context.Context, userID string) ([]domain.Note, error)
	InsertNote(ctx context.Context, userID string, n domain.Note) error
	MergeNote(ctx context.Context, userID, noteID string, fields map[string]any) error
	DeleteNote(ctx context.Context, userID, noteID string) error
	UpdateNotePositions(ctx context.Context, userID string, placements []domain.Placement) []PlacementError
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
	UpsertSettings(ctx context.Context, userID string, settings domain.Settings) error
	EnqueueEvents(ctx context.Context, userID string, events []domain.Event) error
}

// Cache wraps a Storage instance with Redis-backed caching for board reads.
// Any mutation evicts the user's cached board so the next read is fresh.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client
// and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchNotes(ctx context.Context, userID string) ([]domain.Note, error) {
	if notes, ok := c.loadNotesFromCache(ctx, userID); ok {
		return notes, nil
	}

	notes, err := c.base.FetchNotes(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.storeNotes(ctx, userID, notes)
	return notes, nil
}

func (c *Cache) InsertNote(ctx context.Context, userID string, n domain.Note) error {
	if err := c.base.InsertNote(ctx, userID, n); err != nil {
		return err
	}
	c.evictNotes(ctx, userID)
	return nil
}

func (c *Cache) MergeNote(ctx context.Context, userID, noteID string, fields map[string]any) error {
	if err := c.base.MergeNote(ctx, userID, noteID, fields); err != nil {
		return err
	}
	c.evictNotes(ctx, userID)
	return nil
}

func (c *Cache) DeleteNote(ctx context.Context, userID, noteID string) error {
	if err := c.base.DeleteNote(ctx, userID, noteID); err != nil {
		return err
	}
	c.evictNotes(ctx, userID)
	return nil
}

func (c *Cache) UpdateNotePositions(ctx context.Context, userID string, placements []domain.Placement) []PlacementError {
	failed := c.base.UpdateNotePositions(ctx, userID, placements)
	// Evict even on partial failure; the remaining writes did land.
	c.evictNotes(ctx, userID)
	return failed
}

func (c *Cache) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	if settings, ok := c.loadSettingsFromCache(ctx, userID); ok {
		return settings, nil
	}

	settings, err := c.base.FetchSettings(ctx, userID)
	if err != nil {
		return domain.Settings{}, err
	}

	c.storeSettings(ctx, userID, settings)
	return settings, nil
}

func (c *Cache) UpsertSettings(ctx context.Context, userID string, settings domain.Settings) error {
	if err := c.base.UpsertSettings(ctx, userID, settings); err != nil {
		return err
	}
	if c.redis != nil {
		_ = c.redis.Del(ctx, settingsCacheKey(userID)).Err()
	}
	return nil
}

func (c *Cache) EnqueueEvents(ctx context.Context, userID string, events []domain.Event) error {
	return c.base.EnqueueEvents(ctx, userID, events)
}

func (c *Cache) loadNotesFromCache(ctx context.Context, userID string) ([]domain.Note, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, notesCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, notesCacheKey(userID)).Err()
		}
		return nil, false
	}
	var notes []domain.Note
	if err := json.Unmarshal(data, &notes); err != nil {
		_ = c.redis.Del(ctx, notesCacheKey(userID)).Err()
		return nil, false
	}
	return notes, true
}

func (c *Cache) loadSettingsFromCache(ctx context.Context, userID string) (domain.Settings, bool) {
	if c.redis == nil {
		return domain.Settings{}, false
	}
	data, err := c.redis.Get(ctx, settingsCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, settingsCacheKey(userID)).Err()
		}
		return domain.Settings{}, false
	}
	var settings domain.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		_ = c.redis.Del(ctx, settingsCacheKey(userID)).Err()
		return domain.Settings{}, false
	}
	return settings, true
}

func (c *Cache) storeNotes(ctx context.Context, userID string, notes []domain.Note) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(notes)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, notesCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) storeSettings(ctx context.Context, userID string, settings domain.Settings) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, settingsCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) evictNotes(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, notesCacheKey(userID)).Err()
}

func notesCacheKey(userID string) string {
	return "notes:" + userID
}

func settingsCacheKey(userID string) string {
	return "settings:" + userID
}
