package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

type backend interface {
	FetchSubtasks(ctx context.Context, studentID string) ([]domain.Subtask, error)
	FetchCalendar(ctx context.Context, studentID string) ([]domain.CalendarEntry, error)
	UpsertSubtask(ctx context.Context, sub domain.Subtask) error
	UpdateSubtask(ctx context.Context, studentID string, subtaskID domain.SubtaskID, changes map[string]any) error
}

// Cache wraps a Store with redis-backed caching for the per-student roadmap
// reads. Writes evict so the next read observes the backing tables.
type Cache struct {
	*Store
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Store); ok {
		c.Store = s
	}
	return c
}

func (c *Cache) FetchSubtasks(ctx context.Context, studentID string) ([]domain.Subtask, error) {
	if subtasks, ok := c.loadSubtasksFromCache(ctx, studentID); ok {
		return subtasks, nil
	}

	subtasks, err := c.base.FetchSubtasks(ctx, studentID)
	if err != nil {
		return nil, err
	}

	c.storeSubtasks(ctx, studentID, subtasks)
	return subtasks, nil
}

func (c *Cache) FetchCalendar(ctx context.Context, studentID string) ([]domain.CalendarEntry, error) {
	if entries, ok := c.loadCalendarFromCache(ctx, studentID); ok {
		return entries, nil
	}

	entries, err := c.base.FetchCalendar(ctx, studentID)
	if err != nil {
		return nil, err
	}

	c.storeCalendar(ctx, studentID, entries)
	return entries, nil
}

func (c *Cache) UpsertSubtask(ctx context.Context, sub domain.Subtask) error {
	if err := c.base.UpsertSubtask(ctx, sub); err != nil {
		return err
	}
	c.evict(ctx, sub.StudentID)
	return nil
}

func (c *Cache) UpdateSubtask(ctx context.Context, studentID string, subtaskID domain.SubtaskID, changes map[string]any) error {
	if err := c.base.UpdateSubtask(ctx, studentID, subtaskID, changes); err != nil {
		return err
	}
	c.evict(ctx, studentID)
	return nil
}

// Evict drops the cached roadmap for the student. The updater calls this when
// it applies an event that originated outside the request path.
func (c *Cache) Evict(ctx context.Context, studentID string) {
	c.evict(ctx, studentID)
}

func (c *Cache) loadSubtasksFromCache(ctx context.Context, studentID string) ([]domain.Subtask, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, subtasksCacheKey(studentID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, subtasksCacheKey(studentID)).Err()
		}
		return nil, false
	}
	var subtasks []domain.Subtask
	if err := json.Unmarshal(data, &subtasks); err != nil {
		_ = c.redis.Del(ctx, subtasksCacheKey(studentID)).Err()
		return nil, false
	}
	return subtasks, true
}

func (c *Cache) loadCalendarFromCache(ctx context.Context, studentID string) ([]domain.CalendarEntry, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, calendarCacheKey(studentID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, calendarCacheKey(studentID)).Err()
		}
		return nil, false
	}
	var entries []domain.CalendarEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		_ = c.redis.Del(ctx, calendarCacheKey(studentID)).Err()
		return nil, false
	}
	return entries, true
}

func (c *Cache) storeSubtasks(ctx context.Context, studentID string, subtasks []domain.Subtask) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(subtasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, subtasksCacheKey(studentID), data, c.ttl).Err()
}

func (c *Cache) storeCalendar(ctx context.Context, studentID string, entries []domain.CalendarEntry) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, calendarCacheKey(studentID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, studentID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, subtasksCacheKey(studentID), calendarCacheKey(studentID)).Result()
}

func subtasksCacheKey(studentID string) string {
	return "subtasks:" + studentID
}

func calendarCacheKey(studentID string) string {
	return "calendar:" + studentID
}
