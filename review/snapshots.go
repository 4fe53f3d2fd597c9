package review

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/beacon-House/counselling-portal-sub000/domain"
)

// SnapshotStore persists the review working set between mutations so an
// interrupted session (crash, reload, closed tab) survives until commit or
// cancellation.
type SnapshotStore interface {
	Load(ctx context.Context, studentID, noteID string) ([]domain.Proposal, bool, error)
	Save(ctx context.Context, studentID, noteID string, proposals []domain.Proposal) error
	Clear(ctx context.Context, studentID, noteID string) error
}

// RedisSnapshots stores working sets in redis. Entries carry no TTL: they are
// removed only on successful commit or explicit cancellation, never by
// expiry or by simply navigating away.
type RedisSnapshots struct {
	client *redis.Client
}

// NewRedisSnapshots creates a SnapshotStore over the given redis client.
func NewRedisSnapshots(client *redis.Client) *RedisSnapshots {
	return &RedisSnapshots{client: client}
}

func snapshotKey(studentID, noteID string) string {
	return fmt.Sprintf("transcript_tasks_%s_%s", studentID, noteID)
}

func (r *RedisSnapshots) Load(ctx context.Context, studentID, noteID string) ([]domain.Proposal, bool, error) {
	data, err := r.client.Get(ctx, snapshotKey(studentID, noteID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var proposals []domain.Proposal
	if err := json.Unmarshal(data, &proposals); err != nil {
		// A corrupt snapshot is unrecoverable; drop it so the workflow can
		// fall back to reprocessing instead of being stuck.
		_ = r.client.Del(ctx, snapshotKey(studentID, noteID)).Err()
		return nil, false, nil
	}
	return proposals, true, nil
}

func (r *RedisSnapshots) Save(ctx context.Context, studentID, noteID string, proposals []domain.Proposal) error {
	data, err := json.Marshal(proposals)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, snapshotKey(studentID, noteID), data, 0).Err()
}

func (r *RedisSnapshots) Clear(ctx context.Context, studentID, noteID string) error {
	return r.client.Del(ctx, snapshotKey(studentID, noteID)).Err()
}
