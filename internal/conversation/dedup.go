package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupPrefix = "seen:"

// Dedup suppresses reprocessing of channel message IDs across queue
// redeliveries. Acquire marks an ID as in flight and reports whether the
// caller won it; Release withdraws the marker so a failed turn can be
// retried. Seen peeks without claiming, for the webhook fast path.
type Dedup interface {
	Acquire(ctx context.Context, messageID string) (bool, error)
	Release(ctx context.Context, messageID string) error
	Seen(ctx context.Context, messageID string) (bool, error)
}

type redisDedup struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDedup creates a Dedup backed by Redis SETNX markers with the
// given retention.
func NewRedisDedup(client *redis.Client, ttl time.Duration) Dedup {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisDedup{client: client, ttl: ttl}
}

func (d *redisDedup) Acquire(ctx context.Context, messageID string) (bool, error) {
	won, err := d.client.SetNX(ctx, dedupPrefix+messageID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring dedup marker for %s: %w", messageID, err)
	}
	return won, nil
}

func (d *redisDedup) Release(ctx context.Context, messageID string) error {
	if err := d.client.Del(ctx, dedupPrefix+messageID).Err(); err != nil {
		return fmt.Errorf("releasing dedup marker for %s: %w", messageID, err)
	}
	return nil
}

func (d *redisDedup) Seen(ctx context.Context, messageID string) (bool, error) {
	n, err := d.client.Exists(ctx, dedupPrefix+messageID).Result()
	if err != nil {
		return false, fmt.Errorf("checking dedup marker for %s: %w", messageID, err)
	}
	return n > 0, nil
}
