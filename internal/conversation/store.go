package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"vozlab.mx/conversa/internal/model"
)

const keyPrefix = "conv:"

// Store loads and saves per-(brand,user) dialogue state. Load never fails on
// missing or corrupt state: both yield a fresh idle conversation, so a bad
// record can never wedge a user.
type Store interface {
	Load(ctx context.Context, brandKey, userID string) (*model.Conversation, error)
	Save(ctx context.Context, conv *model.Conversation) error
	Clear(ctx context.Context, brandKey, userID string) error
}

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Store backed by Redis. Conversations expire ttl
// after the last Save or Load, which is how idle state gets evicted.
func NewRedisStore(client *redis.Client, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisStore{client: client, ttl: ttl}
}

func (s *redisStore) Load(ctx context.Context, brandKey, userID string) (*model.Conversation, error) {
	key := storageKey(brandKey, userID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return model.NewConversation(brandKey, userID), nil
		}
		return nil, fmt.Errorf("loading conversation %s: %w", key, err)
	}

	// Refresh TTL on read so active conversations stay alive
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "failed to refresh conversation ttl", "key", key, "error", err)
	}

	return DecodeConversation(ctx, data, brandKey, userID), nil
}

func (s *redisStore) Save(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encoding conversation %s: %w", conv.Key(), err)
	}

	key := storageKey(conv.BrandKey, conv.UserID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving conversation %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Clear(ctx context.Context, brandKey, userID string) error {
	key := storageKey(brandKey, userID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clearing conversation %s: %w", key, err)
	}
	return nil
}

// DecodeConversation unmarshals persisted state. Malformed records are
// logged and replaced by a fresh idle conversation rather than failing the
// turn.
func DecodeConversation(ctx context.Context, data []byte, brandKey, userID string) *model.Conversation {
	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		slog.WarnContext(ctx, "corrupt conversation state, starting fresh",
			"brand_key", brandKey,
			"user_id", userID,
			"error", err)
		return model.NewConversation(brandKey, userID)
	}

	// Keys are authoritative; stored values could predate a rename
	conv.BrandKey = brandKey
	conv.UserID = userID
	if conv.Stage == "" {
		conv.Stage = model.StageIdle
	}
	return &conv
}

func storageKey(brandKey, userID string) string {
	return keyPrefix + brandKey + ":" + userID
}
