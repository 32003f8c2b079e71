package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"signoffws/pkg/types"
)

// RedisStore reads sessions from Redis, for deployments where the HTTP
// tier keeps its session data there. The value at <prefix><session id> is
// the JSON-encoded user record.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects a store to the shared Redis instance.
func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: prefix,
	}
}

// Lookup implements Store.
func (s *RedisStore) Lookup(ctx context.Context, sessionID string) (*types.User, error) {
	raw, err := s.client.Get(ctx, s.prefix+sessionID).Result()
	if err == redis.Nil {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}

	var user types.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil || user.ID <= 0 {
		return nil, ErrNoSession
	}
	return &user, nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
