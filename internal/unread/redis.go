package unread

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// MarkerPrefix is the Redis key prefix for all read-marker keys.
const MarkerPrefix = "readmarker:"

// RedisStore is a MarkerStore backed by Redis. Markers carry no TTL — they
// live until the channel is deleted.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// ConnectRedisStore dials Redis at addr, verifies the connection, and
// returns a ready store.
func ConnectRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unread: redis connection failed: %w", err)
	}

	return NewRedisStore(client), nil
}

// Get implements MarkerStore. A missing key is not an error; it reports an
// empty marker.
func (s *RedisStore) Get(ctx context.Context, channelID string) (string, error) {
	id, err := s.client.Get(ctx, MarkerPrefix+channelID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("unread: redis get marker: %w", err)
	}
	return id, nil
}

// Set implements MarkerStore.
func (s *RedisStore) Set(ctx context.Context, channelID, messageID string) error {
	if err := s.client.Set(ctx, MarkerPrefix+channelID, messageID, 0).Err(); err != nil {
		return fmt.Errorf("unread: redis set marker: %w", err)
	}
	return nil
}

// Delete implements MarkerStore.
func (s *RedisStore) Delete(ctx context.Context, channelID string) error {
	if err := s.client.Del(ctx, MarkerPrefix+channelID).Err(); err != nil {
		return fmt.Errorf("unread: redis delete marker: %w", err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
