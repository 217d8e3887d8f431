// Package redisstore persists chat messages in Redis, one sorted set per room.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/gochat/internal/chat"
)

// DefaultPrefix namespaces the keys written by the store.
const DefaultPrefix = "gochat:"

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Addr:   "localhost:6379",
		Prefix: DefaultPrefix,
	}
}

// Store is a chat.MessageStore backed by one sorted set per room. Entries are
// scored by the message's own CreatedAt in microseconds, so ordering and
// since filtering never depend on the Redis server clock.
type Store struct {
	client *redis.Client
	prefix string
}

var _ chat.MessageStore = (*Store)(nil)

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return New(client, cfg.Prefix), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) roomKey(room string) string {
	return s.prefix + "room:" + room
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// Append adds msg to its room's set. The payload carries the message ID, so
// members never collide.
func (s *Store) Append(ctx context.Context, msg chat.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	err = s.client.ZAdd(ctx, s.roomKey(msg.Room), redis.Z{
		Score:  score(msg.CreatedAt),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// QueryRoom reads the room's set. Scores carry only microsecond precision,
// so the range starts inclusively at since and is filtered exactly.
func (s *Store) QueryRoom(ctx context.Context, room string, since *time.Time) ([]chat.Message, error) {
	lower := "-inf"
	if since != nil {
		lower = strconv.FormatInt(since.UnixMicro(), 10)
	}

	members, err := s.client.ZRangeByScore(ctx, s.roomKey(room), &redis.ZRangeBy{
		Min: lower,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	messages := make([]chat.Message, 0, len(members))
	for _, raw := range members {
		var msg chat.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		if since != nil && !msg.CreatedAt.After(*since) {
			continue
		}
		messages = append(messages, msg)
	}
	// Equal scores come back in member order.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
