// Package store implements the shared room document on Redis. Every room is a
// handful of keys mutated only through commutative operations (hash upserts,
// list appends, sorted-set inserts) plus one conditional update for the
// queue-pop, so independent clients converge without locks.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key patterns:
// rooms                    SET<room_id>     - registry of known rooms
// room:{id}                HASH             - name, created_by, created_at
// room:{id}:members        SET<member_id>
// room:{id}:current        STRING<json Item>
// room:{id}:queue          LIST<json Item>  - head is next up
// room:{id}:history        LIST<json Item>  - most recent last, trimmed to 10
// room:{id}:presence       HASH<member_id -> json PresenceEntry>
// room:{id}:chat           ZSET<json ChatMessage> scored by unix-ms
// room:{id}:events         pubsub channel for change notifications

// HistoryLimit bounds room:{id}:history; oldest entries are trimmed first.
const HistoryLimit = 10

// DefaultLivenessWindow is the staleness threshold past which a presence
// entry is treated as offline.
const DefaultLivenessWindow = 30 * time.Second

type Store struct {
	client *redis.Client
}

// Open connects to Redis and verifies the connection.
func Open(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func roomKey(roomID string) string {
	return "room:" + roomID
}

func membersKey(roomID string) string {
	return "room:" + roomID + ":members"
}

func currentKey(roomID string) string {
	return "room:" + roomID + ":current"
}

func queueKey(roomID string) string {
	return "room:" + roomID + ":queue"
}

func historyKey(roomID string) string {
	return "room:" + roomID + ":history"
}

func presenceKey(roomID string) string {
	return "room:" + roomID + ":presence"
}

func chatKey(roomID string) string {
	return "room:" + roomID + ":chat"
}

func eventsChannel(roomID string) string {
	return "room:" + roomID + ":events"
}

const roomsKey = "rooms"

// serverNow returns the store's clock. Timestamps for chat ordering and
// presence staleness must never come from client machines.
func (s *Store) serverNow(ctx context.Context) time.Time {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}
