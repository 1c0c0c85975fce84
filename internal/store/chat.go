package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// ErrEmptyMessage rejects messages that are empty after trimming.
var ErrEmptyMessage = errors.New("message text cannot be empty")

// Message ids are monotonic ULIDs: time-ordered, and within one process the
// entropy counter breaks ties for messages minted in the same millisecond.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newMessageID(ts time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), entropy).String()
}

// AppendMessage writes a chat message with a store-assigned timestamp and id
// and returns it. Messages are immutable once written; only the retention
// sweep removes them.
func (s *Store) AppendMessage(ctx context.Context, roomID, senderID, senderName, text string) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	if senderName == "" {
		senderName = "Anonymous"
	}

	now := s.serverNow(ctx)
	msg := ChatMessage{
		ID:         newMessageID(now),
		Text:       text,
		SenderID:   senderID,
		SenderName: senderName,
		CreatedAt:  now,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("marshal message: %w", err)
	}

	member := redis.Z{Score: float64(now.UnixMilli()), Member: string(payload)}
	if err := s.client.ZAdd(ctx, chatKey(roomID), member).Err(); err != nil {
		return ChatMessage{}, fmt.Errorf("append message in %s: %w", roomID, err)
	}

	s.publish(ctx, Event{Type: EventChatMessage, RoomID: roomID, MemberID: senderID, MessageID: msg.ID})
	return msg, nil
}

// Messages returns the room's messages ascending by timestamp, ties broken
// by append sequence (the ULID).
func (s *Store) Messages(ctx context.Context, roomID string) ([]ChatMessage, error) {
	raw, err := s.client.ZRange(ctx, chatKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("messages in %s: %w", roomID, err)
	}

	messages := make([]ChatMessage, 0, len(raw))
	for _, entry := range raw {
		var msg ChatMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			return nil, fmt.Errorf("decode message in %s: %w", roomID, err)
		}
		messages = append(messages, msg)
	}

	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// SweepMessages batch-deletes messages older than maxAge and reports how
// many were removed.
func (s *Store) SweepMessages(ctx context.Context, roomID string, maxAge time.Duration) (int64, error) {
	cutoff := s.serverNow(ctx).Add(-maxAge).UnixMilli()
	removed, err := s.client.ZRemRangeByScore(ctx, chatKey(roomID), "-inf", "("+strconv.FormatInt(cutoff, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("sweep messages in %s: %w", roomID, err)
	}
	if removed > 0 {
		s.publish(ctx, Event{Type: EventChatSwept, RoomID: roomID})
	}
	return removed, nil
}

// SweepAllMessages runs the retention sweep over every registered room. It
// runs whether or not anyone is viewing a room, so idle rooms still bound
// their storage. Per-room failures are logged; the next cycle retries.
func (s *Store) SweepAllMessages(ctx context.Context, maxAge time.Duration) (int64, error) {
	rooms, err := s.Rooms(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, roomID := range rooms {
		removed, err := s.SweepMessages(ctx, roomID, maxAge)
		if err != nil {
			log.Printf("store: sweep messages in %s: %v", roomID, err)
			continue
		}
		total += removed
	}
	return total, nil
}
