package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// Heartbeat upserts the member's presence entry with a fresh store-clock
// timestamp. Last-writer-wins per (room, member), so concurrent heartbeats
// from the same member never conflict.
func (s *Store) Heartbeat(ctx context.Context, roomID, memberID, displayName string) (PresenceEntry, error) {
	if displayName == "" {
		displayName = "Anonymous"
	}
	entry := PresenceEntry{
		MemberID:    memberID,
		Status:      StatusOnline,
		DisplayName: displayName,
		LastUpdated: s.serverNow(ctx),
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return PresenceEntry{}, fmt.Errorf("marshal presence entry: %w", err)
	}
	if err := s.client.HSet(ctx, presenceKey(roomID), memberID, payload).Err(); err != nil {
		return PresenceEntry{}, fmt.Errorf("heartbeat %s in %s: %w", memberID, roomID, err)
	}

	s.publish(ctx, Event{Type: EventPresenceHeartbeat, RoomID: roomID, MemberID: memberID})
	return entry, nil
}

// Observe returns the best-known presence snapshot for a room, evicting
// entries whose last heartbeat is older than window first. Staleness is
// authoritative over the stored status field: an entry that stopped beating
// is gone regardless of what it claims.
func (s *Store) Observe(ctx context.Context, roomID string, window time.Duration) (map[string]PresenceEntry, error) {
	if window <= 0 {
		window = DefaultLivenessWindow
	}

	fields, err := s.client.HGetAll(ctx, presenceKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("observe presence in %s: %w", roomID, err)
	}

	now := s.serverNow(ctx)
	snapshot := make(map[string]PresenceEntry, len(fields))
	var stale []string

	for memberID, raw := range fields {
		var entry PresenceEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			log.Printf("store: bad presence entry for %s in %s, evicting: %v", memberID, roomID, err)
			stale = append(stale, memberID)
			continue
		}
		if now.Sub(entry.LastUpdated) > window {
			stale = append(stale, memberID)
			continue
		}
		snapshot[memberID] = entry
	}

	if len(stale) > 0 {
		if err := s.client.HDel(ctx, presenceKey(roomID), stale...).Err(); err != nil {
			// Eviction is opportunistic; the next observe retries.
			log.Printf("store: evict %d stale presence entries in %s: %v", len(stale), roomID, err)
		}
	}

	return snapshot, nil
}

// Leave deletes the member's presence entry unconditionally. This is the
// advisory fast path for explicit departures; if it never arrives, TTL
// eviction in Observe is the source of truth.
func (s *Store) Leave(ctx context.Context, roomID, memberID string) error {
	if err := s.client.HDel(ctx, presenceKey(roomID), memberID).Err(); err != nil {
		return fmt.Errorf("leave %s in %s: %w", memberID, roomID, err)
	}
	s.publish(ctx, Event{Type: EventPresenceLeave, RoomID: roomID, MemberID: memberID})
	return nil
}

// ReapPresence evicts stale entries across every registered room, so rooms
// with no active observers still shed dead entries.
func (s *Store) ReapPresence(ctx context.Context, window time.Duration) error {
	rooms, err := s.Rooms(ctx)
	if err != nil {
		return err
	}
	for _, roomID := range rooms {
		if _, err := s.Observe(ctx, roomID, window); err != nil {
			log.Printf("store: reap presence in %s: %v", roomID, err)
		}
	}
	return nil
}
