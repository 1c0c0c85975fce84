package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// CreateRoom registers a new room and adds the creator as its first member.
func (s *Store) CreateRoom(ctx context.Context, name, createdBy string) (Room, error) {
	room := Room{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: s.serverNow(ctx),
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, roomKey(room.ID), map[string]any{
		"name":       room.Name,
		"created_by": room.CreatedBy,
		"created_at": room.CreatedAt.Format(time.RFC3339Nano),
	})
	pipe.SAdd(ctx, roomsKey, room.ID)
	pipe.SAdd(ctx, membersKey(room.ID), createdBy)
	if _, err := pipe.Exec(ctx); err != nil {
		return Room{}, fmt.Errorf("create room: %w", err)
	}

	s.publish(ctx, Event{Type: EventRoomCreated, RoomID: room.ID, MemberID: createdBy})
	return room, nil
}

// GetRoom loads room metadata. Returns ErrNotFound for unknown ids.
func (s *Store) GetRoom(ctx context.Context, roomID string) (Room, error) {
	fields, err := s.client.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return Room{}, fmt.Errorf("get room %s: %w", roomID, err)
	}
	if len(fields) == 0 {
		return Room{}, ErrNotFound
	}

	room := Room{
		ID:        roomID,
		Name:      fields["name"],
		CreatedBy: fields["created_by"],
	}
	if raw := fields["created_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			room.CreatedAt = t
		}
	}
	return room, nil
}

// AddMember records membership. Set union, so concurrent joins never conflict.
func (s *Store) AddMember(ctx context.Context, roomID, memberID string) error {
	if err := s.client.SAdd(ctx, membersKey(roomID), memberID).Err(); err != nil {
		return fmt.Errorf("add member %s to %s: %w", memberID, roomID, err)
	}
	s.publish(ctx, Event{Type: EventMemberJoined, RoomID: roomID, MemberID: memberID})
	return nil
}

// Members lists the room's member ids.
func (s *Store) Members(ctx context.Context, roomID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, membersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", roomID, err)
	}
	return members, nil
}

// Rooms lists every registered room id. Used by the retention sweeps.
func (s *Store) Rooms(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return ids, nil
}
