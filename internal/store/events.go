package store

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types published on a room's channel.
const (
	EventRoomCreated       = "room.created"
	EventMemberJoined      = "member.joined"
	EventPlayerNow         = "player.now"
	EventPlayerEnqueued    = "player.enqueued"
	EventPlayerAdvanced    = "player.advanced"
	EventPlayerIdle        = "player.idle"
	EventChatMessage       = "chat.message"
	EventChatSwept         = "chat.swept"
	EventPresenceHeartbeat = "presence.heartbeat"
	EventPresenceLeave     = "presence.leave"
)

// Event is a change notification for a room document. Delivery is
// at-least-once; consumers dedupe by MessageID where it is set and otherwise
// re-read the state the event points at.
type Event struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"roomId"`
	MemberID  string    `json:"memberId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	At        time.Time `json:"at"`
}

// publish is best-effort: a lost notification only delays subscribers until
// their next snapshot read.
func (s *Store) publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = s.serverNow(ctx)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("store: marshal event %s: %v", ev.Type, err)
		return
	}
	if err := s.client.Publish(ctx, eventsChannel(ev.RoomID), payload).Err(); err != nil {
		log.Printf("store: publish %s to %s: %v", ev.Type, ev.RoomID, err)
	}
}

// Subscription is a live view of one room's change feed. Close it to
// deregister the underlying pubsub subscription.
type Subscription struct {
	pubsub    *redis.PubSub
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// SubscribeRoom starts a live subscription to roomID's events. The returned
// subscription delivers until Close is called or ctx is canceled.
func (s *Store) SubscribeRoom(ctx context.Context, roomID string) *Subscription {
	pubsub := s.client.Subscribe(ctx, eventsChannel(roomID))

	// Wait for the subscription confirmation so callers never miss events
	// published immediately after SubscribeRoom returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("store: subscribe to %s: %v", roomID, err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.events)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("store: bad event payload on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case sub.events <- ev:
				case <-ctx.Done():
					return
				case <-sub.done:
					return
				}
			}
		}
	}()

	return sub
}

// Events returns the subscription's delivery channel. It is closed when the
// subscription ends.
func (sub *Subscription) Events() <-chan Event {
	return sub.events
}

// Close deregisters the subscription. Safe to call more than once.
func (sub *Subscription) Close() error {
	sub.closeOnce.Do(func() { close(sub.done) })
	return sub.pubsub.Close()
}
