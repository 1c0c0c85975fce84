package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidMediaURL rejects items that don't reference a recognized media
// source. Validation failure, never retried.
var ErrInvalidMediaURL = errors.New("unsupported media source url")

// errLostRace aborts an advance whose completion signal is for an item the
// room has already moved past.
var errLostRace = errors.New("advance lost race")

// SetNow sets the room's current item and appends it to the bounded history.
func (s *Store) SetNow(ctx context.Context, roomID string, item Item) (Item, error) {
	if !IsMediaURL(item.URL) {
		return Item{}, ErrInvalidMediaURL
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = s.serverNow(ctx)
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return Item{}, fmt.Errorf("marshal item: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, currentKey(roomID), payload, 0)
	pipe.RPush(ctx, historyKey(roomID), payload)
	pipe.LTrim(ctx, historyKey(roomID), -HistoryLimit, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return Item{}, fmt.Errorf("set now in %s: %w", roomID, err)
	}

	s.publish(ctx, Event{Type: EventPlayerNow, RoomID: roomID, MemberID: item.AddedBy})
	return item, nil
}

// Enqueue appends an item to the tail of the room's queue. Duplicates are
// allowed; a member may intentionally replay a track.
func (s *Store) Enqueue(ctx context.Context, roomID string, item Item) (Item, error) {
	if !IsMediaURL(item.URL) {
		return Item{}, ErrInvalidMediaURL
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = s.serverNow(ctx)
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return Item{}, fmt.Errorf("marshal item: %w", err)
	}

	if err := s.client.RPush(ctx, queueKey(roomID), payload).Err(); err != nil {
		return Item{}, fmt.Errorf("enqueue in %s: %w", roomID, err)
	}

	s.publish(ctx, Event{Type: EventPlayerEnqueued, RoomID: roomID, MemberID: item.AddedBy})
	return item, nil
}

// Player returns the playback snapshot for a room.
func (s *Store) Player(ctx context.Context, roomID string) (PlayerState, error) {
	pipe := s.client.Pipeline()
	curCmd := pipe.Get(ctx, currentKey(roomID))
	queueCmd := pipe.LRange(ctx, queueKey(roomID), 0, -1)
	historyCmd := pipe.LRange(ctx, historyKey(roomID), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return PlayerState{}, fmt.Errorf("player state of %s: %w", roomID, err)
	}

	state := PlayerState{Queue: []Item{}, History: []Item{}}

	if raw, err := curCmd.Result(); err == nil {
		var item Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return PlayerState{}, fmt.Errorf("decode current item of %s: %w", roomID, err)
		}
		state.CurrentItem = &item
	} else if !errors.Is(err, redis.Nil) {
		return PlayerState{}, fmt.Errorf("current item of %s: %w", roomID, err)
	}

	var err error
	if state.Queue, err = decodeItems(queueCmd.Val()); err != nil {
		return PlayerState{}, fmt.Errorf("decode queue of %s: %w", roomID, err)
	}
	if state.History, err = decodeItems(historyCmd.Val()); err != nil {
		return PlayerState{}, fmt.Errorf("decode history of %s: %w", roomID, err)
	}
	return state, nil
}

// Advance reacts to a completion signal: it pops the queue head and promotes
// it to the current item, or drops the room to idle when the queue is empty.
//
// Completion signals arrive independently from every subscribed client, so
// the pop is a conditional update: the transaction aborts if the queue (or
// current item) changed between read and write, guaranteeing at most one
// consumed head per race. finishedURL, when non-empty, is the URL the caller
// saw finish; if the room has already moved on the call is a no-op.
//
// The returned bool reports whether this call won the update.
func (s *Store) Advance(ctx context.Context, roomID, finishedURL string) (PlayerState, bool, error) {
	var (
		promoted *Item
		wentIdle bool
		seenHead string
	)

	attempt := func() error {
		promoted = nil
		wentIdle = false
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			// The completion guard runs inside the watched transaction:
			// if another client advances between this read and EXEC, the
			// watch on the current-item key aborts the commit.
			if finishedURL != "" {
				raw, err := tx.Get(ctx, currentKey(roomID)).Result()
				if err != nil && !errors.Is(err, redis.Nil) {
					return fmt.Errorf("current item of %s: %w", roomID, err)
				}
				var cur Item
				if err == nil {
					if err := json.Unmarshal([]byte(raw), &cur); err != nil {
						return fmt.Errorf("decode current item of %s: %w", roomID, err)
					}
				}
				if cur.URL != finishedURL {
					return errLostRace
				}
			}

			head, err := tx.LIndex(ctx, queueKey(roomID), 0).Result()
			if errors.Is(err, redis.Nil) {
				seenHead = ""
				var delCmd *redis.IntCmd
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					delCmd = pipe.Del(ctx, currentKey(roomID))
					return nil
				})
				if err != nil {
					return err
				}
				wentIdle = delCmd.Val() > 0
				return nil
			}
			if err != nil {
				return fmt.Errorf("queue head of %s: %w", roomID, err)
			}
			seenHead = head

			var item Item
			if err := json.Unmarshal([]byte(head), &item); err != nil {
				return fmt.Errorf("decode queue head of %s: %w", roomID, err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LPop(ctx, queueKey(roomID))
				pipe.Set(ctx, currentKey(roomID), head, 0)
				pipe.RPush(ctx, historyKey(roomID), head)
				pipe.LTrim(ctx, historyKey(roomID), -HistoryLimit, -1)
				return nil
			})
			if err != nil {
				return err
			}
			promoted = &item
			return nil
		}, queueKey(roomID), currentKey(roomID))
	}

	err := attempt()
	if errors.Is(err, redis.TxFailedErr) {
		// A concurrent write aborted the transaction. If the head we saw is
		// gone, another client won the pop and our attempt must be dropped.
		// Otherwise the conflict came from an unrelated write (a tail
		// enqueue, say) and a single retry is safe; the retry re-runs the
		// completion guard against the fresh state.
		head, lerr := s.client.LIndex(ctx, queueKey(roomID), 0).Result()
		if lerr == nil && seenHead != "" && head == seenHead {
			err = attempt()
		}
	}
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) || errors.Is(err, errLostRace) {
			// Expected consequence of multi-writer concurrency, never an
			// error for the caller.
			state, perr := s.Player(ctx, roomID)
			return state, false, perr
		}
		return PlayerState{}, false, fmt.Errorf("advance %s: %w", roomID, err)
	}

	switch {
	case promoted != nil:
		s.publish(ctx, Event{Type: EventPlayerAdvanced, RoomID: roomID})
	case wentIdle:
		s.publish(ctx, Event{Type: EventPlayerIdle, RoomID: roomID})
	}

	state, perr := s.Player(ctx, roomID)
	return state, promoted != nil, perr
}

func decodeItems(raw []string) ([]Item, error) {
	items := make([]Item, 0, len(raw))
	for _, entry := range raw {
		var item Item
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
