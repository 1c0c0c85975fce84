package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAppendMessageAssignsIDAndTimestamp(t *testing.T) {
	st, s := setupTestStore(t)
	defer st.Close()
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetTime(base)

	msg, err := st.AppendMessage(ctx, "room-1", "user-1", "Mika", "  hello there  ")
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if msg.ID == "" {
		t.Error("expected a message id")
	}
	if msg.Text != "hello there" {
		t.Errorf("expected trimmed text, got %q", msg.Text)
	}
	if !msg.CreatedAt.Equal(base) {
		t.Errorf("expected store-clock timestamp %v, got %v", base, msg.CreatedAt)
	}
}

func TestAppendMessageRejectsEmptyText(t *testing.T) {
	st, s := setupTestStore(t)
	defer st.Close()
	defer s.Close()

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := st.AppendMessage(context.Background(), "room-1", "user-1", "Mika", text)
		if !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("text %q: expected ErrEmptyMessage, got %v", text, err)
		}
	}
}

func TestMessagesOrderedWithSequenceTieBreak(t *testing.T) {
	st, s := setupTestStore(t)
	defer st.Close()
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Coarse clock: three messages share one timestamp, then one arrives later.
	s.SetTime(base)
	for _, text := range []string{"first", "second", "third"} {
		if _, err := st.AppendMessage(ctx, "room-1", "user-1", "Mika", text); err != nil {
			t.Fatalf("AppendMessage %q failed: %v", text, err)
		}
	}
	s.SetTime(base.Add(time.Second))
	if _, err := st.AppendMessage(ctx, "room-1", "user-2", "Noor", "fourth"); err != nil {
		t.Fatalf("AppendMessage fourth failed: %v", err)
	}

	messages, err := st.Messages(ctx, "room-1")
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	want := []string{"first", "second", "third", "fourth"}
	if len(messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(messages))
	}
	for i, text := range want {
		if messages[i].Text != text {
			t.Errorf("position %d: expected %q, got %q", i, text, messages[i].Text)
		}
	}
}

func TestSweepMessagesRemovesOnlyExpired(t *testing.T) {
	st, s := setupTestStore(t)
	defer st.Close()
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.SetTime(base)
	if _, err := st.AppendMessage(ctx, "room-1", "user-1", "Mika", "old news"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	s.SetTime(base.Add(2 * time.Hour))
	if _, err := st.AppendMessage(ctx, "room-1", "user-2", "Noor", "fresh"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	removed, err := st.SweepMessages(ctx, "room-1", time.Hour)
	if err != nil {
		t.Fatalf("SweepMessages failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed message, got %d", removed)
	}

	messages, err := st.Messages(ctx, "room-1")
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Text != "fresh" {
		t.Errorf("expected only the fresh message to survive, got %v", messages)
	}
}

func TestSweepAllMessagesCoversEveryRoom(t *testing.T) {
	st, s := setupTestStore(t)
	defer st.Close()
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetTime(base)

	roomA, err := st.CreateRoom(ctx, "a", "user-1")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	roomB, err := st.CreateRoom(ctx, "b", "user-2")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	if _, err := st.AppendMessage(ctx, roomA.ID, "user-1", "Mika", "in a"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if _, err := st.AppendMessage(ctx, roomB.ID, "user-2", "Noor", "in b"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	s.SetTime(base.Add(2 * time.Hour))
	total, err := st.SweepAllMessages(ctx, time.Hour)
	if err != nil {
		t.Fatalf("SweepAllMessages failed: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 swept messages across rooms, got %d", total)
	}
}
