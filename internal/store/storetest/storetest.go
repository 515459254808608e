// Package storetest holds behaviour tests shared by every store.Store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/wiresync/internal/chat"
	"github.com/vovakirdan/wiresync/internal/store"
)

// Run exercises s against the store.Store contract.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("SaveAndListPages", func(t *testing.T) { testSaveAndListPages(t, newStore(t)) })
	t.Run("SaveMessageUpserts", func(t *testing.T) { testUpsert(t, newStore(t)) })
	t.Run("ConfirmDelivery", func(t *testing.T) { testConfirmDelivery(t, newStore(t)) })
	t.Run("ConfirmDeliveryAfterConfirmedCopy", func(t *testing.T) { testConfirmAfterCopy(t, newStore(t)) })
	t.Run("MarkRead", func(t *testing.T) { testMarkRead(t, newStore(t)) })
	t.Run("Rooms", func(t *testing.T) { testRooms(t, newStore(t)) })
}

var base = time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

func msg(id, room string, offset int) *chat.Message {
	return &chat.Message{
		ID:        id,
		RoomID:    room,
		UserID:    "u1",
		UserName:  "alice",
		Text:      "text " + id,
		Timestamp: base.Add(time.Duration(offset) * time.Second),
		Delivered: true,
		Type:      chat.TypeText,
	}
}

func testSaveAndListPages(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		if err := s.SaveMessage(ctx, msg(id, "general", i)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := s.SaveMessage(ctx, msg("x1", "other", 0)); err != nil {
		t.Fatalf("save: %v", err)
	}

	newest, err := s.ListMessages(ctx, "general", 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if ids(newest) != "m4,m5" {
		t.Fatalf("unexpected newest page: %s", ids(newest))
	}

	older, err := s.ListMessages(ctx, "general", 2, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if ids(older) != "m2,m3" {
		t.Fatalf("unexpected older page: %s", ids(older))
	}

	tail, err := s.ListMessages(ctx, "general", 2, 4)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if ids(tail) != "m1" {
		t.Fatalf("unexpected last page: %s", ids(tail))
	}

	n, err := s.CountMessages(ctx, "general")
	if err != nil || n != 5 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func testUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	m := msg("m1", "general", 0)
	if err := s.SaveMessage(ctx, m); err != nil {
		t.Fatalf("save: %v", err)
	}
	m.Text = "edited"
	m.Reactions = map[string][]string{"👍": {"u2"}}
	if err := s.SaveMessage(ctx, m); err != nil {
		t.Fatalf("save: %v", err)
	}

	list, err := s.ListMessages(ctx, "general", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Text != "edited" || len(list[0].Reactions["👍"]) != 1 {
		t.Fatalf("unexpected messages after upsert: %+v", list)
	}
}

func testConfirmDelivery(t *testing.T, s store.Store) {
	ctx := context.Background()
	pending := msg("tmp-1", "general", 0)
	pending.TempID = "tmp-1"
	pending.Delivered = false
	if err := s.SaveMessage(ctx, pending); err != nil {
		t.Fatalf("save: %v", err)
	}

	confirmedAt := base.Add(time.Minute)
	if err := s.ConfirmDelivery(ctx, "tmp-1", "msg_1", confirmedAt); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	list, err := s.ListMessages(ctx, "general", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 message, got %+v", list)
	}
	got := list[0]
	if got.ID != "msg_1" || got.TempID != "" || !got.Delivered || !got.Timestamp.Equal(confirmedAt) {
		t.Fatalf("unexpected confirmed message: %+v", got)
	}

	if err := s.ConfirmDelivery(ctx, "tmp-unknown", "msg_9", base); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testConfirmAfterCopy(t *testing.T, s store.Store) {
	ctx := context.Background()
	pending := msg("tmp-1", "general", 0)
	pending.TempID = "tmp-1"
	pending.Delivered = false
	if err := s.SaveMessage(ctx, pending); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveMessage(ctx, msg("msg_1", "general", 1)); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.ConfirmDelivery(ctx, "tmp-1", "msg_1", base); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	list, err := s.ListMessages(ctx, "general", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if ids(list) != "msg_1" {
		t.Fatalf("expected one record, got %s", ids(list))
	}
}

func testMarkRead(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i, id := range []string{"m1", "m2"} {
		if err := s.SaveMessage(ctx, msg(id, "general", i)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := s.MarkRead(ctx, []string{"m2", "missing"}); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	list, err := s.ListMessages(ctx, "general", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list[0].Read || !list[1].Read {
		t.Fatalf("unexpected read flags: %+v", list)
	}
}

func testRooms(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.GetRoom(ctx, "general"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	room := &store.Room{ID: "general", Name: "General", Participants: []string{"u1"}}
	if err := s.SaveRoom(ctx, room); err != nil {
		t.Fatalf("save room: %v", err)
	}
	if err := s.SaveMessage(ctx, msg("m1", "general", 0)); err != nil {
		t.Fatalf("save message: %v", err)
	}

	got, err := s.GetRoom(ctx, "general")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if got.Name != "General" || got.LastMessage != "text m1" || len(got.Participants) != 1 {
		t.Fatalf("unexpected room: %+v", got)
	}

	// Saving a message into an unknown room creates it.
	if err := s.SaveMessage(ctx, msg("x1", "random", 0)); err != nil {
		t.Fatalf("save message: %v", err)
	}
	rooms, err := s.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
}

func ids(list []chat.Message) string {
	out := ""
	for i, m := range list {
		if i > 0 {
			out += ","
		}
		out += m.ID
	}
	return out
}
