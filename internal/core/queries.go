package core

import (
	"context"
	"slices"

	"github.com/vovakirdan/wiresync/internal/chat"
)

// query runs fn on the hub goroutine and waits for it.
func (h *Hub) query(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		fn()
		close(finished)
	}
	select {
	case h.queries <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ChatRooms lists live chat rooms plus archived ones, sorted.
func (h *Hub) ChatRooms(ctx context.Context) ([]string, error) {
	var live []string
	if err := h.query(ctx, func() {
		live = make([]string, 0, len(h.chatRooms))
		for id := range h.chatRooms {
			live = append(live, id)
		}
	}); err != nil {
		return nil, err
	}

	ids := live
	if h.store != nil {
		archived, err := h.store.ListRooms(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range archived {
			ids = append(ids, r.ID)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// RoomMessages returns one page of a room's messages, most recent first, and whether older
// messages exist. The archive is preferred when configured since it outlives the in-memory log.
func (h *Hub) RoomMessages(ctx context.Context, roomID string, limit, offset int) ([]chat.Message, bool, error) {
	if h.store != nil {
		page, err := h.store.ListMessages(ctx, roomID, limit, offset)
		if err != nil {
			return nil, false, err
		}
		total, err := h.store.CountMessages(ctx, roomID)
		if err != nil {
			return nil, false, err
		}
		slices.Reverse(page)
		return page, offset+limit < total, nil
	}

	var (
		page    []chat.Message
		hasMore bool
		found   bool
	)
	if err := h.query(ctx, func() {
		room, ok := h.chatRooms[roomID]
		if !ok {
			return
		}
		found = true
		page, hasMore = room.page(limit, offset)
	}); err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, ErrRoomNotFound
	}
	return page, hasMore, nil
}
