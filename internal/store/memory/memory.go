package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vovakirdan/wiresync/internal/chat"
	"github.com/vovakirdan/wiresync/internal/store"
)

// Store is a goroutine-safe in-memory implementation of store.Store.
type Store struct {
	mu       sync.RWMutex
	messages map[string]chat.Message
	rooms    map[string]*store.Room
	now      func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		messages: make(map[string]chat.Message),
		rooms:    make(map[string]*store.Room),
		now:      time.Now,
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ==== RoomStore implementation ====

func (s *Store) SaveRoom(_ context.Context, room *store.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *room
	cp.Participants = slices.Clone(room.Participants)
	now := s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.rooms[cp.ID] = &cp
	return nil
}

func (s *Store) GetRoom(_ context.Context, id string) (*store.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *room
	cp.Participants = slices.Clone(room.Participants)
	return &cp, nil
}

func (s *Store) ListRooms(_ context.Context) ([]*store.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		cp := *room
		cp.Participants = slices.Clone(room.Participants)
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *store.Room) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// ==== MessageStore implementation ====

func (s *Store) SaveMessage(_ context.Context, msg *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[msg.ID] = msg.Clone()
	s.touchRoom(msg.RoomID, msg.Text, msg.Timestamp)
	return nil
}

func (s *Store) ConfirmDelivery(_ context.Context, tempID, messageID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending *chat.Message
	for id, m := range s.messages {
		if m.TempID == tempID {
			cp := m
			pending = &cp
			delete(s.messages, id)
			break
		}
	}

	if existing, ok := s.messages[messageID]; ok {
		existing.TempID = ""
		existing.Delivered = true
		s.messages[messageID] = existing
		return nil
	}
	if pending == nil {
		return store.ErrNotFound
	}

	pending.ID = messageID
	pending.TempID = ""
	pending.Delivered = true
	if !ts.IsZero() {
		pending.Timestamp = ts
	}
	s.messages[messageID] = *pending
	return nil
}

func (s *Store) ListMessages(_ context.Context, roomID string, limit, offset int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.roomMessages(roomID)
	// newest first for paging
	slices.Reverse(all)
	if offset >= len(all) || limit <= 0 {
		return []chat.Message{}, nil
	}
	end := min(offset+limit, len(all))
	page := slices.Clone(all[offset:end])
	slices.Reverse(page)
	return page, nil
}

func (s *Store) CountMessages(_ context.Context, roomID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.messages {
		if m.RoomID == roomID {
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkRead(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			m.Read = true
			s.messages[id] = m
		}
	}
	return nil
}

func (s *Store) roomMessages(roomID string) []chat.Message {
	out := make([]chat.Message, 0)
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m.Clone())
		}
	}
	slices.SortStableFunc(out, func(a, b chat.Message) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (s *Store) touchRoom(roomID, text string, at time.Time) {
	room, ok := s.rooms[roomID]
	if !ok {
		now := s.now()
		room = &store.Room{ID: roomID, Name: roomID, CreatedAt: now}
		s.rooms[roomID] = room
	}
	if at.Before(room.LastMessageTime) {
		return
	}
	room.LastMessage = text
	room.LastMessageTime = at
	room.UpdatedAt = s.now()
}
