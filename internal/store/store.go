package store

import (
	"context"
	"errors"
	"time"

	"github.com/vovakirdan/wiresync/internal/chat"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Room is a chat room summary kept next to its messages.
type Room struct {
	ID              string
	Name            string
	Description     string
	LastMessage     string
	LastMessageTime time.Time
	UnreadCount     int
	Participants    []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RoomStore handles room persistence.
type RoomStore interface {
	// SaveRoom inserts or replaces a room. Zero CreatedAt is set to now.
	SaveRoom(ctx context.Context, room *Room) error

	// GetRoom retrieves a room by id. Returns ErrNotFound if missing.
	GetRoom(ctx context.Context, id string) (*Room, error)

	// ListRooms lists rooms, most recently active first.
	ListRooms(ctx context.Context) ([]*Room, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage inserts or replaces a message keyed by its id and bumps the room's last message.
	SaveMessage(ctx context.Context, msg *chat.Message) error

	// ConfirmDelivery rewrites the record stored under tempID to carry messageID,
	// marks it delivered and clears its temporary id.
	ConfirmDelivery(ctx context.Context, tempID, messageID string, ts time.Time) error

	// ListMessages returns one page of a room's messages in ascending timestamp order.
	// offset counts back from the newest message, so offset 0 is the most recent page.
	ListMessages(ctx context.Context, roomID string, limit, offset int) ([]chat.Message, error)

	// CountMessages returns the number of stored messages in a room.
	CountMessages(ctx context.Context, roomID string) (int, error)

	// MarkRead flags the given messages as read.
	MarkRead(ctx context.Context, ids []string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	RoomStore
	MessageStore

	// Close releases the underlying resources.
	Close() error
}
