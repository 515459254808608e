package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/chat"
	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/proto"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// RoomHandlers serves read-only views of chat rooms.
type RoomHandlers struct {
	hub Hub
	log *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(hub Hub, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		hub: hub,
		log: logger,
	}
}

// ListRooms returns every known chat room id.
// GET /api/chat/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	rooms, err := h.hub.ChatRooms(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, proto.Error{Code: "internal", Msg: "failed to list rooms"})
		return
	}
	if rooms == nil {
		rooms = []string{}
	}
	c.JSON(http.StatusOK, proto.RoomsResponse{Rooms: rooms})
}

// ListMessages returns one page of a room's history.
// GET /api/chat/rooms/:roomId/messages?limit=50&offset=0
func (h *RoomHandlers) ListMessages(c *gin.Context) {
	roomID := c.Param("roomId")

	limit, ok := queryInt(c, "limit", defaultPageSize)
	if !ok || limit <= 0 {
		c.JSON(http.StatusBadRequest, proto.Error{Code: "bad_request", Msg: "limit must be a positive integer"})
		return
	}
	limit = min(limit, maxPageSize)

	offset, ok := queryInt(c, "offset", 0)
	if !ok || offset < 0 {
		c.JSON(http.StatusBadRequest, proto.Error{Code: "bad_request", Msg: "offset must be a non-negative integer"})
		return
	}

	msgs, hasMore, err := h.hub.RoomMessages(c.Request.Context(), roomID, limit, offset)
	if err != nil {
		if errors.Is(err, core.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, proto.Error{Code: core.ErrCodeRoomNotFound, Msg: "room not found"})
			return
		}
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, proto.Error{Code: "internal", Msg: "failed to list messages"})
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	c.JSON(http.StatusOK, proto.MessagesResponse{Messages: msgs, HasMore: hasMore})
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}
