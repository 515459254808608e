package core

import (
	"strings"
	"time"

	"github.com/vovakirdan/wiresync/internal/chat"
	"github.com/vovakirdan/wiresync/internal/proto"
	"github.com/vovakirdan/wiresync/internal/utils"
)

const maxMessageRunes = 4000

func userPresence(userID, userName string, at time.Time) proto.UserPresenceData {
	return proto.UserPresenceData{UserID: userID, UserName: userName, Timestamp: at}
}

func (h *Hub) handleUserJoin(c *Client, cmd *Command) {
	if cmd.UserID == "" {
		h.sendError(c, coreError(ErrCodeBadRequest, "user id is required"))
		return
	}
	if c.authUserID != "" && cmd.UserID != c.authUserID {
		h.sendError(c, coreError(ErrCodeUnauthorized, "user id does not match token"))
		return
	}
	c.userID = cmd.UserID
	c.userName = cmd.UserName
	if c.userName == "" {
		c.userName = cmd.UserID
	}

	h.send(c, &Event{Kind: EventUserJoined, Data: proto.UserJoinedData{
		Success: true,
		User:    chat.User{UserID: c.userID, UserName: c.userName, IsOnline: true, JoinedAt: h.now()},
	}})
	h.log.Info().Str("client_id", c.ID).Str("user_id", c.userID).Msg("user joined")
}

func (h *Hub) chatRoom(id string, create bool) *ChatRoom {
	room, ok := h.chatRooms[id]
	if !ok && create {
		room = newChatRoom(id, h.cfg.MaxMessages, h.now())
		h.chatRooms[id] = room
	}
	return room
}

func (h *Hub) handleJoinRoom(c *Client, cmd *Command) {
	if cmd.Room == "" {
		h.sendError(c, coreError(ErrCodeBadRequest, "room id is required"))
		return
	}
	userID, userName, err := h.identity(c, cmd)
	if err != nil {
		h.sendError(c, err)
		return
	}

	now := h.now()
	room := h.chatRoom(cmd.Room, true)
	room.join(c, userID, userName, now)

	h.send(c, &Event{Kind: EventRoomJoined, Room: room.ID, Data: proto.RoomJoinedData{
		RoomID:       room.ID,
		Messages:     room.recent(h.cfg.JoinHistory),
		Participants: room.participants(),
	}})
	h.broadcast(room.clients(c), &Event{Kind: EventUserJoinedRoom, Room: room.ID, Data: userPresence(userID, userName, now)})
	h.log.Debug().Str("room_id", room.ID).Str("user_id", userID).Msg("joined chat room")
}

func (h *Hub) handleLeaveRoom(c *Client, cmd *Command) {
	room := h.chatRoom(cmd.Room, false)
	if room == nil {
		h.sendError(c, coreError(ErrCodeRoomNotFound, "room not found"))
		return
	}
	userID, _, err := h.identity(c, cmd)
	if err != nil {
		h.sendError(c, err)
		return
	}

	now := h.now()
	u, ok := room.leave(userID, now)
	if !ok {
		h.sendError(c, coreError(ErrCodeNotInRoom, "not in room"))
		return
	}
	h.broadcast(room.clients(nil), &Event{Kind: EventUserLeftRoom, Room: room.ID, Data: userPresence(u.UserID, u.UserName, now)})
}

func (h *Hub) messageError(c *Client, code, msg, tempID string) {
	h.send(c, &Event{Kind: EventMessageError, Data: proto.ErrorData{Error: msg, Code: code, TempID: tempID}})
}

func (h *Hub) handleSendMessage(c *Client, cmd *Command) {
	tempID := cmd.Message.TempID
	room := h.chatRoom(cmd.Room, false)
	if room == nil {
		h.messageError(c, ErrCodeRoomNotFound, "room not found", tempID)
		return
	}
	if !room.hasClient(c) {
		h.messageError(c, ErrCodeNotInRoom, "not in room", tempID)
		return
	}
	userID, userName, err := h.identity(c, cmd)
	if err != nil {
		h.messageError(c, err.Code, err.Message, tempID)
		return
	}
	text := strings.TrimSpace(cmd.Message.Text)
	if text == "" || len([]rune(text)) > maxMessageRunes {
		h.messageError(c, ErrCodeInvalidMessage, "message text must be 1-4000 characters", tempID)
		return
	}

	msgType := cmd.Message.Type
	if msgType == "" {
		msgType = chat.TypeText
	}
	msg := chat.Message{
		ID:        utils.NewMessageID(),
		TempID:    tempID,
		RoomID:    room.ID,
		UserID:    userID,
		UserName:  userName,
		Text:      text,
		Timestamp: h.now(),
		Delivered: true,
		Type:      msgType,
	}
	room.append(msg)
	room.setTyping(userID, false)
	h.archive(msg)

	payload := msg.Clone()
	h.broadcast(room.clients(nil), &Event{Kind: EventNewMessage, Room: room.ID, Data: payload})
	h.send(c, &Event{Kind: EventMessageDelivered, Room: room.ID, Data: proto.MessageDeliveredData{
		TempID:    tempID,
		MessageID: msg.ID,
		Timestamp: msg.Timestamp,
	}})
	h.publish(room.ID, proto.EventNewMessage, payload)
}

func (h *Hub) handleTyping(c *Client, cmd *Command) {
	room := h.chatRoom(cmd.Room, false)
	if room == nil {
		return
	}
	if !room.hasClient(c) {
		h.sendError(c, coreError(ErrCodeNotInRoom, "not in room"))
		return
	}
	userID, userName, err := h.identity(c, cmd)
	if err != nil {
		h.sendError(c, err)
		return
	}
	room.setTyping(userID, cmd.Active)
	h.broadcast(room.clients(c), &Event{Kind: EventUserTyping, Room: room.ID, Data: chat.TypingUser{
		UserID:    userID,
		UserName:  userName,
		IsTyping:  cmd.Active,
		Timestamp: h.now(),
	}})
}

func (h *Hub) handleMarkRead(c *Client, cmd *Command) {
	room := h.chatRoom(cmd.Room, false)
	if room == nil || len(cmd.MessageIDs) == 0 {
		return
	}
	if !room.hasClient(c) {
		h.sendError(c, coreError(ErrCodeNotInRoom, "not in room"))
		return
	}
	userID, _, err := h.identity(c, cmd)
	if err != nil {
		h.sendError(c, err)
		return
	}
	room.markRead(cmd.MessageIDs, userID)
	if h.store != nil {
		if err := h.store.MarkRead(h.runCtx, cmd.MessageIDs); err != nil {
			h.log.Warn().Err(err).Str("room_id", room.ID).Msg("archive mark read failed")
		}
	}
	h.broadcast(room.clients(c), &Event{Kind: EventMessagesRead, Room: room.ID, Data: proto.MessagesReadData{
		MessageIDs: append([]string(nil), cmd.MessageIDs...),
		UserID:     userID,
		Timestamp:  h.now(),
	}})
}

func (h *Hub) handleToggleReaction(c *Client, cmd *Command) {
	room := h.chatRoom(cmd.Room, false)
	if room == nil {
		h.sendError(c, coreError(ErrCodeRoomNotFound, "room not found"))
		return
	}
	if cmd.MessageID == "" || cmd.Emoji == "" {
		h.sendError(c, coreError(ErrCodeBadRequest, "message id and emoji are required"))
		return
	}
	userID, _, err := h.identity(c, cmd)
	if err != nil {
		h.sendError(c, err)
		return
	}
	msg, ok := room.toggleReaction(cmd.MessageID, userID, cmd.Emoji)
	if !ok {
		h.sendError(c, coreError(ErrCodeBadRequest, "message not found"))
		return
	}
	h.archive(msg)
	h.broadcast(room.clients(nil), &Event{Kind: EventReaction, Room: room.ID, Data: msg})
}

func (h *Hub) handlePing(c *Client, cmd *Command) {
	h.send(c, &Event{Kind: EventPong, Data: proto.PongData{
		Timestamp:       cmd.PingTimestamp,
		ClientID:        cmd.PingClientID,
		ServerTimestamp: h.now().UnixMilli(),
	}})
}
