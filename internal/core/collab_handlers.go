package core

import (
	"time"

	"github.com/vovakirdan/wiresync/internal/proto"
)

func (h *Hub) collabRoom(id string, create bool) *CollabRoom {
	room, ok := h.collabRooms[id]
	if !ok && create {
		room = NewCollabRoom(id, h.cfg.HistoryLimit, h.now())
		h.collabRooms[id] = room
	}
	return room
}

func (h *Hub) participantsEvent(room *CollabRoom) *Event {
	return &Event{Kind: EventParticipantsUpdated, Room: room.ID, Data: proto.ParticipantsData{Participants: room.Participants()}}
}

func (h *Hub) handleJoinCollabRoom(c *Client, cmd *Command) {
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
	room := h.collabRoom(cmd.Room, true)
	room.AddParticipant(c, userID, userName, now)

	h.send(c, &Event{Kind: EventStateSync, Room: room.ID, Data: proto.StateSyncData{
		RoomID:           room.ID,
		SharedState:      room.State(),
		OperationHistory: room.History(h.cfg.SyncHistory),
		Participants:     room.Participants(),
		ActiveEditors:    room.ActiveEditors(),
	}})
	h.broadcast(room.clients(c), &Event{Kind: EventParticipantJoined, Room: room.ID, Data: userPresence(userID, userName, now)})
	h.broadcast(room.clients(nil), h.participantsEvent(room))
	h.log.Debug().Str("room_id", room.ID).Str("user_id", userID).Msg("joined collaborative room")
}

func (h *Hub) operationError(c *Client, code, msg, clientID string) {
	h.send(c, &Event{Kind: EventOperationError, Data: proto.ErrorData{Error: msg, Code: code, ClientID: clientID}})
}

func (h *Hub) handleCollabOperation(c *Client, cmd *Command) {
	op := cmd.Operation
	room := h.collabRoom(cmd.Room, false)
	if room == nil {
		h.operationError(c, ErrCodeRoomNotFound, "room not found", op.ClientID)
		return
	}
	if op.UserID == "" {
		op.UserID = c.userID
	}
	if c.authUserID != "" && op.UserID != c.authUserID {
		h.operationError(c, ErrCodeUnauthorized, "user id does not match token", op.ClientID)
		return
	}

	applied, err := room.ApplyOperation(op, h.now())
	if err != nil {
		h.operationError(c, ErrCodeBadRequest, err.Error(), op.ClientID)
		return
	}

	payload := proto.OperationAppliedData{Operation: applied, SharedState: room.State()}
	recipients := room.clients(nil)
	if len(room.usersOf(c)) == 0 {
		// The author still needs the echo to settle its pending copy.
		recipients = append(recipients, c)
	}
	h.broadcast(recipients, &Event{Kind: EventOperationApplied, Room: room.ID, Data: payload})
	h.publish(room.ID, proto.EventOperationApplied, payload)
	h.log.Debug().Str("room_id", room.ID).Int64("op_id", applied.ID).Str("user_id", applied.UserID).Msg("operation applied")
}

func (h *Hub) handleRequestEditLock(c *Client, cmd *Command) {
	room := h.collabRoom(cmd.Room, false)
	if room == nil {
		h.send(c, &Event{Kind: EventEditLockResponse, Data: proto.EditLockResponseData{Success: false, Field: cmd.Field, Error: "room not found"}})
		return
	}
	if cmd.Field == "" {
		h.send(c, &Event{Kind: EventEditLockResponse, Room: room.ID, Data: proto.EditLockResponseData{Success: false, Error: "field is required"}})
		return
	}
	userID, _, err := h.identity(c, cmd)
	if err != nil {
		h.send(c, &Event{Kind: EventEditLockResponse, Room: room.ID, Data: proto.EditLockResponseData{Success: false, Field: cmd.Field, Error: err.Message}})
		return
	}

	ok, holder := room.StartEditing(userID, cmd.Field, h.now())
	h.send(c, &Event{Kind: EventEditLockResponse, Room: room.ID, Data: proto.EditLockResponseData{
		Success:       ok,
		Field:         cmd.Field,
		CurrentEditor: holder,
	}})
	if ok {
		h.broadcast(room.clients(c), &Event{Kind: EventFieldLocked, Room: room.ID, Data: proto.FieldLockData{
			Field:    cmd.Field,
			UserID:   userID,
			UserName: room.participantName(userID),
		}})
	}
}

func (h *Hub) handleReleaseEditLock(c *Client, cmd *Command) {
	room := h.collabRoom(cmd.Room, false)
	if room == nil {
		return
	}
	userID, _, err := h.identity(c, cmd)
	if err != nil {
		h.sendError(c, err)
		return
	}
	if room.StopEditing(userID, cmd.Field) {
		h.broadcast(room.clients(c), &Event{Kind: EventFieldUnlocked, Room: room.ID, Data: proto.FieldLockData{Field: cmd.Field, UserID: userID}})
	}
}

func (h *Hub) handleUpdatePresence(c *Client, cmd *Command) {
	room := h.collabRoom(cmd.Room, false)
	if room == nil {
		return
	}
	userID, _, err := h.identity(c, cmd)
	if err != nil {
		h.sendError(c, err)
		return
	}
	now := h.now()
	if !room.UpdatePresence(userID, cmd.Presence, now) {
		return
	}
	h.broadcast(room.clients(c), &Event{Kind: EventPresenceUpdated, Room: room.ID, Data: proto.PresenceUpdatedData{
		UserID:       userID,
		PresenceData: cmd.Presence,
		Timestamp:    now,
	}})
}

func (h *Hub) handleActivityChange(c *Client, cmd *Command) {
	room := h.collabRoom(cmd.Room, false)
	if room == nil {
		return
	}
	userID, _, err := h.identity(c, cmd)
	if err != nil {
		h.sendError(c, err)
		return
	}
	now := h.now()
	if !room.SetActive(userID, cmd.Active, now) {
		return
	}
	h.broadcast(room.clients(c), &Event{Kind: EventActivityUpdated, Room: room.ID, Data: proto.ActivityUpdatedData{
		UserID:    userID,
		IsActive:  cmd.Active,
		Timestamp: now,
	}})
}

// removeCollabParticipant drops a participant and tells the room about it and its released locks.
func (h *Hub) removeCollabParticipant(room *CollabRoom, userID string, now time.Time) {
	p, released, ok := room.RemoveParticipant(userID, now)
	if !ok {
		return
	}
	rest := room.clients(nil)
	h.broadcast(rest, &Event{Kind: EventParticipantLeft, Room: room.ID, Data: userPresence(p.UserID, p.UserName, now)})
	h.broadcast(rest, h.participantsEvent(room))
	if len(released) == 0 {
		return
	}
	for _, field := range released {
		h.broadcast(rest, &Event{Kind: EventFieldUnlocked, Room: room.ID, Data: proto.FieldLockData{Field: field, UserID: userID}})
	}
	h.broadcast(rest, &Event{Kind: EventUserFieldsUnlocked, Room: room.ID, Data: proto.UserFieldsUnlockedData{UserID: userID}})
}
