package proto

import (
	"encoding/json"
	"time"

	"github.com/vovakirdan/wiresync/internal/chat"
	"github.com/vovakirdan/wiresync/internal/collab"
)

const ProtocolVersion = 1

// Inbound is a frame as received from the peer. Data is decoded once the event is known.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is a frame about to be written to the peer.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Events sent by clients.
const (
	EventUserJoin               = "user_join"
	EventJoinRoom               = "join_room"
	EventLeaveRoom              = "leave_room"
	EventSendMessage            = "send_message"
	EventTypingStart            = "typing_start"
	EventTypingStop             = "typing_stop"
	EventMarkMessagesRead       = "mark_messages_read"
	EventToggleReaction         = "toggle_reaction"
	EventJoinCollaborativeRoom  = "join_collaborative_room"
	EventCollaborativeOperation = "collaborative_operation"
	EventRequestEditLock        = "request_edit_lock"
	EventReleaseEditLock        = "release_edit_lock"
	EventUpdatePresence         = "update_presence"
	EventUserActivityChange     = "user_activity_change"
	EventPing                   = "ping"
)

// Events sent by the server.
const (
	EventUserJoined             = "user_joined"
	EventRoomJoined             = "room_joined"
	EventUserJoinedRoom         = "user_joined_room"
	EventUserLeftRoom           = "user_left_room"
	EventNewMessage             = "new_message"
	EventMessageDelivered       = "message_delivered"
	EventMessageError           = "message_error"
	EventUserTyping             = "user_typing"
	EventMessagesRead           = "messages_read"
	EventReaction               = "reaction"
	EventCollaborativeStateSync = "collaborative_state_sync"
	EventParticipantJoined      = "participant_joined"
	EventParticipantLeft        = "participant_left"
	EventParticipantsUpdated    = "participants_updated"
	EventOperationApplied       = "operation_applied"
	EventOperationError         = "operation_error"
	EventEditLockResponse       = "edit_lock_response"
	EventFieldLocked            = "field_locked"
	EventFieldUnlocked          = "field_unlocked"
	EventUserFieldsUnlocked     = "user_fields_unlocked"
	EventPresenceUpdated        = "presence_updated"
	EventUserActivityUpdated    = "user_activity_updated"
	EventPong                   = "pong"
	EventError                  = "error"
)

// UserJoinData introduces the connection's user.
type UserJoinData struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Timestamp time.Time `json:"timestamp"`
}

// UserJoinedData acknowledges user_join.
type UserJoinedData struct {
	Success bool      `json:"success"`
	User    chat.User `json:"user"`
}

// RoomRequest is the payload of join_room, leave_room and join_collaborative_room.
type RoomRequest struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// RoomJoinedData answers join_room with recent history.
type RoomJoinedData struct {
	RoomID       string         `json:"roomId"`
	Messages     []chat.Message `json:"messages"`
	Participants []chat.User    `json:"participants"`
}

// UserPresenceData announces a user entering or leaving a room.
type UserPresenceData struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Timestamp time.Time `json:"timestamp"`
}

// OutgoingMessage is the client-built part of a new message.
type OutgoingMessage struct {
	TempID   string           `json:"tempId"`
	UserID   string           `json:"userId"`
	UserName string           `json:"userName"`
	Text     string           `json:"text"`
	Type     chat.MessageType `json:"type,omitempty"`
}

// SendMessageData is the payload of send_message.
type SendMessageData struct {
	RoomID  string          `json:"roomId"`
	Message OutgoingMessage `json:"message"`
}

// MessageDeliveredData confirms a send to its author.
type MessageDeliveredData struct {
	TempID    string    `json:"tempId"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorData is the payload of message_error and operation_error.
type ErrorData struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	TempID   string `json:"tempId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// TypingData is the payload of typing_start and typing_stop.
type TypingData struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// MarkReadData is the payload of mark_messages_read.
type MarkReadData struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId"`
}

// MessagesReadData tells a room that a user read some messages.
type MessagesReadData struct {
	MessageIDs []string  `json:"messageIds"`
	UserID     string    `json:"userId"`
	Timestamp  time.Time `json:"timestamp"`
}

// ToggleReactionData is the payload of toggle_reaction.
type ToggleReactionData struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

// StateSyncData is the full snapshot a member receives on joining a collaborative room.
type StateSyncData struct {
	RoomID           string                         `json:"roomId"`
	SharedState      *collab.State                  `json:"sharedState"`
	OperationHistory []collab.Operation             `json:"operationHistory"`
	Participants     []collab.Participant           `json:"participants"`
	ActiveEditors    map[string]collab.ActiveEditor `json:"activeEditors"`
}

// ParticipantsData lists the current participants of a collaborative room.
type ParticipantsData struct {
	Participants []collab.Participant `json:"participants"`
}

// OperationData is the payload of collaborative_operation.
type OperationData struct {
	RoomID    string           `json:"roomId"`
	Operation collab.Operation `json:"operation"`
}

// OperationAppliedData carries a stamped operation and the state after it.
type OperationAppliedData struct {
	Operation   collab.Operation `json:"operation"`
	SharedState *collab.State    `json:"sharedState"`
}

// EditLockData is the payload of request_edit_lock and release_edit_lock.
type EditLockData struct {
	RoomID string `json:"roomId"`
	Field  string `json:"field"`
	UserID string `json:"userId"`
}

// EditLockResponseData answers request_edit_lock.
type EditLockResponseData struct {
	Success       bool   `json:"success"`
	Field         string `json:"field"`
	CurrentEditor string `json:"currentEditor,omitempty"`
	Error         string `json:"error,omitempty"`
}

// FieldLockData is the payload of field_locked and field_unlocked.
type FieldLockData struct {
	Field    string `json:"field"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// UserFieldsUnlockedData tells a room that all locks of a user were released.
type UserFieldsUnlockedData struct {
	UserID string `json:"userId"`
}

// PresenceData is the payload of update_presence.
type PresenceData struct {
	RoomID       string          `json:"roomId"`
	UserID       string          `json:"userId"`
	PresenceData collab.Presence `json:"presenceData"`
}

// PresenceUpdatedData relays a presence update.
type PresenceUpdatedData struct {
	UserID       string          `json:"userId"`
	PresenceData collab.Presence `json:"presenceData"`
	Timestamp    time.Time       `json:"timestamp"`
}

// ActivityData is the payload of user_activity_change.
type ActivityData struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsActive bool   `json:"isActive"`
}

// ActivityUpdatedData relays an activity change.
type ActivityUpdatedData struct {
	UserID    string    `json:"userId"`
	IsActive  bool      `json:"isActive"`
	Timestamp time.Time `json:"timestamp"`
}

// PingData is a heartbeat probe. Timestamp is in unix milliseconds.
type PingData struct {
	Timestamp int64  `json:"timestamp"`
	ClientID  string `json:"clientId"`
}

// PongData echoes a ping.
type PongData struct {
	Timestamp       int64  `json:"timestamp"`
	ClientID        string `json:"clientId"`
	ServerTimestamp int64  `json:"serverTimestamp"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// RoomsResponse is returned by the room listing endpoint.
type RoomsResponse struct {
	Rooms []string `json:"rooms"`
}

// MessagesResponse is one page of a room's messages, most recent first.
type MessagesResponse struct {
	Messages []chat.Message `json:"messages"`
	HasMore  bool           `json:"hasMore"`
}

// GuestRequest asks for a guest token.
type GuestRequest struct {
	UserName string `json:"userName"`
}

// GuestResponse carries a guest token.
type GuestResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}
