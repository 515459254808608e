package core

import (
	"github.com/vovakirdan/wiresync/internal/chat"
	"github.com/vovakirdan/wiresync/internal/collab"
)

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandUserJoin introduces the connection's user.
	CommandUserJoin CommandKind = iota
	// CommandJoinRoom subscribes the client to a chat room.
	CommandJoinRoom
	// CommandLeaveRoom unsubscribes the client from a chat room.
	CommandLeaveRoom
	// CommandSendRoomMessage delivers a chat message to room participants.
	CommandSendRoomMessage
	// CommandTyping starts or stops a typing indicator.
	CommandTyping
	// CommandMarkRead marks messages as read.
	CommandMarkRead
	// CommandToggleReaction toggles an emoji reaction on a message.
	CommandToggleReaction
	// CommandJoinCollabRoom subscribes the client to a collaborative room.
	CommandJoinCollabRoom
	// CommandCollabOperation applies an operation to a collaborative room's state.
	CommandCollabOperation
	// CommandRequestEditLock asks for a field's edit lock.
	CommandRequestEditLock
	// CommandReleaseEditLock releases a field's edit lock.
	CommandReleaseEditLock
	// CommandUpdatePresence shares cursor or selection data.
	CommandUpdatePresence
	// CommandActivityChange toggles a participant's active flag.
	CommandActivityChange
	// CommandPing is a heartbeat probe.
	CommandPing

	// commandDisconnect travels the client's command path so it is processed after every
	// command the client sent before it.
	commandDisconnect
)

// Command represents an action requested by a client.
type Command struct {
	Kind     CommandKind
	Room     string
	UserID   string
	UserName string

	// CommandSendRoomMessage
	Message chat.Message
	// CommandMarkRead
	MessageIDs []string
	// CommandToggleReaction
	MessageID string
	Emoji     string
	// CommandTyping, CommandActivityChange
	Active bool

	Operation collab.Operation
	Field     string
	Presence  collab.Presence

	// CommandPing
	PingTimestamp int64
	PingClientID  string

	client *Client
}
