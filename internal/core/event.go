package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventUserJoined acknowledges user_join.
	EventUserJoined EventKind = iota
	// EventRoomJoined delivers recent history to a client joining a chat room.
	EventRoomJoined
	// EventUserJoinedRoom notifies members about a user joining a chat room.
	EventUserJoinedRoom
	// EventUserLeftRoom notifies members about a user leaving a chat room.
	EventUserLeftRoom
	// EventNewMessage broadcasts a chat message.
	EventNewMessage
	// EventMessageDelivered confirms a send to its author.
	EventMessageDelivered
	// EventMessageError reports a failed send.
	EventMessageError
	// EventUserTyping relays a typing indicator.
	EventUserTyping
	// EventMessagesRead relays read receipts.
	EventMessagesRead
	// EventReaction carries a message whose reactions changed.
	EventReaction

	// EventStateSync delivers the full collaborative snapshot to a joiner.
	EventStateSync
	EventParticipantJoined
	EventParticipantLeft
	EventParticipantsUpdated
	// EventOperationApplied broadcasts a stamped operation and the resulting state.
	EventOperationApplied
	EventOperationError
	EventEditLockResponse
	EventFieldLocked
	EventFieldUnlocked
	EventUserFieldsUnlocked
	EventPresenceUpdated
	EventActivityUpdated

	EventPong
	// EventError notifies clients about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
// Data holds the matching proto payload and is never mutated after the event is built.
type Event struct {
	Kind  EventKind
	Room  string
	Data  any
	Error *CoreError
}
