package http

import (
	"encoding/json"
	"fmt"

	"github.com/vovakirdan/wiresync/internal/chat"
	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/proto"
)

// inboundToCommand decodes a client frame into a hub command. A frame the hub cannot act on
// yields a reply to send back instead.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Outbound) {
	switch inbound.Event {
	case proto.EventUserJoin:
		var data proto.UserJoinData
		if err := decodeData(inbound, &data); err != nil {
			return nil, errorFrame(core.ErrCodeInvalidMessage, err.Error())
		}
		return &core.Command{Kind: core.CommandUserJoin, UserID: data.UserID, UserName: data.UserName}, nil

	case proto.EventJoinRoom, proto.EventLeaveRoom, proto.EventJoinCollaborativeRoom:
		var data proto.RoomRequest
		if err := decodeData(inbound, &data); err != nil {
			return nil, errorFrame(core.ErrCodeInvalidMessage, err.Error())
		}
		if data.RoomID == "" {
			return nil, errorFrame(core.ErrCodeBadRequest, "roomId is required")
		}
		kind := core.CommandJoinRoom
		switch inbound.Event {
		case proto.EventLeaveRoom:
			kind = core.CommandLeaveRoom
		case proto.EventJoinCollaborativeRoom:
			kind = core.CommandJoinCollabRoom
		}
		return &core.Command{Kind: kind, Room: data.RoomID, UserID: data.UserID, UserName: data.UserName}, nil

	case proto.EventSendMessage:
		var data proto.SendMessageData
		if err := decodeData(inbound, &data); err != nil {
			return nil, errorFrame(core.ErrCodeInvalidMessage, err.Error())
		}
		return &core.Command{
			Kind:     core.CommandSendRoomMessage,
			Room:     data.RoomID,
			UserID:   data.Message.UserID,
			UserName: data.Message.UserName,
			Message: chat.Message{
				TempID: data.Message.TempID,
				Text:   data.Message.Text,
				Type:   data.Message.Type,
			},
		}, nil

	case proto.EventTypingStart, proto.EventTypingStop:
		var data proto.TypingData
		if err := decodeData(inbound, &data); err != nil {
			return nil, errorFrame(core.ErrCodeInvalidMessage, err.Error())
		}
		return &core.Command{
			Kind:     core.CommandTyping,
			Room:     data.RoomID,
			UserID:   data.UserID,
			UserName: data.UserName,
			Active:   inbound.Event == proto.EventTypingStart,
		}, nil

	case proto.EventMarkMessagesRead:
		var data proto.MarkReadData
		if err := decodeData(inbound, &data); err != nil {
			return nil, errorFrame(core.ErrCodeInvalidMessage, err.Error())
		}
		return &core.Command{Kind: core.CommandMarkRead, Room: data.RoomID, UserID: data.UserID, MessageIDs: data.MessageIDs}, nil

	case proto.EventToggleReaction:
		var data proto.ToggleReactionData
		if err := decodeData(inbound, &data); err != nil {
			return nil, errorFrame(core.ErrCodeInvalidMessage, err.Error())
		}
		return &core.Command{
			Kind:      core.CommandToggleReaction,
			Room:      data.RoomID,
			UserID:    data.UserID,
			MessageID: data.MessageID,
			Emoji:     data.Emoji,
		}, nil

	case proto.EventCollaborativeOperation:
		var data proto.OperationData
		if err := decodeData(inbound, &data); err != nil {
			return nil, &proto.Outbound{
				Event: proto.EventOperationError,
				Data:  proto.ErrorData{Error: err.Error(), Code: core.ErrCodeInvalidMessage},
			}
		}
		return &core.Command{Kind: core.CommandCollabOperation, Room: data.RoomID, Operation: data.Operation}, nil

	case proto.EventRequestEditLock, proto.EventReleaseEditLock:
		var data proto.EditLockData
		if err := decodeData(inbound, &data); err != nil {
			return nil, errorFrame(core.ErrCodeInvalidMessage, err.Error())
		}
		kind := core.CommandRequestEditLock
		if inbound.Event == proto.EventReleaseEditLock {
			kind = core.CommandReleaseEditLock
		}
		return &core.Command{Kind: kind, Room: data.RoomID, UserID: data.UserID, Field: data.Field}, nil

	case proto.EventUpdatePresence:
		var data proto.PresenceData
		if err := decodeData(inbound, &data); err != nil {
			return nil, errorFrame(core.ErrCodeInvalidMessage, err.Error())
		}
		return &core.Command{Kind: core.CommandUpdatePresence, Room: data.RoomID, UserID: data.UserID, Presence: data.PresenceData}, nil

	case proto.EventUserActivityChange:
		var data proto.ActivityData
		if err := decodeData(inbound, &data); err != nil {
			return nil, errorFrame(core.ErrCodeInvalidMessage, err.Error())
		}
		return &core.Command{Kind: core.CommandActivityChange, Room: data.RoomID, UserID: data.UserID, Active: data.IsActive}, nil

	case proto.EventPing:
		var data proto.PingData
		if err := decodeData(inbound, &data); err != nil {
			return nil, errorFrame(core.ErrCodeInvalidMessage, err.Error())
		}
		return &core.Command{Kind: core.CommandPing, PingTimestamp: data.Timestamp, PingClientID: data.ClientID}, nil

	default:
		return nil, errorFrame(core.ErrCodeInvalidMessage, fmt.Sprintf("unknown event %q", inbound.Event))
	}
}

func decodeData(inbound proto.Inbound, v any) error {
	if len(inbound.Data) == 0 {
		return fmt.Errorf("%s: missing data", inbound.Event)
	}
	if err := json.Unmarshal(inbound.Data, v); err != nil {
		return fmt.Errorf("%s: malformed data", inbound.Event)
	}
	return nil
}

func errorFrame(code, msg string) *proto.Outbound {
	return &proto.Outbound{Event: proto.EventError, Data: proto.ErrorData{Error: msg, Code: code}}
}

// rejectFrame answers a command the connection may not run, on the channel its sender
// listens to for failures of that kind.
func rejectFrame(cmd *core.Command, code, msg string) *proto.Outbound {
	switch cmd.Kind {
	case core.CommandSendRoomMessage:
		return &proto.Outbound{Event: proto.EventMessageError, Data: proto.ErrorData{Error: msg, Code: code, TempID: cmd.Message.TempID}}
	case core.CommandCollabOperation:
		return &proto.Outbound{Event: proto.EventOperationError, Data: proto.ErrorData{Error: msg, Code: code, ClientID: cmd.Operation.ClientID}}
	default:
		return errorFrame(code, msg)
	}
}

var eventNames = map[core.EventKind]string{
	core.EventUserJoined:          proto.EventUserJoined,
	core.EventRoomJoined:          proto.EventRoomJoined,
	core.EventUserJoinedRoom:      proto.EventUserJoinedRoom,
	core.EventUserLeftRoom:        proto.EventUserLeftRoom,
	core.EventNewMessage:          proto.EventNewMessage,
	core.EventMessageDelivered:    proto.EventMessageDelivered,
	core.EventMessageError:        proto.EventMessageError,
	core.EventUserTyping:          proto.EventUserTyping,
	core.EventMessagesRead:        proto.EventMessagesRead,
	core.EventReaction:            proto.EventReaction,
	core.EventStateSync:           proto.EventCollaborativeStateSync,
	core.EventParticipantJoined:   proto.EventParticipantJoined,
	core.EventParticipantLeft:     proto.EventParticipantLeft,
	core.EventParticipantsUpdated: proto.EventParticipantsUpdated,
	core.EventOperationApplied:    proto.EventOperationApplied,
	core.EventOperationError:      proto.EventOperationError,
	core.EventEditLockResponse:    proto.EventEditLockResponse,
	core.EventFieldLocked:         proto.EventFieldLocked,
	core.EventFieldUnlocked:       proto.EventFieldUnlocked,
	core.EventUserFieldsUnlocked:  proto.EventUserFieldsUnlocked,
	core.EventPresenceUpdated:     proto.EventPresenceUpdated,
	core.EventActivityUpdated:     proto.EventUserActivityUpdated,
	core.EventPong:                proto.EventPong,
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	if event.Kind == core.EventError {
		if event.Error == nil {
			return *errorFrame("unknown", "unknown error")
		}
		return *errorFrame(event.Error.Code, event.Error.Message)
	}
	name, ok := eventNames[event.Kind]
	if !ok {
		return *errorFrame("unknown", fmt.Sprintf("unknown event kind %d", event.Kind))
	}
	return proto.Outbound{Event: name, Data: event.Data}
}
