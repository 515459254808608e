package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/chat"
	"github.com/vovakirdan/wiresync/internal/proto"
	"github.com/vovakirdan/wiresync/internal/store"
	"github.com/vovakirdan/wiresync/internal/store/memory"
	"github.com/vovakirdan/wiresync/internal/utils"
)

// HistorySource serves older messages from the server, most recent first.
type HistorySource interface {
	Messages(ctx context.Context, roomID string, limit, offset int) ([]chat.Message, bool, error)
}

// ChatSession is one user's view of one chat room at a time. Sent messages appear locally
// before the server confirms them and are reconciled when the confirmation or the broadcast
// arrives, whichever comes first.
type ChatSession struct {
	mgr     *Manager
	store   store.Store
	opts    Options
	sched   Scheduler
	log     *zerolog.Logger
	history HistorySource

	mu           sync.Mutex
	started      bool
	closed       bool
	userID       string
	userName     string
	roomID       string
	joined       string
	messages     []chat.Message
	participants []chat.User
	typing       chat.TypingSet
	typingTimer  Timer
	typingSeq    uint64
	loading      bool
	hasMore      bool
	unsubscribe  []func()

	messagesReg     *Registry[[]chat.Message]
	typingReg       *Registry[[]chat.TypingUser]
	participantsReg *Registry[[]chat.User]
	errorsReg       *Registry[proto.ErrorData]
}

// NewChatSession creates a session on mgr. st keeps the local copy of messages; nil means an
// in-memory store.
func NewChatSession(mgr *Manager, st store.Store, opts Options, logger *zerolog.Logger) *ChatSession {
	opts = opts.withDefaults()
	if st == nil {
		st = memory.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ChatSession{
		mgr:             mgr,
		store:           st,
		opts:            opts,
		sched:           opts.Scheduler,
		log:             logger,
		hasMore:         true,
		messagesReg:     NewRegistry[[]chat.Message](),
		typingReg:       NewRegistry[[]chat.TypingUser](),
		participantsReg: NewRegistry[[]chat.User](),
		errorsReg:       NewRegistry[proto.ErrorData](),
	}
}

// SetHistorySource lets LoadMoreMessages fall back to the server once the local store runs dry.
func (s *ChatSession) SetHistorySource(h HistorySource) {
	s.mu.Lock()
	s.history = h
	s.mu.Unlock()
}

// Start introduces the user to the server and connects. Calling it again with the same user
// is a no-op.
func (s *ChatSession) Start(userID, userName string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	if userName == "" {
		userName = userID
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started && s.userID == userID {
		s.mu.Unlock()
		return nil
	}
	s.userID, s.userName = userID, userName
	first := !s.started
	s.started = true
	s.mu.Unlock()

	if first {
		s.subscribe()
	}
	s.mgr.Connect()
	if s.mgr.IsConnected() {
		s.introduce()
	}
	return nil
}

// Stop detaches the session from the manager.
func (s *ChatSession) Stop() {
	s.mu.Lock()
	s.closed = true
	unsubs := s.unsubscribe
	s.unsubscribe = nil
	s.stopTypingTimerLocked()
	s.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
}

func (s *ChatSession) subscribe() {
	subs := []func(){
		s.mgr.OnStateChange(s.handleState),
		s.mgr.On(proto.EventRoomJoined, s.handleRoomJoined),
		s.mgr.On(proto.EventNewMessage, s.handleNewMessage),
		s.mgr.On(proto.EventMessageDelivered, s.handleDelivered),
		s.mgr.On(proto.EventMessageError, s.handleMessageError),
		s.mgr.On(proto.EventUserTyping, s.handleTyping),
		s.mgr.On(proto.EventUserJoinedRoom, s.handleUserJoinedRoom),
		s.mgr.On(proto.EventUserLeftRoom, s.handleUserLeftRoom),
		s.mgr.On(proto.EventMessagesRead, s.handleMessagesRead),
		s.mgr.On(proto.EventReaction, s.handleReaction),
	}
	s.mu.Lock()
	s.unsubscribe = append(s.unsubscribe, subs...)
	s.mu.Unlock()
}

// handleState re-introduces the user and rejoins the active room after every (re)connect.
func (s *ChatSession) handleState(info ConnectionInfo) {
	if info.State != StateConnected {
		return
	}
	s.introduce()
}

func (s *ChatSession) introduce() {
	s.mu.Lock()
	userID, userName, roomID := s.userID, s.userName, s.roomID
	s.mu.Unlock()
	if userID == "" {
		return
	}

	err := s.mgr.Emit(proto.EventUserJoin, proto.UserJoinData{UserID: userID, UserName: userName, Timestamp: s.sched.Now()})
	if err != nil {
		s.log.Debug().Err(err).Msg("user_join not sent")
		return
	}
	if roomID != "" {
		s.emitJoin(roomID)
	}
}

func (s *ChatSession) emitJoin(roomID string) {
	s.mu.Lock()
	req := proto.RoomRequest{RoomID: roomID, UserID: s.userID, UserName: s.userName}
	s.mu.Unlock()
	if err := s.mgr.Emit(proto.EventJoinRoom, req); err != nil {
		s.log.Debug().Err(err).Str("room_id", roomID).Msg("join_room deferred until connected")
	}
}

// JoinRoom makes roomID the active room and loads its most recent messages from the local
// store. Joining the room that is already active does nothing.
func (s *ChatSession) JoinRoom(ctx context.Context, roomID, roomName string) error {
	if roomID == "" {
		return errors.New("room id is required")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.joined == roomID {
		s.mu.Unlock()
		return nil
	}
	s.roomID = roomID
	s.joined = roomID
	s.messages = nil
	s.participants = nil
	s.typing.Reset()
	s.hasMore = true
	s.stopTypingTimerLocked()
	userID := s.userID
	s.mu.Unlock()

	if roomName == "" {
		roomName = roomID
	}
	room := &store.Room{ID: roomID, Name: roomName, Participants: []string{userID}}
	if existing, err := s.store.GetRoom(ctx, roomID); err == nil {
		room.CreatedAt = existing.CreatedAt
		room.Description = existing.Description
	}
	if err := s.store.SaveRoom(ctx, room); err != nil {
		return fmt.Errorf("save room: %w", err)
	}

	page, err := s.store.ListMessages(ctx, roomID, s.opts.InitialPageSize, 0)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	s.mu.Lock()
	if s.roomID != roomID {
		s.mu.Unlock()
		return nil
	}
	s.messages = chat.MergeAll(s.messages, page)
	s.hasMore = len(page) == s.opts.InitialPageSize
	snapshot := cloneMessages(s.messages)
	s.mu.Unlock()

	s.messagesReg.Publish(snapshot)
	s.emitJoin(roomID)
	return nil
}

// LeaveRoom leaves the active room. A later JoinRoom of the same room is not suppressed.
func (s *ChatSession) LeaveRoom() error {
	s.mu.Lock()
	roomID := s.roomID
	if roomID == "" {
		s.mu.Unlock()
		return ErrNoActiveRoom
	}
	s.roomID = ""
	s.joined = ""
	s.messages = nil
	s.participants = nil
	s.typing.Reset()
	s.stopTypingTimerLocked()
	req := proto.RoomRequest{RoomID: roomID, UserID: s.userID, UserName: s.userName}
	s.mu.Unlock()

	s.messagesReg.Publish(nil)
	s.typingReg.Publish(nil)
	s.participantsReg.Publish(nil)
	if err := s.mgr.Emit(proto.EventLeaveRoom, req); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// SendMessage stores and surfaces the message at once, then sends it, or queues it while the
// connection is down. The returned message carries its temporary id.
func (s *ChatSession) SendMessage(ctx context.Context, text string) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, errors.New("message text is empty")
	}

	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return chat.Message{}, ErrNoActiveRoom
	}
	now := s.sched.Now()
	tempID := utils.NewTempID(now)
	msg := chat.Message{
		ID:        tempID,
		TempID:    tempID,
		RoomID:    s.roomID,
		UserID:    s.userID,
		UserName:  s.userName,
		Text:      text,
		Timestamp: now,
		Read:      true,
		Type:      chat.TypeText,
		Reactions: map[string][]string{},
	}
	s.messages = chat.Merge(s.messages, msg)
	snapshot := cloneMessages(s.messages)
	s.mu.Unlock()

	if err := s.store.SaveMessage(ctx, &msg); err != nil {
		s.log.Warn().Err(err).Str("room_id", msg.RoomID).Msg("save pending message failed")
	}
	s.messagesReg.Publish(snapshot)

	s.mgr.Send(proto.EventSendMessage, proto.SendMessageData{
		RoomID: msg.RoomID,
		Message: proto.OutgoingMessage{
			TempID:   tempID,
			UserID:   msg.UserID,
			UserName: msg.UserName,
			Text:     text,
			Type:     chat.TypeText,
		},
	})
	return msg.Clone(), nil
}

// StartTyping announces typing and stops it automatically after TypingTimeout without
// another call.
func (s *ChatSession) StartTyping() error {
	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return ErrNoActiveRoom
	}
	s.stopTypingTimerLocked()
	seq := s.typingSeq
	s.typingTimer = s.sched.AfterFunc(s.opts.TypingTimeout, func() { s.typingExpired(seq) })
	data := proto.TypingData{RoomID: s.roomID, UserID: s.userID, UserName: s.userName}
	s.mu.Unlock()

	return s.mgr.Emit(proto.EventTypingStart, data)
}

// StopTyping announces the end of typing.
func (s *ChatSession) StopTyping() error {
	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return ErrNoActiveRoom
	}
	s.stopTypingTimerLocked()
	data := proto.TypingData{RoomID: s.roomID, UserID: s.userID, UserName: s.userName}
	s.mu.Unlock()

	return s.mgr.Emit(proto.EventTypingStop, data)
}

func (s *ChatSession) typingExpired(seq uint64) {
	s.mu.Lock()
	current := seq == s.typingSeq && s.typingTimer != nil
	s.mu.Unlock()
	if current {
		_ = s.StopTyping()
	}
}

func (s *ChatSession) stopTypingTimerLocked() {
	s.typingSeq++
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
}

// LoadMoreMessages prepends the next older page. It returns how many messages were added, and
// 0 without doing anything while another load is running.
func (s *ChatSession) LoadMoreMessages(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return 0, ErrNoActiveRoom
	}
	if s.loading {
		s.mu.Unlock()
		return 0, nil
	}
	s.loading = true
	roomID, offset, history := s.roomID, len(s.messages), s.history
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	page, err := s.store.ListMessages(ctx, roomID, s.opts.PageSize, offset)
	if err != nil {
		return 0, fmt.Errorf("load messages: %w", err)
	}
	more := len(page) == s.opts.PageSize
	if len(page) < s.opts.PageSize && history != nil {
		remote, remoteMore, err := history.Messages(ctx, roomID, s.opts.PageSize, offset)
		if err != nil {
			s.log.Warn().Err(err).Str("room_id", roomID).Msg("remote history unavailable")
		} else {
			for i := range remote {
				if err := s.store.SaveMessage(ctx, &remote[i]); err != nil {
					s.log.Warn().Err(err).Str("room_id", roomID).Msg("cache remote message failed")
				}
			}
			page = append(page, remote...)
			more = remoteMore
		}
	}

	s.mu.Lock()
	if s.roomID != roomID {
		s.mu.Unlock()
		return 0, nil
	}
	before := len(s.messages)
	s.messages = chat.MergeAll(s.messages, page)
	added := len(s.messages) - before
	s.hasMore = more
	snapshot := cloneMessages(s.messages)
	s.mu.Unlock()

	if added > 0 {
		s.messagesReg.Publish(snapshot)
	}
	return added, nil
}

// HasMore reports whether older messages may still be available.
func (s *ChatSession) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// MarkRead tells the room the user has read ids.
func (s *ChatSession) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return ErrNoActiveRoom
	}
	data := proto.MarkReadData{RoomID: s.roomID, MessageIDs: slices.Clone(ids), UserID: s.userID}
	s.mu.Unlock()

	if err := s.store.MarkRead(ctx, ids); err != nil {
		s.log.Warn().Err(err).Msg("mark read locally failed")
	}
	s.mgr.Send(proto.EventMarkMessagesRead, data)
	return nil
}

// ToggleReaction adds or removes the user's emoji reaction on a message.
func (s *ChatSession) ToggleReaction(messageID, emoji string) error {
	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return ErrNoActiveRoom
	}
	data := proto.ToggleReactionData{RoomID: s.roomID, MessageID: messageID, UserID: s.userID, Emoji: emoji}
	s.mu.Unlock()

	return s.mgr.Emit(proto.EventToggleReaction, data)
}

// Messages returns the visible messages, oldest first.
func (s *ChatSession) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.messages)
}

// TypingUsers returns the users currently typing, excluding the local user.
func (s *ChatSession) TypingUsers() []chat.TypingUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing.List()
}

// Participants returns the members of the active room.
func (s *ChatSession) Participants() []chat.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.participants)
}

// RoomID returns the active room, or "".
func (s *ChatSession) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// OnMessages subscribes to the visible message list.
func (s *ChatSession) OnMessages(fn func([]chat.Message)) func() { return s.messagesReg.Subscribe(fn) }

// OnTyping subscribes to the typing set.
func (s *ChatSession) OnTyping(fn func([]chat.TypingUser)) func() { return s.typingReg.Subscribe(fn) }

// OnParticipants subscribes to room membership.
func (s *ChatSession) OnParticipants(fn func([]chat.User)) func() {
	return s.participantsReg.Subscribe(fn)
}

// OnError subscribes to message and room errors reported by the server.
func (s *ChatSession) OnError(fn func(proto.ErrorData)) func() { return s.errorsReg.Subscribe(fn) }

func (s *ChatSession) handleRoomJoined(raw json.RawMessage) {
	data, ok := decode[proto.RoomJoinedData](s.log, proto.EventRoomJoined, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	if data.RoomID != s.roomID {
		s.mu.Unlock()
		return
	}
	s.messages = chat.MergeAll(s.messages, data.Messages)
	s.participants = slices.Clone(data.Participants)
	messages := cloneMessages(s.messages)
	participants := slices.Clone(s.participants)
	s.mu.Unlock()

	s.persist(data.Messages)
	s.messagesReg.Publish(messages)
	s.participantsReg.Publish(participants)
}

func (s *ChatSession) handleNewMessage(raw json.RawMessage) {
	msg, ok := decode[chat.Message](s.log, proto.EventNewMessage, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	if msg.RoomID != s.roomID {
		s.mu.Unlock()
		return
	}
	tempID := msg.TempID
	ownEcho := tempID != "" && msg.UserID == s.userID
	s.messages = chat.Merge(s.messages, msg)
	s.typing.Remove(msg.UserID)
	messages := cloneMessages(s.messages)
	typing := s.typing.List()
	s.mu.Unlock()

	ctx := context.Background()
	stored := msg
	stored.TempID = ""
	stored.Delivered = true
	if err := s.store.SaveMessage(ctx, &stored); err != nil {
		s.log.Warn().Err(err).Str("room_id", msg.RoomID).Msg("save message failed")
	}
	if ownEcho {
		s.confirmStored(ctx, tempID, msg)
	}
	s.messagesReg.Publish(messages)
	s.typingReg.Publish(typing)
}

func (s *ChatSession) handleDelivered(raw json.RawMessage) {
	data, ok := decode[proto.MessageDeliveredData](s.log, proto.EventMessageDelivered, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	var changed bool
	s.messages, changed = chat.ConfirmDelivery(s.messages, data.TempID, data.MessageID, data.Timestamp)
	messages := cloneMessages(s.messages)
	s.mu.Unlock()

	s.confirmStored(context.Background(), data.TempID, chat.Message{ID: data.MessageID, Timestamp: data.Timestamp})
	if changed {
		s.messagesReg.Publish(messages)
	}
}

func (s *ChatSession) confirmStored(ctx context.Context, tempID string, confirmed chat.Message) {
	err := s.store.ConfirmDelivery(ctx, tempID, confirmed.ID, confirmed.Timestamp)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warn().Err(err).Str("temp_id", tempID).Msg("confirm delivery locally failed")
	}
}

func (s *ChatSession) handleMessageError(raw json.RawMessage) {
	data, ok := decode[proto.ErrorData](s.log, proto.EventMessageError, raw)
	if !ok {
		return
	}
	s.log.Warn().Str("code", data.Code).Str("temp_id", data.TempID).Msg(data.Error)
	s.errorsReg.Publish(data)
}

func (s *ChatSession) handleTyping(raw json.RawMessage) {
	u, ok := decode[chat.TypingUser](s.log, proto.EventUserTyping, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	if u.UserID == s.userID || s.roomID == "" {
		s.mu.Unlock()
		return
	}
	changed := s.typing.Apply(u)
	typing := s.typing.List()
	s.mu.Unlock()

	if changed {
		s.typingReg.Publish(typing)
	}
}

func (s *ChatSession) handleUserJoinedRoom(raw json.RawMessage) {
	data, ok := decode[proto.UserPresenceData](s.log, proto.EventUserJoinedRoom, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return
	}
	user := chat.User{UserID: data.UserID, UserName: data.UserName, IsOnline: true, JoinedAt: data.Timestamp}
	idx := slices.IndexFunc(s.participants, func(u chat.User) bool { return u.UserID == data.UserID })
	if idx >= 0 {
		s.participants[idx] = user
	} else {
		s.participants = append(s.participants, user)
	}
	participants := slices.Clone(s.participants)
	s.mu.Unlock()

	s.participantsReg.Publish(participants)
}

func (s *ChatSession) handleUserLeftRoom(raw json.RawMessage) {
	data, ok := decode[proto.UserPresenceData](s.log, proto.EventUserLeftRoom, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	s.participants = slices.DeleteFunc(s.participants, func(u chat.User) bool { return u.UserID == data.UserID })
	typingChanged := s.typing.Remove(data.UserID)
	participants := slices.Clone(s.participants)
	typing := s.typing.List()
	s.mu.Unlock()

	s.participantsReg.Publish(participants)
	if typingChanged {
		s.typingReg.Publish(typing)
	}
}

func (s *ChatSession) handleMessagesRead(raw json.RawMessage) {
	data, ok := decode[proto.MessagesReadData](s.log, proto.EventMessagesRead, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	changed := false
	for i := range s.messages {
		if slices.Contains(data.MessageIDs, s.messages[i].ID) && s.messages[i].MarkReadBy(data.UserID) {
			changed = true
		}
	}
	messages := cloneMessages(s.messages)
	s.mu.Unlock()

	if changed {
		s.messagesReg.Publish(messages)
	}
}

func (s *ChatSession) handleReaction(raw json.RawMessage) {
	msg, ok := decode[chat.Message](s.log, proto.EventReaction, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	if msg.RoomID != s.roomID {
		s.mu.Unlock()
		return
	}
	s.messages = chat.Merge(s.messages, msg)
	messages := cloneMessages(s.messages)
	s.mu.Unlock()

	s.persist([]chat.Message{msg})
	s.messagesReg.Publish(messages)
}

func (s *ChatSession) persist(msgs []chat.Message) {
	ctx := context.Background()
	for i := range msgs {
		m := msgs[i]
		m.TempID = ""
		m.Delivered = true
		if err := s.store.SaveMessage(ctx, &m); err != nil {
			s.log.Warn().Err(err).Str("room_id", m.RoomID).Msg("save message failed")
		}
	}
}

func cloneMessages(list []chat.Message) []chat.Message {
	if list == nil {
		return nil
	}
	out := make([]chat.Message, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out
}

func decode[T any](log *zerolog.Logger, event string, raw json.RawMessage) (T, bool) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("decode event")
		return v, false
	}
	return v, true
}
