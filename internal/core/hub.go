package core

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/chat"
	"github.com/vovakirdan/wiresync/internal/relay"
	"github.com/vovakirdan/wiresync/internal/store"
)

// HubConfig bounds the room registry.
type HubConfig struct {
	// MaxMessages bounds each chat room's in-memory log.
	MaxMessages int
	// HistoryLimit bounds each collaborative room's operation history.
	HistoryLimit int
	// SyncHistory is the number of operations sent with a state sync.
	SyncHistory int
	// JoinHistory is the number of messages sent with room_joined.
	JoinHistory int
	// IdleTTL is how long an empty room survives; zero disables eviction.
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

func (c HubConfig) withDefaults() HubConfig {
	if c.MaxMessages <= 0 {
		c.MaxMessages = 1000
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	if c.SyncHistory <= 0 {
		c.SyncHistory = 20
	}
	if c.JoinHistory <= 0 {
		c.JoinHistory = 20
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// Hub owns every room and serializes all state changes on one goroutine: each command runs
// to completion before the next one is taken.
type Hub struct {
	cfg    HubConfig
	store  store.Store
	relay  relay.Publisher
	log    *zerolog.Logger
	now    func() time.Time
	runCtx context.Context

	clients     map[*Client]struct{}
	chatRooms   map[string]*ChatRoom
	collabRooms map[string]*CollabRoom

	register chan *Client
	commands chan *Command
	queries  chan func()
	done     chan struct{}
}

// NewHub creates a hub. st and pub may be nil.
func NewHub(cfg HubConfig, st store.Store, pub relay.Publisher, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if pub == nil {
		pub = relay.Nop{}
	}
	return &Hub{
		cfg:         cfg.withDefaults(),
		store:       st,
		relay:       pub,
		log:         logger,
		now:         time.Now,
		runCtx:      context.Background(),
		clients:     make(map[*Client]struct{}),
		chatRooms:   make(map[string]*ChatRoom),
		collabRooms: make(map[string]*CollabRoom),
		register:    make(chan *Client),
		commands:    make(chan *Command, 256),
		queries:     make(chan func()),
		done:        make(chan struct{}),
	}
}

// Run processes commands until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.runCtx = ctx

	var sweep <-chan time.Time
	if h.cfg.IdleTTL > 0 {
		ticker := time.NewTicker(h.cfg.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Int("clients", len(h.clients)).Msg("hub stopped")
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.log.Debug().Str("client_id", c.ID).Msg("client registered")
		case cmd := <-h.commands:
			h.dispatch(cmd)
		case q := <-h.queries:
			q()
		case <-sweep:
			h.evictIdle(h.now())
		}
	}
}

// RegisterClient attaches c to the hub and starts forwarding its commands.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		return
	}
	go h.forward(c)
}

// UnregisterClient detaches c after every command it already sent has been processed.
// The hub then closes c.Events.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case c.Commands <- &Command{Kind: commandDisconnect}:
	case <-c.gone:
	case <-h.done:
	}
}

// forward moves a client's commands into the hub loop, preserving their order.
func (h *Hub) forward(c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			cmd.client = c
			select {
			case h.commands <- cmd:
			case <-h.done:
				return
			}
			if cmd.Kind == commandDisconnect {
				return
			}
		case <-c.gone:
			return
		case <-h.done:
			return
		}
	}
}

func (h *Hub) dispatch(cmd *Command) {
	c := cmd.client
	if _, ok := h.clients[c]; !ok {
		return
	}

	switch cmd.Kind {
	case commandDisconnect:
		h.handleDisconnect(c)
	case CommandUserJoin:
		h.handleUserJoin(c, cmd)
	case CommandJoinRoom:
		h.handleJoinRoom(c, cmd)
	case CommandLeaveRoom:
		h.handleLeaveRoom(c, cmd)
	case CommandSendRoomMessage:
		h.handleSendMessage(c, cmd)
	case CommandTyping:
		h.handleTyping(c, cmd)
	case CommandMarkRead:
		h.handleMarkRead(c, cmd)
	case CommandToggleReaction:
		h.handleToggleReaction(c, cmd)
	case CommandJoinCollabRoom:
		h.handleJoinCollabRoom(c, cmd)
	case CommandCollabOperation:
		h.handleCollabOperation(c, cmd)
	case CommandRequestEditLock:
		h.handleRequestEditLock(c, cmd)
	case CommandReleaseEditLock:
		h.handleReleaseEditLock(c, cmd)
	case CommandUpdatePresence:
		h.handleUpdatePresence(c, cmd)
	case CommandActivityChange:
		h.handleActivityChange(c, cmd)
	case CommandPing:
		h.handlePing(c, cmd)
	default:
		h.sendError(c, coreError(ErrCodeBadRequest, "unknown command"))
	}
}

// identity resolves who a command acts as. Payload ids win over the user_join identity, but
// an authenticated connection may only act as its own user.
func (h *Hub) identity(c *Client, cmd *Command) (string, string, *CoreError) {
	userID, userName := cmd.UserID, cmd.UserName
	if userID == "" {
		userID = c.userID
	}
	if userName == "" {
		userName = c.userName
	}
	if userID == "" {
		return "", "", coreError(ErrCodeBadRequest, "user id is required")
	}
	if c.authUserID != "" && userID != c.authUserID {
		return "", "", coreError(ErrCodeUnauthorized, "user id does not match token")
	}
	if userName == "" {
		userName = userID
	}
	return userID, userName, nil
}

func (h *Hub) handleDisconnect(c *Client) {
	now := h.now()

	for _, room := range h.sortedChatRooms() {
		for _, u := range room.removeClient(c, now) {
			h.broadcast(room.clients(nil), &Event{Kind: EventUserLeftRoom, Room: room.ID, Data: userPresence(u.UserID, u.UserName, now)})
		}
	}
	for _, room := range h.sortedCollabRooms() {
		for _, userID := range room.usersOf(c) {
			h.removeCollabParticipant(room, userID, now)
		}
	}

	delete(h.clients, c)
	close(c.gone)
	close(c.Events)
	h.log.Debug().Str("client_id", c.ID).Str("user_id", c.userID).Msg("client unregistered")
}

// send delivers ev to c unless c is gone or its buffer is full.
func (h *Hub) send(c *Client, ev *Event) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.Events <- ev:
	default:
		h.log.Warn().Str("client_id", c.ID).Int("kind", int(ev.Kind)).Msg("client too slow, dropping event")
	}
}

func (h *Hub) broadcast(clients []*Client, ev *Event) {
	for _, c := range clients {
		h.send(c, ev)
	}
}

func (h *Hub) sendError(c *Client, err *CoreError) {
	h.send(c, &Event{Kind: EventError, Error: err})
}

func (h *Hub) publish(roomID, event string, data any) {
	if err := h.relay.Publish(h.runCtx, roomID, event, data); err != nil {
		h.log.Warn().Err(err).Str("room_id", roomID).Str("event", event).Msg("relay publish failed")
	}
}

func (h *Hub) archive(msg chat.Message) {
	if h.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(h.runCtx, 2*time.Second)
	defer cancel()
	if err := h.store.SaveMessage(ctx, &msg); err != nil {
		h.log.Error().Err(err).Str("room_id", msg.RoomID).Msg("archive message failed")
	}
}

func (h *Hub) evictIdle(now time.Time) {
	for id, room := range h.chatRooms {
		if room.idle(now, h.cfg.IdleTTL) {
			delete(h.chatRooms, id)
			h.log.Debug().Str("room_id", id).Msg("evicted idle chat room")
		}
	}
	for id, room := range h.collabRooms {
		if room.idle(now, h.cfg.IdleTTL) {
			delete(h.collabRooms, id)
			h.log.Debug().Str("room_id", id).Msg("evicted idle collaborative room")
		}
	}
}

func (h *Hub) sortedChatRooms() []*ChatRoom {
	out := make([]*ChatRoom, 0, len(h.chatRooms))
	for _, r := range h.chatRooms {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *ChatRoom) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (h *Hub) sortedCollabRooms() []*CollabRoom {
	out := make([]*CollabRoom, 0, len(h.collabRooms))
	for _, r := range h.collabRooms {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *CollabRoom) int { return strings.Compare(a.ID, b.ID) })
	return out
}
