package core

import (
	"slices"
	"strings"
	"time"

	"github.com/vovakirdan/wiresync/internal/chat"
)

type chatMember struct {
	user   chat.User
	client *Client
}

// ChatRoom holds the members, bounded message log and typing set of one chat room.
// It is owned by the hub goroutine.
type ChatRoom struct {
	ID string

	members      map[string]*chatMember
	messages     []chat.Message
	typing       map[string]struct{}
	maxMessages  int
	lastActivity time.Time
}

func newChatRoom(id string, maxMessages int, now time.Time) *ChatRoom {
	return &ChatRoom{
		ID:           id,
		members:      make(map[string]*chatMember),
		typing:       make(map[string]struct{}),
		maxMessages:  maxMessages,
		lastActivity: now,
	}
}

// join adds or refreshes a member. A user re-joining from a new connection moves to it.
func (r *ChatRoom) join(c *Client, userID, userName string, now time.Time) chat.User {
	r.lastActivity = now
	if m, ok := r.members[userID]; ok {
		m.client = c
		m.user.UserName = userName
		m.user.IsOnline = true
		return m.user
	}
	u := chat.User{UserID: userID, UserName: userName, IsOnline: true, JoinedAt: now}
	r.members[userID] = &chatMember{user: u, client: c}
	return u
}

func (r *ChatRoom) leave(userID string, now time.Time) (chat.User, bool) {
	m, ok := r.members[userID]
	if !ok {
		return chat.User{}, false
	}
	delete(r.members, userID)
	delete(r.typing, userID)
	r.lastActivity = now
	return m.user, true
}

// removeClient drops every member bound to c.
func (r *ChatRoom) removeClient(c *Client, now time.Time) []chat.User {
	var out []chat.User
	for id, m := range r.members {
		if m.client == c {
			out = append(out, m.user)
			delete(r.members, id)
			delete(r.typing, id)
		}
	}
	if len(out) > 0 {
		r.lastActivity = now
	}
	slices.SortFunc(out, func(a, b chat.User) int { return strings.Compare(a.UserID, b.UserID) })
	return out
}

func (r *ChatRoom) hasClient(c *Client) bool {
	for _, m := range r.members {
		if m.client == c {
			return true
		}
	}
	return false
}

// append adds a message to the log, evicting the oldest beyond the bound.
func (r *ChatRoom) append(msg chat.Message) {
	r.messages = append(r.messages, msg)
	if r.maxMessages > 0 && len(r.messages) > r.maxMessages {
		drop := len(r.messages) - r.maxMessages
		r.messages = slices.Delete(r.messages, 0, drop)
	}
	r.lastActivity = msg.Timestamp
}

// recent returns copies of the last n messages, oldest first.
func (r *ChatRoom) recent(n int) []chat.Message {
	start := max(len(r.messages)-n, 0)
	out := make([]chat.Message, 0, len(r.messages)-start)
	for _, m := range r.messages[start:] {
		out = append(out, m.Clone())
	}
	return out
}

// page returns copies of one page, most recent first, and whether older messages remain.
func (r *ChatRoom) page(limit, offset int) ([]chat.Message, bool) {
	total := len(r.messages)
	out := make([]chat.Message, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.messages[i].Clone())
	}
	return out, offset+limit < total
}

func (r *ChatRoom) setTyping(userID string, typing bool) {
	if typing {
		r.typing[userID] = struct{}{}
		return
	}
	delete(r.typing, userID)
}

func (r *ChatRoom) markRead(ids []string, userID string) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range r.messages {
		if _, ok := want[r.messages[i].ID]; ok {
			r.messages[i].MarkReadBy(userID)
		}
	}
}

func (r *ChatRoom) toggleReaction(messageID, userID, emoji string) (chat.Message, bool) {
	for i := range r.messages {
		if r.messages[i].ID == messageID {
			r.messages[i].ToggleReaction(emoji, userID)
			return r.messages[i].Clone(), true
		}
	}
	return chat.Message{}, false
}

func (r *ChatRoom) participants() []chat.User {
	out := make([]chat.User, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.user)
	}
	slices.SortFunc(out, func(a, b chat.User) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return out
}

// clients returns the distinct member connections, excluding except.
func (r *ChatRoom) clients(except *Client) []*Client {
	seen := make(map[*Client]struct{}, len(r.members))
	out := make([]*Client, 0, len(r.members))
	for _, m := range r.members {
		if m.client == except {
			continue
		}
		if _, ok := seen[m.client]; ok {
			continue
		}
		seen[m.client] = struct{}{}
		out = append(out, m.client)
	}
	return out
}

func (r *ChatRoom) idle(now time.Time, ttl time.Duration) bool {
	return len(r.members) == 0 && now.Sub(r.lastActivity) >= ttl
}
