package chat

import "time"

// MessageType classifies a chat message.
type MessageType string

const (
	TypeText   MessageType = "text"
	TypeSystem MessageType = "system"
	TypeTyping MessageType = "typing"
)

// Message is a chat message as kept in memory, persisted locally and sent over the wire.
//
// A message created optimistically on the client carries the same value in ID and TempID until
// the server confirms it; from then on ID holds the server-issued id and TempID is empty.
type Message struct {
	ID        string              `json:"id"`
	TempID    string              `json:"tempId,omitempty"`
	RoomID    string              `json:"roomId"`
	UserID    string              `json:"userId"`
	UserName  string              `json:"userName"`
	Text      string              `json:"text"`
	Timestamp time.Time           `json:"timestamp"`
	Delivered bool                `json:"delivered"`
	Read      bool                `json:"read"`
	Type      MessageType         `json:"type"`
	Reactions map[string][]string `json:"reactions,omitempty"`
	ReadBy    []string            `json:"readBy,omitempty"`
}

// Confirmed reports whether the message carries a server-issued id.
func (m Message) Confirmed() bool {
	return m.ID != "" && m.ID != m.TempID
}

// Pending reports whether the message is still waiting for a delivery confirmation.
func (m Message) Pending() bool {
	return m.TempID != "" && !m.Delivered
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	if m.Reactions != nil {
		reactions := make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			reactions[emoji] = append([]string(nil), users...)
		}
		m.Reactions = reactions
	}
	if m.ReadBy != nil {
		m.ReadBy = append([]string(nil), m.ReadBy...)
	}
	return m
}

// ToggleReaction adds userID to the emoji's reaction list, or removes it if already present.
// Empty lists are removed from the map.
func (m *Message) ToggleReaction(emoji, userID string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	users := m.Reactions[emoji]
	for i, id := range users {
		if id == userID {
			users = append(users[:i:i], users[i+1:]...)
			if len(users) == 0 {
				delete(m.Reactions, emoji)
			} else {
				m.Reactions[emoji] = users
			}
			return
		}
	}
	m.Reactions[emoji] = append(users, userID)
}

// MarkReadBy records that userID has read the message. Returns false if already recorded.
func (m *Message) MarkReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return false
		}
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

// User is a chat participant.
type User struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	IsOnline bool      `json:"isOnline"`
	JoinedAt time.Time `json:"joinedAt"`
}
