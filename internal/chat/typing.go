package chat

import (
	"slices"
	"strings"
	"time"
)

// TypingUser is an ephemeral typing indicator for one user.
type TypingUser struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	IsTyping  bool      `json:"isTyping"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingSet holds at most one entry per user. A stop always removes the user; a start older
// than the user's last stop is ignored so reordered events cannot resurrect an indicator.
// The zero value is ready to use. Not safe for concurrent use.
type TypingSet struct {
	users     map[string]TypingUser
	stoppedAt map[string]time.Time
}

// Apply records a typing update and reports whether the visible set changed.
func (s *TypingSet) Apply(u TypingUser) bool {
	if s.users == nil {
		s.users = make(map[string]TypingUser)
		s.stoppedAt = make(map[string]time.Time)
	}

	if !u.IsTyping {
		if last, ok := s.stoppedAt[u.UserID]; !ok || u.Timestamp.After(last) {
			s.stoppedAt[u.UserID] = u.Timestamp
		}
		_, existed := s.users[u.UserID]
		delete(s.users, u.UserID)
		return existed
	}

	if last, ok := s.stoppedAt[u.UserID]; ok && !u.Timestamp.After(last) {
		return false
	}
	s.users[u.UserID] = u
	return true
}

// Remove drops the user's entry without recording a stop.
func (s *TypingSet) Remove(userID string) bool {
	if _, ok := s.users[userID]; !ok {
		return false
	}
	delete(s.users, userID)
	return true
}

// Reset clears the set.
func (s *TypingSet) Reset() {
	s.users = nil
	s.stoppedAt = nil
}

// Len returns the number of users currently typing.
func (s *TypingSet) Len() int {
	return len(s.users)
}

// List returns the typing users ordered by name, then id.
func (s *TypingSet) List() []TypingUser {
	out := make([]TypingUser, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b TypingUser) int {
		if c := strings.Compare(a.UserName, b.UserName); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return out
}
