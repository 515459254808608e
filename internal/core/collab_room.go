package core

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vovakirdan/wiresync/internal/collab"
)

type collabMember struct {
	participant collab.Participant
	client      *Client
}

type editLock struct {
	userID string
	since  time.Time
}

// CollabRoom holds the authoritative shared state of one collaborative room.
// It is owned by the hub goroutine.
type CollabRoom struct {
	ID string

	state        *collab.State
	members      map[string]*collabMember
	editors      map[string]editLock
	history      []collab.Operation
	historyLimit int
	lastOpID     int64
	lastActivity time.Time
}

// NewCollabRoom creates an empty room keeping at most historyLimit operations.
func NewCollabRoom(id string, historyLimit int, now time.Time) *CollabRoom {
	return &CollabRoom{
		ID:           id,
		state:        collab.NewState(),
		members:      make(map[string]*collabMember),
		editors:      make(map[string]editLock),
		historyLimit: historyLimit,
		lastActivity: now,
	}
}

// AddParticipant adds or refreshes a participant bound to c.
func (r *CollabRoom) AddParticipant(c *Client, userID, userName string, now time.Time) collab.Participant {
	r.lastActivity = now
	if m, ok := r.members[userID]; ok {
		m.client = c
		m.participant.UserName = userName
		m.participant.IsActive = true
		m.participant.LastActivity = now
		return m.participant.Clone()
	}
	p := collab.Participant{UserID: userID, UserName: userName, IsActive: true, LastActivity: now}
	r.members[userID] = &collabMember{participant: p, client: c}
	return p.Clone()
}

// RemoveParticipant drops the participant and releases every lock they held.
// It returns the released fields in sorted order.
func (r *CollabRoom) RemoveParticipant(userID string, now time.Time) (collab.Participant, []string, bool) {
	m, ok := r.members[userID]
	if !ok {
		return collab.Participant{}, nil, false
	}
	delete(r.members, userID)
	r.lastActivity = now

	var released []string
	for field, lock := range r.editors {
		if lock.userID == userID {
			released = append(released, field)
			delete(r.editors, field)
		}
	}
	slices.Sort(released)
	return m.participant, released, true
}

// ApplyOperation stamps op with the next id and now, applies it to the shared state and
// records it in the bounded history. It is the only mutation path for the state.
func (r *CollabRoom) ApplyOperation(op collab.Operation, now time.Time) (collab.Operation, error) {
	op = op.Sanitized()
	if err := op.Validate(); err != nil {
		return collab.Operation{}, err
	}

	r.lastOpID++
	op.ID = r.lastOpID
	op.Timestamp = now
	if err := collab.Apply(r.state, op, now); err != nil {
		return collab.Operation{}, fmt.Errorf("apply operation %d: %w", op.ID, err)
	}

	r.history = append(r.history, op)
	if r.historyLimit > 0 && len(r.history) > r.historyLimit {
		r.history = slices.Delete(r.history, 0, len(r.history)-r.historyLimit)
	}
	r.lastActivity = now
	return op.Clone(), nil
}

// StartEditing grants the field's lock to userID if it is free or already theirs.
// On refusal it reports the current holder.
func (r *CollabRoom) StartEditing(userID, field string, now time.Time) (bool, string) {
	if lock, held := r.editors[field]; held && lock.userID != userID {
		return false, lock.userID
	}
	if _, held := r.editors[field]; !held {
		r.editors[field] = editLock{userID: userID, since: now}
	}
	return true, userID
}

// StopEditing releases the field's lock if userID holds it.
func (r *CollabRoom) StopEditing(userID, field string) bool {
	lock, held := r.editors[field]
	if !held || lock.userID != userID {
		return false
	}
	delete(r.editors, field)
	return true
}

// UpdatePresence merges presence data into the participant's record.
func (r *CollabRoom) UpdatePresence(userID string, p collab.Presence, now time.Time) bool {
	m, ok := r.members[userID]
	if !ok {
		return false
	}
	m.participant.ApplyPresence(p, now)
	return true
}

// SetActive updates the participant's active flag.
func (r *CollabRoom) SetActive(userID string, active bool, now time.Time) bool {
	m, ok := r.members[userID]
	if !ok {
		return false
	}
	m.participant.IsActive = active
	m.participant.LastActivity = now
	return true
}

// State returns a copy of the shared state.
func (r *CollabRoom) State() *collab.State {
	return r.state.Clone()
}

// History returns copies of the last n operations, oldest first.
func (r *CollabRoom) History(n int) []collab.Operation {
	start := max(len(r.history)-n, 0)
	out := make([]collab.Operation, 0, len(r.history)-start)
	for _, op := range r.history[start:] {
		out = append(out, op.Clone())
	}
	return out
}

// Participants returns copies of all participants ordered by user id.
func (r *CollabRoom) Participants() []collab.Participant {
	out := make([]collab.Participant, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.participant.Clone())
	}
	slices.SortFunc(out, func(a, b collab.Participant) int { return strings.Compare(a.UserID, b.UserID) })
	return out
}

// ActiveEditors maps each locked field to its holder.
func (r *CollabRoom) ActiveEditors() map[string]collab.ActiveEditor {
	out := make(map[string]collab.ActiveEditor, len(r.editors))
	for field, lock := range r.editors {
		ed := collab.ActiveEditor{UserID: lock.userID, StartedAt: lock.since}
		if m, ok := r.members[lock.userID]; ok {
			ed.UserName = m.participant.UserName
		}
		out[field] = ed
	}
	return out
}

func (r *CollabRoom) participantName(userID string) string {
	if m, ok := r.members[userID]; ok {
		return m.participant.UserName
	}
	return ""
}

// usersOf returns the user ids bound to c, sorted.
func (r *CollabRoom) usersOf(c *Client) []string {
	var out []string
	for id, m := range r.members {
		if m.client == c {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (r *CollabRoom) clients(except *Client) []*Client {
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

func (r *CollabRoom) idle(now time.Time, ttl time.Duration) bool {
	return len(r.members) == 0 && now.Sub(r.lastActivity) >= ttl
}
