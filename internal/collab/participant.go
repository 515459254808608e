package collab

import "time"

// Cursor is a participant's pointer position.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Selection is a selected text range.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Presence is the ephemeral cursor and selection data a participant shares.
type Presence struct {
	Cursor    *Cursor    `json:"cursor,omitempty"`
	Selection *Selection `json:"selection,omitempty"`
}

// Participant is a member of a collaborative room.
type Participant struct {
	UserID       string     `json:"userId"`
	UserName     string     `json:"userName"`
	IsActive     bool       `json:"isActive"`
	Cursor       *Cursor    `json:"cursor,omitempty"`
	Selection    *Selection `json:"selection,omitempty"`
	LastActivity time.Time  `json:"lastActivity"`
}

// ApplyPresence merges the non-nil parts of p into the participant.
func (pt *Participant) ApplyPresence(p Presence, at time.Time) {
	if p.Cursor != nil {
		c := *p.Cursor
		pt.Cursor = &c
	}
	if p.Selection != nil {
		s := *p.Selection
		pt.Selection = &s
	}
	pt.LastActivity = at
}

// Clone returns a copy that shares no pointers with pt.
func (pt Participant) Clone() Participant {
	if pt.Cursor != nil {
		c := *pt.Cursor
		pt.Cursor = &c
	}
	if pt.Selection != nil {
		s := *pt.Selection
		pt.Selection = &s
	}
	return pt
}

// ActiveEditor describes who holds the edit lock on a field.
type ActiveEditor struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	StartedAt time.Time `json:"startedAt"`
}
