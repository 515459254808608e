package chat

import (
	"slices"
	"time"
)

// SameLogical reports whether a and b describe the same logical message: the id or temporary id
// of one matches the id or temporary id of the other.
func SameLogical(a, b Message) bool {
	return match(a.ID, b.ID) || match(a.ID, b.TempID) || match(a.TempID, b.ID) || match(a.TempID, b.TempID)
}

func match(x, y string) bool {
	return x != "" && x == y
}

// Merge folds incoming into list and returns the new, timestamp-sorted list.
// Every record that is the same logical message as incoming collapses into a single entry,
// keeping the fields of the server-confirmed version when there is one.
// The input slice is not modified.
func Merge(list []Message, incoming Message) []Message {
	merged := incoming
	out := make([]Message, 0, len(list)+1)
	for _, m := range list {
		if SameLogical(m, incoming) {
			merged = prefer(m, merged)
			continue
		}
		out = append(out, m)
	}
	out = append(out, normalize(merged))
	Sort(out)
	return out
}

// MergeAll folds every incoming message into list.
func MergeAll(list []Message, incoming []Message) []Message {
	for _, m := range incoming {
		list = Merge(list, m)
	}
	return list
}

// ConfirmDelivery applies a delivery confirmation for tempID. The pending record takes the
// server-issued messageID and timestamp, is marked delivered and loses its temporary id.
// Returns the new list and whether anything changed; a confirmation for a message that is no
// longer present is a no-op.
func ConfirmDelivery(list []Message, tempID, messageID string, ts time.Time) ([]Message, bool) {
	if tempID == "" || messageID == "" {
		return list, false
	}

	idx := slices.IndexFunc(list, func(m Message) bool { return m.TempID == tempID })
	if idx < 0 {
		// The broadcast already reconciled it.
		idx = slices.IndexFunc(list, func(m Message) bool { return m.ID == messageID })
		if idx < 0 || list[idx].Delivered {
			return list, false
		}
		out := slices.Clone(list)
		out[idx].Delivered = true
		return out, true
	}

	final := list[idx]
	final.ID = messageID
	final.TempID = ""
	final.Delivered = true
	if !ts.IsZero() {
		final.Timestamp = ts
	}

	out := make([]Message, 0, len(list))
	for _, m := range list {
		if m.TempID == tempID || m.ID == tempID {
			continue
		}
		if m.ID == messageID {
			final = prefer(m, final)
			continue
		}
		out = append(out, m)
	}
	out = append(out, normalize(final))
	Sort(out)
	return out, true
}

// Sort orders messages ascending by timestamp, keeping arrival order for equal timestamps.
func Sort(list []Message) {
	slices.SortStableFunc(list, func(a, b Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

// IsSorted reports whether list is ascending by timestamp.
func IsSorted(list []Message) bool {
	return slices.IsSortedFunc(list, func(a, b Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

// prefer picks the more authoritative of two versions of the same logical message.
func prefer(existing, incoming Message) Message {
	winner, other := incoming, existing
	if existing.Confirmed() && !incoming.Confirmed() {
		winner, other = existing, incoming
	}
	winner.Read = winner.Read || other.Read
	if winner.Reactions == nil {
		winner.Reactions = other.Reactions
	}
	return winner
}

func normalize(m Message) Message {
	if m.Confirmed() {
		m.TempID = ""
		m.Delivered = true
	}
	return m
}
