package collab

import "slices"

// Replica is a client's copy of a room's shared state: the last server-confirmed snapshot plus
// an ordered overlay of local operations the server has not echoed yet. The visible state is
// the snapshot with the overlay applied, annotated with each task's SyncStatus.
// Not safe for concurrent use.
type Replica struct {
	confirmed *State
	pending   []Operation
	failed    map[string]struct{}
	conflicts map[string]struct{}
}

// NewReplica returns an empty replica.
func NewReplica() *Replica {
	return &Replica{
		confirmed: NewState(),
		failed:    make(map[string]struct{}),
		conflicts: make(map[string]struct{}),
	}
}

// Local records an optimistic local operation. op must carry a ClientID.
func (r *Replica) Local(op Operation) {
	if id, ok := op.TouchesTask(); ok {
		delete(r.failed, id)
		delete(r.conflicts, id)
	}
	r.pending = append(r.pending, op.Sanitized())
}

// Confirm applies a server echo: state becomes the new snapshot. If the echo is one of ours
// its pending copy is dropped; otherwise any task it touched that still has local pending
// operations is flagged as conflicting.
func (r *Replica) Confirm(applied Operation, state *State) {
	if state != nil {
		r.confirmed = state.Clone()
	}
	if applied.ClientID != "" && r.removePending(applied.ClientID) {
		return
	}
	if id, ok := applied.TouchesTask(); ok && r.hasPendingFor(id) {
		r.conflicts[id] = struct{}{}
	}
}

// Sync replaces the snapshot after a (re)join and drops pending operations the history
// shows were already applied.
func (r *Replica) Sync(state *State, history []Operation) {
	r.confirmed = state.Clone()
	applied := make(map[string]struct{}, len(history))
	for _, op := range history {
		if op.ClientID != "" {
			applied[op.ClientID] = struct{}{}
		}
	}
	r.pending = slices.DeleteFunc(r.pending, func(op Operation) bool {
		_, ok := applied[op.ClientID]
		return ok
	})
}

// Reject drops a pending operation the server or the transport gave up on and marks its
// task as failed.
func (r *Replica) Reject(clientID string) bool {
	idx := slices.IndexFunc(r.pending, func(op Operation) bool { return op.ClientID == clientID })
	if idx < 0 {
		return false
	}
	op := r.pending[idx]
	r.pending = slices.Delete(r.pending, idx, idx+1)
	if id, ok := op.TouchesTask(); ok {
		r.failed[id] = struct{}{}
	}
	return true
}

// Pending returns copies of the operations awaiting confirmation, oldest first.
func (r *Replica) Pending() []Operation {
	out := make([]Operation, len(r.pending))
	for i, op := range r.pending {
		out[i] = op.Clone()
	}
	return out
}

// Confirmed returns a copy of the last server-confirmed snapshot.
func (r *Replica) Confirmed() *State {
	return r.confirmed.Clone()
}

// View returns the visible state.
func (r *Replica) View() *State {
	view := r.confirmed.Clone()
	pendingTasks := make(map[string]struct{})
	for _, op := range r.pending {
		_ = Apply(view, op, op.Timestamp)
		if id, ok := op.TouchesTask(); ok {
			pendingTasks[id] = struct{}{}
		}
	}
	for id, t := range view.Tasks {
		status := SyncSynced
		if _, ok := pendingTasks[id]; ok {
			status = SyncPending
		} else if _, ok := r.conflicts[id]; ok {
			status = SyncConflict
		} else if _, ok := r.failed[id]; ok {
			status = SyncFailed
		}
		t[FieldSyncStatus] = string(status)
	}
	return view
}

// Reset forgets everything.
func (r *Replica) Reset() {
	*r = *NewReplica()
}

func (r *Replica) removePending(clientID string) bool {
	n := len(r.pending)
	r.pending = slices.DeleteFunc(r.pending, func(op Operation) bool { return op.ClientID == clientID })
	return len(r.pending) != n
}

func (r *Replica) hasPendingFor(taskID string) bool {
	return slices.ContainsFunc(r.pending, func(op Operation) bool {
		id, ok := op.TouchesTask()
		return ok && id == taskID
	})
}
