package collab

import "time"

// Apply mutates s according to op. Task mutations stamp lastModifiedBy and lastModifiedAt
// from the operation's author and at.
//
// Deletes leave a tombstone (deleted: true) instead of removing the record, so a late
// UPDATE_TASK for the same task is a no-op rather than a resurrection. Updates of unknown
// tasks are no-ops as well; ADD_TASK always writes the full record.
func Apply(s *State, op Operation, at time.Time) error {
	if err := op.Validate(); err != nil {
		return err
	}
	s.ensure()
	stamp := at.UTC().Format(time.RFC3339Nano)

	switch op.Type {
	case OpSetValue:
		s.SetPath(op.Path, cloneValue(op.Value))

	case OpUpdateTask:
		t, ok := s.Tasks[op.TaskID]
		if !ok || t.Deleted() {
			return nil
		}
		next := t.Clone()
		for k, v := range op.Updates {
			if k == FieldSyncStatus || k == FieldID {
				continue
			}
			next[k] = cloneValue(v)
		}
		next[FieldLastModifiedBy] = op.UserID
		next[FieldLastModifiedAt] = stamp
		s.Tasks[op.TaskID] = next

	case OpAddTask:
		next := op.Task.Clone()
		if next == nil {
			next = Task{}
		}
		delete(next, FieldSyncStatus)
		next[FieldID] = op.TaskID
		if _, ok := next[FieldLastModifiedBy]; !ok {
			next[FieldLastModifiedBy] = op.UserID
		}
		if _, ok := next[FieldLastModifiedAt]; !ok {
			next[FieldLastModifiedAt] = stamp
		}
		s.Tasks[op.TaskID] = next

	case OpDeleteTask:
		t, ok := s.Tasks[op.TaskID]
		if !ok {
			return nil
		}
		next := t.Clone()
		next[FieldDeleted] = true
		next[FieldLastModifiedBy] = op.UserID
		next[FieldLastModifiedAt] = stamp
		s.Tasks[op.TaskID] = next
	}
	return nil
}
