package collab

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Task record field names.
const (
	FieldID             = "id"
	FieldTitle          = "title"
	FieldCompleted      = "completed"
	FieldDeleted        = "deleted"
	FieldLastModifiedBy = "lastModifiedBy"
	FieldLastModifiedAt = "lastModifiedAt"
	FieldSyncStatus     = "syncStatus"
)

const tasksKey = "tasks"

// SyncStatus is the client-side replication status of a task. It is never part of the
// server-held state.
type SyncStatus string

const (
	SyncSynced   SyncStatus = "synced"
	SyncPending  SyncStatus = "pending"
	SyncFailed   SyncStatus = "failed"
	SyncConflict SyncStatus = "conflict"
)

// Task is a free-form task record. Well-known fields have typed accessors.
type Task map[string]any

func (t Task) str(key string) string {
	s, _ := t[key].(string)
	return s
}

func (t Task) ID() string             { return t.str(FieldID) }
func (t Task) Title() string          { return t.str(FieldTitle) }
func (t Task) LastModifiedBy() string { return t.str(FieldLastModifiedBy) }

func (t Task) Completed() bool {
	b, _ := t[FieldCompleted].(bool)
	return b
}

// Deleted reports whether the task carries a tombstone.
func (t Task) Deleted() bool {
	b, _ := t[FieldDeleted].(bool)
	return b
}

func (t Task) SyncStatus() SyncStatus {
	return SyncStatus(t.str(FieldSyncStatus))
}

// LastModifiedAt parses the task's modification time; zero if absent or malformed.
func (t Task) LastModifiedAt() time.Time {
	ts, err := time.Parse(time.RFC3339Nano, t.str(FieldLastModifiedAt))
	if err != nil {
		return time.Time{}
	}
	return ts
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	if t == nil {
		return nil
	}
	return Task(cloneMap(t))
}

// State is the shared state of a collaborative room: a task map plus arbitrary other keys.
type State struct {
	Tasks  map[string]Task
	Values map[string]any
}

// NewState returns an empty state.
func NewState() *State {
	return &State{Tasks: make(map[string]Task), Values: make(map[string]any)}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return NewState()
	}
	out := &State{
		Tasks:  make(map[string]Task, len(s.Tasks)),
		Values: cloneMap(s.Values),
	}
	if out.Values == nil {
		out.Values = make(map[string]any)
	}
	for id, t := range s.Tasks {
		out.Tasks[id] = t.Clone()
	}
	return out
}

// Task returns the task with the given id, tombstones included.
func (s *State) Task(id string) (Task, bool) {
	t, ok := s.Tasks[id]
	return t, ok
}

// ActiveTasks returns the tasks that are not tombstoned.
func (s *State) ActiveTasks() map[string]Task {
	out := make(map[string]Task, len(s.Tasks))
	for id, t := range s.Tasks {
		if !t.Deleted() {
			out[id] = t
		}
	}
	return out
}

// TaskIDs returns the ids of active tasks in sorted order.
func (s *State) TaskIDs() []string {
	ids := make([]string, 0, len(s.Tasks))
	for id, t := range s.Tasks {
		if !t.Deleted() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Get resolves a dotted path. Paths starting with "tasks." address the task map.
func (s *State) Get(path string) (any, bool) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, false
	}
	if parts[0] == tasksKey {
		if len(parts) == 1 {
			return s.Tasks, true
		}
		t, ok := s.Tasks[parts[1]]
		if !ok {
			return nil, false
		}
		if len(parts) == 2 {
			return t, true
		}
		return lookup(t, parts[2:])
	}
	return lookup(s.Values, parts)
}

// SetPath assigns value at a dotted path, creating intermediate objects as needed.
func (s *State) SetPath(path string, value any) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return
	}
	s.ensure()

	if parts[0] != tasksKey {
		assign(s.Values, parts, value)
		return
	}

	switch len(parts) {
	case 1:
		tasks := make(map[string]Task)
		if m, ok := asMap(value); ok {
			for id, v := range m {
				if tm, ok := asMap(v); ok {
					tasks[id] = Task(tm)
				}
			}
		}
		s.Tasks = tasks
	case 2:
		if tm, ok := asMap(value); ok {
			s.Tasks[parts[1]] = Task(tm)
		} else {
			delete(s.Tasks, parts[1])
		}
	default:
		t := s.Tasks[parts[1]].Clone()
		if t == nil {
			t = Task{FieldID: parts[1]}
		}
		assign(t, parts[2:], value)
		s.Tasks[parts[1]] = t
	}
}

func (s *State) ensure() {
	if s.Tasks == nil {
		s.Tasks = make(map[string]Task)
	}
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
}

// MarshalJSON encodes the state as a single object with the task map under "tasks".
func (s *State) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(s.Values)+1)
	for k, v := range s.Values {
		obj[k] = v
	}
	tasks := s.Tasks
	if tasks == nil {
		tasks = map[string]Task{}
	}
	obj[tasksKey] = tasks
	return json.Marshal(obj)
}

func (s *State) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.Tasks = make(map[string]Task)
	s.Values = make(map[string]any, len(obj))
	for k, v := range obj {
		if k != tasksKey {
			s.Values[k] = v
			continue
		}
		if m, ok := v.(map[string]any); ok {
			for id, raw := range m {
				if tm, ok := raw.(map[string]any); ok {
					s.Tasks[id] = Task(tm)
				}
			}
		}
	}
	return nil
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func taskFromPath(path string) (string, bool) {
	parts := splitPath(path)
	if len(parts) >= 2 && parts[0] == tasksKey {
		return parts[1], true
	}
	return "", false
}

func lookup(m map[string]any, parts []string) (any, bool) {
	var cur any = m
	for _, p := range parts {
		next, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = next[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func assign(m map[string]any, parts []string, value any) {
	cur := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := asMap(cur[p])
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Task:
		return m, true
	}
	return nil, false
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case Task:
		return x.Clone()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
