package collab

import (
	"errors"
	"fmt"
	"time"
)

// OpType names a shared-state mutation.
type OpType string

const (
	OpSetValue   OpType = "SET_VALUE"
	OpUpdateTask OpType = "UPDATE_TASK"
	OpAddTask    OpType = "ADD_TASK"
	OpDeleteTask OpType = "DELETE_TASK"
)

var (
	ErrUnknownOperation = errors.New("unknown operation type")
	ErrInvalidOperation = errors.New("invalid operation")
)

// Operation is a single mutation of a room's shared state.
//
// ID and Timestamp are zero until the server stamps the operation; ClientID is assigned by the
// originating client and used to match the server echo with the local pending copy.
type Operation struct {
	ID        int64          `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Type      OpType         `json:"type"`
	UserID    string         `json:"userId"`
	ClientID  string         `json:"clientId,omitempty"`
	Path      string         `json:"path,omitempty"`
	Value     any            `json:"value,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Task      Task           `json:"task,omitempty"`
	Updates   map[string]any `json:"updates,omitempty"`
}

// Validate checks that the operation carries the fields its type requires.
func (o Operation) Validate() error {
	switch o.Type {
	case OpSetValue:
		if o.Path == "" {
			return fmt.Errorf("%w: %s requires path", ErrInvalidOperation, o.Type)
		}
	case OpUpdateTask:
		if o.TaskID == "" {
			return fmt.Errorf("%w: %s requires taskId", ErrInvalidOperation, o.Type)
		}
		if len(o.Updates) == 0 {
			return fmt.Errorf("%w: %s requires updates", ErrInvalidOperation, o.Type)
		}
	case OpAddTask:
		if o.TaskID == "" {
			return fmt.Errorf("%w: %s requires taskId", ErrInvalidOperation, o.Type)
		}
	case OpDeleteTask:
		if o.TaskID == "" {
			return fmt.Errorf("%w: %s requires taskId", ErrInvalidOperation, o.Type)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, o.Type)
	}
	return nil
}

// Stamped reports whether the server has assigned the operation its id.
func (o Operation) Stamped() bool {
	return o.ID > 0
}

// Clone returns a deep copy of o.
func (o Operation) Clone() Operation {
	o.Value = cloneValue(o.Value)
	o.Task = o.Task.Clone()
	if o.Updates != nil {
		o.Updates = cloneMap(o.Updates)
	}
	return o
}

// Sanitized returns a copy without client-only fields, which never travel to the server's state.
func (o Operation) Sanitized() Operation {
	o = o.Clone()
	if o.Task != nil {
		delete(o.Task, FieldSyncStatus)
	}
	if o.Updates != nil {
		delete(o.Updates, FieldSyncStatus)
	}
	return o
}

// TouchesTask returns the task id the operation targets, if any.
func (o Operation) TouchesTask() (string, bool) {
	switch o.Type {
	case OpUpdateTask, OpAddTask, OpDeleteTask:
		return o.TaskID, o.TaskID != ""
	case OpSetValue:
		if id, ok := taskFromPath(o.Path); ok {
			return id, true
		}
	}
	return "", false
}

// NewSetValue builds a SET_VALUE operation.
func NewSetValue(userID, path string, value any) Operation {
	return Operation{Type: OpSetValue, UserID: userID, Path: path, Value: value}
}

// NewAddTask builds an ADD_TASK operation.
func NewAddTask(userID, taskID string, task Task) Operation {
	return Operation{Type: OpAddTask, UserID: userID, TaskID: taskID, Task: task}
}

// NewUpdateTask builds an UPDATE_TASK operation.
func NewUpdateTask(userID, taskID string, updates map[string]any) Operation {
	return Operation{Type: OpUpdateTask, UserID: userID, TaskID: taskID, Updates: updates}
}

// NewDeleteTask builds a DELETE_TASK operation.
func NewDeleteTask(userID, taskID string) Operation {
	return Operation{Type: OpDeleteTask, UserID: userID, TaskID: taskID}
}
