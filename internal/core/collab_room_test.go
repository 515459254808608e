package core

import (
	"testing"
	"time"

	"github.com/vovakirdan/wiresync/internal/collab"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCollabRoomStampsOperationsInOrder(t *testing.T) {
	room := NewCollabRoom("r", 3, base)

	for i := range 5 {
		op := collab.NewSetValue("u1", "title", i)
		op.ID = 999
		applied, err := room.ApplyOperation(op, base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if applied.ID != int64(i+1) {
			t.Fatalf("op %d stamped with id %d", i, applied.ID)
		}
		if !applied.Timestamp.Equal(base.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("op %d stamped with %v", i, applied.Timestamp)
		}
	}

	history := room.History(10)
	if len(history) != 3 || history[0].ID != 3 || history[2].ID != 5 {
		t.Fatalf("history not bounded to the newest 3: %+v", history)
	}
	if got, ok := room.State().Get("title"); !ok || got != 4 {
		t.Fatalf("title = %v, want 4", got)
	}
}

func TestCollabRoomRejectsInvalidOperation(t *testing.T) {
	room := NewCollabRoom("r", 10, base)

	if _, err := room.ApplyOperation(collab.Operation{Type: "MOVE_TASK"}, base); err == nil {
		t.Fatal("expected error for unknown operation type")
	}
	if _, err := room.ApplyOperation(collab.NewUpdateTask("u1", "", nil), base); err == nil {
		t.Fatal("expected error for update without task id")
	}
	if len(room.History(10)) != 0 {
		t.Fatal("rejected operations must not enter history")
	}
}

func TestCollabRoomStateIsACopy(t *testing.T) {
	room := NewCollabRoom("r", 10, base)
	if _, err := room.ApplyOperation(collab.NewAddTask("u1", "t1", collab.Task{collab.FieldTitle: "a"}), base); err != nil {
		t.Fatal(err)
	}

	snap := room.State()
	snap.Tasks["t1"][collab.FieldTitle] = "mutated"

	task, ok := room.State().Task("t1")
	if !ok || task.Title() != "a" {
		t.Fatalf("room state changed through a snapshot: %+v", task)
	}
}

func TestCollabRoomEditLocks(t *testing.T) {
	room := NewCollabRoom("r", 10, base)
	room.AddParticipant(NewClient("a", ""), "alice", "Alice", base)
	room.AddParticipant(NewClient("b", ""), "bob", "Bob", base)

	if ok, holder := room.StartEditing("alice", "title", base); !ok || holder != "alice" {
		t.Fatalf("alice should get the lock, got %v %q", ok, holder)
	}
	if ok, _ := room.StartEditing("alice", "title", base); !ok {
		t.Fatal("re-requesting an owned lock must succeed")
	}
	if ok, holder := room.StartEditing("bob", "title", base); ok || holder != "alice" {
		t.Fatalf("bob should be refused with holder alice, got %v %q", ok, holder)
	}
	if room.StopEditing("bob", "title") {
		t.Fatal("bob must not release alice's lock")
	}
	if ed := room.ActiveEditors()["title"]; ed.UserID != "alice" || ed.UserName != "Alice" {
		t.Fatalf("unexpected editor: %+v", ed)
	}
	if !room.StopEditing("alice", "title") {
		t.Fatal("alice should release her lock")
	}
	if ok, _ := room.StartEditing("bob", "title", base); !ok {
		t.Fatal("bob should get the released lock")
	}
}

func TestCollabRoomRemoveParticipantReleasesLocks(t *testing.T) {
	room := NewCollabRoom("r", 10, base)
	room.AddParticipant(NewClient("a", ""), "alice", "Alice", base)
	room.StartEditing("alice", "title", base)
	room.StartEditing("alice", "notes", base)

	p, released, ok := room.RemoveParticipant("alice", base)
	if !ok || p.UserID != "alice" {
		t.Fatalf("remove: %+v %v", p, ok)
	}
	if len(released) != 2 {
		t.Fatalf("released = %v, want two fields", released)
	}
	if len(room.ActiveEditors()) != 0 {
		t.Fatal("locks survived participant removal")
	}
	if _, _, ok := room.RemoveParticipant("alice", base); ok {
		t.Fatal("second removal should report false")
	}
}

func TestCollabRoomPresenceAndActivity(t *testing.T) {
	room := NewCollabRoom("r", 10, base)
	room.AddParticipant(NewClient("a", ""), "alice", "Alice", base)

	later := base.Add(time.Minute)
	if !room.UpdatePresence("alice", collab.Presence{Cursor: &collab.Cursor{X: 3, Y: 4}}, later) {
		t.Fatal("presence update for a participant should succeed")
	}
	if room.UpdatePresence("ghost", collab.Presence{}, later) {
		t.Fatal("presence update for a stranger should fail")
	}
	if !room.SetActive("alice", false, later) {
		t.Fatal("activity change should succeed")
	}

	ps := room.Participants()
	if len(ps) != 1 || ps[0].Cursor == nil || ps[0].Cursor.X != 3 || ps[0].IsActive || !ps[0].LastActivity.Equal(later) {
		t.Fatalf("unexpected participant: %+v", ps)
	}
}
