package core

import (
	"testing"

	"github.com/vovakirdan/wiresync/internal/collab"
	"github.com/vovakirdan/wiresync/internal/proto"
)

func joinCollab(t *testing.T, c *Client, room string) proto.StateSyncData {
	t.Helper()
	c.Commands <- &Command{Kind: CommandJoinCollabRoom, Room: room}
	return mustEvent(t, c.Events, EventStateSync).Data.(proto.StateSyncData)
}

func TestHubCollabJoinSyncsState(t *testing.T) {
	hub := startHub(t, HubConfig{SyncHistory: 2})
	alice := connect(t, hub, "a", "alice", "Alice")

	sync := joinCollab(t, alice, "board")
	if sync.RoomID != "board" || len(sync.SharedState.Tasks) != 0 || len(sync.Participants) != 1 {
		t.Fatalf("unexpected initial sync: %+v", sync)
	}

	for _, id := range []string{"t1", "t2", "t3"} {
		alice.Commands <- &Command{Kind: CommandCollabOperation, Room: "board", Operation: collab.NewAddTask("alice", id, collab.Task{collab.FieldTitle: id})}
		mustEvent(t, alice.Events, EventOperationApplied)
	}

	bob := connect(t, hub, "b", "bob", "Bob")
	sync = joinCollab(t, bob, "board")
	if len(sync.SharedState.Tasks) != 3 {
		t.Fatalf("late joiner sees %d tasks, want 3", len(sync.SharedState.Tasks))
	}
	if len(sync.OperationHistory) != 2 || sync.OperationHistory[1].ID != 3 {
		t.Fatalf("unexpected history: %+v", sync.OperationHistory)
	}

	joined := mustEvent(t, alice.Events, EventParticipantJoined).Data.(proto.UserPresenceData)
	if joined.UserID != "bob" {
		t.Fatalf("unexpected participant_joined: %+v", joined)
	}
	ps := mustEvent(t, alice.Events, EventParticipantsUpdated).Data.(proto.ParticipantsData)
	if len(ps.Participants) != 2 {
		t.Fatalf("unexpected participants: %+v", ps)
	}
}

func TestHubCollabOperationEchoedToAll(t *testing.T) {
	hub := startHub(t, HubConfig{})
	alice := connect(t, hub, "a", "alice", "Alice")
	bob := connect(t, hub, "b", "bob", "Bob")
	joinCollab(t, alice, "board")
	joinCollab(t, bob, "board")

	op := collab.NewAddTask("alice", "t1", collab.Task{collab.FieldTitle: "write tests", collab.FieldSyncStatus: "pending"})
	op.ClientID = "op-1"
	alice.Commands <- &Command{Kind: CommandCollabOperation, Room: "board", Operation: op}

	for _, c := range []*Client{alice, bob} {
		applied := mustEvent(t, c.Events, EventOperationApplied).Data.(proto.OperationAppliedData)
		if applied.Operation.ID != 1 || applied.Operation.ClientID != "op-1" || applied.Operation.Timestamp.IsZero() {
			t.Fatalf("operation not stamped: %+v", applied.Operation)
		}
		task, ok := applied.SharedState.Task("t1")
		if !ok || task.Title() != "write tests" || task.LastModifiedBy() != "alice" {
			t.Fatalf("unexpected task: %+v", task)
		}
		if _, has := task[collab.FieldSyncStatus]; has {
			t.Fatal("syncStatus must not reach the shared state")
		}
	}
}

func TestHubCollabOperationErrors(t *testing.T) {
	hub := startHub(t, HubConfig{})
	alice := connect(t, hub, "a", "alice", "Alice")

	op := collab.NewDeleteTask("alice", "t1")
	op.ClientID = "op-1"
	alice.Commands <- &Command{Kind: CommandCollabOperation, Room: "ghost", Operation: op}
	ev := mustEvent(t, alice.Events, EventOperationError)
	if data := ev.Data.(proto.ErrorData); data.Code != ErrCodeRoomNotFound || data.ClientID != "op-1" {
		t.Fatalf("unexpected operation_error: %+v", data)
	}

	joinCollab(t, alice, "board")
	bad := collab.Operation{Type: "MOVE_TASK", ClientID: "op-2"}
	alice.Commands <- &Command{Kind: CommandCollabOperation, Room: "board", Operation: bad}
	ev = mustEvent(t, alice.Events, EventOperationError)
	if data := ev.Data.(proto.ErrorData); data.Code != ErrCodeBadRequest || data.ClientID != "op-2" {
		t.Fatalf("unexpected operation_error: %+v", data)
	}
}

func TestHubEditLockFlow(t *testing.T) {
	hub := startHub(t, HubConfig{})
	alice := connect(t, hub, "a", "alice", "Alice")
	bob := connect(t, hub, "b", "bob", "Bob")
	joinCollab(t, alice, "board")
	joinCollab(t, bob, "board")

	alice.Commands <- &Command{Kind: CommandRequestEditLock, Room: "board", Field: "tasks.t1.title"}
	resp := mustEvent(t, alice.Events, EventEditLockResponse).Data.(proto.EditLockResponseData)
	if !resp.Success || resp.CurrentEditor != "alice" {
		t.Fatalf("alice should hold the lock: %+v", resp)
	}
	locked := mustEvent(t, bob.Events, EventFieldLocked).Data.(proto.FieldLockData)
	if locked.UserID != "alice" || locked.UserName != "Alice" {
		t.Fatalf("unexpected field_locked: %+v", locked)
	}

	bob.Commands <- &Command{Kind: CommandRequestEditLock, Room: "board", Field: "tasks.t1.title"}
	resp = mustEvent(t, bob.Events, EventEditLockResponse).Data.(proto.EditLockResponseData)
	if resp.Success || resp.CurrentEditor != "alice" {
		t.Fatalf("bob should be refused: %+v", resp)
	}

	alice.Commands <- &Command{Kind: CommandReleaseEditLock, Room: "board", Field: "tasks.t1.title"}
	unlocked := mustEvent(t, bob.Events, EventFieldUnlocked).Data.(proto.FieldLockData)
	if unlocked.Field != "tasks.t1.title" {
		t.Fatalf("unexpected field_unlocked: %+v", unlocked)
	}
}

func TestHubDisconnectReleasesLocks(t *testing.T) {
	hub := startHub(t, HubConfig{})
	alice := connect(t, hub, "a", "alice", "Alice")
	bob := connect(t, hub, "b", "bob", "Bob")
	joinCollab(t, alice, "board")
	joinCollab(t, bob, "board")

	alice.Commands <- &Command{Kind: CommandRequestEditLock, Room: "board", Field: "title"}
	mustEvent(t, bob.Events, EventFieldLocked)

	hub.UnregisterClient(alice)

	left := mustEvent(t, bob.Events, EventParticipantLeft).Data.(proto.UserPresenceData)
	if left.UserID != "alice" {
		t.Fatalf("unexpected participant_left: %+v", left)
	}
	mustEvent(t, bob.Events, EventFieldUnlocked)
	mustEvent(t, bob.Events, EventUserFieldsUnlocked)

	bob.Commands <- &Command{Kind: CommandRequestEditLock, Room: "board", Field: "title"}
	resp := mustEvent(t, bob.Events, EventEditLockResponse).Data.(proto.EditLockResponseData)
	if !resp.Success {
		t.Fatalf("bob should get the released lock: %+v", resp)
	}
}

func TestHubPresenceBroadcast(t *testing.T) {
	hub := startHub(t, HubConfig{})
	alice := connect(t, hub, "a", "alice", "Alice")
	bob := connect(t, hub, "b", "bob", "Bob")
	joinCollab(t, alice, "board")
	joinCollab(t, bob, "board")

	alice.Commands <- &Command{Kind: CommandUpdatePresence, Room: "board", Presence: collab.Presence{Selection: &collab.Selection{Start: 1, End: 4}}}
	p := mustEvent(t, bob.Events, EventPresenceUpdated).Data.(proto.PresenceUpdatedData)
	if p.UserID != "alice" || p.PresenceData.Selection == nil || p.PresenceData.Selection.End != 4 {
		t.Fatalf("unexpected presence: %+v", p)
	}

	alice.Commands <- &Command{Kind: CommandActivityChange, Room: "board", Active: false}
	a := mustEvent(t, bob.Events, EventActivityUpdated).Data.(proto.ActivityUpdatedData)
	if a.UserID != "alice" || a.IsActive {
		t.Fatalf("unexpected activity: %+v", a)
	}
}
