package client

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/wiresync/internal/collab"
	"github.com/vovakirdan/wiresync/internal/proto"
)

type collabHarness struct {
	mgr   *Manager
	tr    *fakeTransport
	sched *fakeScheduler
	s     *CollabSession
	// server holds what the server would have applied so far.
	server *collab.State
	nextID int64
}

func newCollabHarness(t *testing.T, opts Options) *collabHarness {
	t.Helper()
	mgr, tr, sched := newTestManager(t, opts)
	opts.Scheduler = sched
	s := NewCollabSession(mgr, opts, nil)
	t.Cleanup(s.Stop)
	if err := s.Initialize("u1", "alice", "board"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	tr.open()
	return &collabHarness{mgr: mgr, tr: tr, sched: sched, s: s, server: collab.NewState()}
}

// apply stamps op as the server would and broadcasts the result.
func (h *collabHarness) apply(t *testing.T, op collab.Operation) {
	t.Helper()
	h.nextID++
	op.ID = h.nextID
	op.Timestamp = h.sched.Now()
	if err := collab.Apply(h.server, op, op.Timestamp); err != nil {
		t.Fatalf("server apply: %v", err)
	}
	h.tr.deliver(t, proto.EventOperationApplied, proto.OperationAppliedData{Operation: op, SharedState: h.server})
}

func (h *collabHarness) lastOp(t *testing.T) collab.Operation {
	t.Helper()
	sent := h.tr.sent(proto.EventCollaborativeOperation)
	if len(sent) == 0 {
		t.Fatalf("no collaborative_operation emitted")
	}
	data := sent[len(sent)-1].(proto.OperationData)
	if data.RoomID != "board" {
		t.Fatalf("operation sent to room %q", data.RoomID)
	}
	return data.Operation
}

func (h *collabHarness) status(taskID string) collab.SyncStatus {
	task, ok := h.s.State().Task(taskID)
	if !ok {
		return ""
	}
	return task.SyncStatus()
}

func TestCollabJoinsOnConnectAndReconnect(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())

	joins := h.tr.sent(proto.EventJoinCollaborativeRoom)
	if len(joins) != 1 {
		t.Fatalf("join sent %d times", len(joins))
	}
	if req := joins[0].(proto.RoomRequest); req.RoomID != "board" || req.UserID != "u1" || req.UserName != "alice" {
		t.Fatalf("unexpected join: %+v", req)
	}

	h.tr.drop("blip")
	h.sched.Advance(time.Second)
	h.tr.open()
	if got := len(h.tr.sent(proto.EventJoinCollaborativeRoom)); got != 2 {
		t.Fatalf("join sent %d times after reconnect, want 2", got)
	}
}

func TestCollabLocalOperationIsPendingUntilEcho(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())

	var views int
	h.s.OnStateChange(func(*collab.State) { views++ })

	op, err := h.s.AddTask("t1", collab.Task{collab.FieldTitle: "write docs", collab.FieldSyncStatus: "synced"})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if !strings.HasPrefix(op.ClientID, "u1_") || op.UserID != "u1" {
		t.Fatalf("unexpected operation identity: %+v", op)
	}
	if got := h.status("t1"); got != collab.SyncPending {
		t.Fatalf("status = %q, want pending", got)
	}
	if len(h.s.PendingOperations()) != 1 {
		t.Fatalf("pending operations = %d", len(h.s.PendingOperations()))
	}

	sent := h.lastOp(t)
	if _, ok := sent.Task[collab.FieldSyncStatus]; ok {
		t.Fatalf("syncStatus sent to server: %v", sent.Task)
	}

	h.apply(t, sent)
	if got := h.status("t1"); got != collab.SyncSynced {
		t.Fatalf("status = %q, want synced", got)
	}
	if len(h.s.PendingOperations()) != 0 {
		t.Fatalf("echo did not clear pending operation")
	}
	if views != 2 {
		t.Fatalf("state listeners called %d times, want 2", views)
	}
}

func TestCollabRemoteOverlapMarksConflict(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())
	h.apply(t, collab.NewAddTask("u2", "t1", collab.Task{collab.FieldTitle: "a"}))

	if _, err := h.s.UpdateTask("t1", map[string]any{collab.FieldCompleted: true}); err != nil {
		t.Fatalf("update: %v", err)
	}
	mine := h.lastOp(t)

	remote := collab.NewUpdateTask("u2", "t1", map[string]any{collab.FieldTitle: "renamed"})
	remote.ClientID = "u2_x"
	h.apply(t, remote)

	task, _ := h.s.State().Task("t1")
	if task.Title() != "renamed" || !task.Completed() || task.SyncStatus() != collab.SyncPending {
		t.Fatalf("view should layer the pending edit over the remote one: %v", task)
	}

	h.apply(t, mine)
	if got := h.status("t1"); got != collab.SyncConflict {
		t.Fatalf("status = %q, want conflict", got)
	}
}

func TestCollabOperationErrorMarksFailed(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())
	h.apply(t, collab.NewAddTask("u2", "t1", collab.Task{collab.FieldTitle: "a"}))

	var reported []proto.ErrorData
	h.s.OnError(func(e proto.ErrorData) { reported = append(reported, e) })

	if _, err := h.s.UpdateTask("t1", map[string]any{collab.FieldTitle: "b"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	op := h.lastOp(t)
	h.tr.deliver(t, proto.EventOperationError, proto.ErrorData{Error: "nope", Code: "bad_request", ClientID: op.ClientID})

	task, _ := h.s.State().Task("t1")
	if task.SyncStatus() != collab.SyncFailed || task.Title() != "a" {
		t.Fatalf("rejected edit still visible or not failed: %v", task)
	}
	if len(reported) != 1 || reported[0].ClientID != op.ClientID {
		t.Fatalf("error not reported: %+v", reported)
	}

	if _, err := h.s.UpdateTask("t1", map[string]any{collab.FieldTitle: "c"}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := h.status("t1"); got != collab.SyncPending {
		t.Fatalf("new edit did not clear failed status: %q", got)
	}
}

func TestCollabDroppedOperationMarksFailed(t *testing.T) {
	opts := DefaultOptions()
	opts.QueueMaxRetries = 0
	h := newCollabHarness(t, opts)
	h.apply(t, collab.NewAddTask("u2", "t1", collab.Task{collab.FieldTitle: "a"}))

	h.tr.failEmits(errors.New("broken pipe"))
	if _, err := h.s.DeleteTask("t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if got := h.status("t1"); got != collab.SyncFailed {
		t.Fatalf("status = %q, want failed", got)
	}
	if len(h.s.PendingOperations()) != 0 || len(h.mgr.Queued()) != 0 {
		t.Fatalf("dropped operation still pending")
	}
}

func TestCollabOfflineEditsQueue(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())
	h.mgr.SetOnline(false)

	if _, err := h.s.SetValue("board.title", "Sprint 1"); err != nil {
		t.Fatalf("set value: %v", err)
	}
	if got, _ := h.s.State().Get("board.title"); got != "Sprint 1" {
		t.Fatalf("offline edit not visible: %v", got)
	}
	if len(h.mgr.Queued()) != 1 {
		t.Fatalf("offline edit not queued")
	}

	h.mgr.SetOnline(true)
	h.tr.reset()
	h.tr.open()
	if got := h.tr.events(); len(got) != 2 || got[0] != proto.EventJoinCollaborativeRoom || got[1] != proto.EventCollaborativeOperation {
		t.Fatalf("emitted %v, want join then operation", got)
	}
}

func TestCollabRejectsInvalidOperations(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())

	if _, err := h.s.UpdateTask("t1", nil); !errors.Is(err, collab.ErrInvalidOperation) {
		t.Fatalf("update without changes = %v", err)
	}
	if _, err := h.s.SetValue("", 1); !errors.Is(err, collab.ErrInvalidOperation) {
		t.Fatalf("set without path = %v", err)
	}
	if len(h.tr.sent(proto.EventCollaborativeOperation)) != 0 || len(h.s.PendingOperations()) != 0 {
		t.Fatalf("invalid operation escaped")
	}
}

func TestCollabStateSync(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())
	h.mgr.SetOnline(false)

	if _, err := h.s.AddTask("t2", collab.Task{collab.FieldTitle: "mine"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	pending := h.s.PendingOperations()[0]

	server := collab.NewState()
	seed := collab.NewAddTask("u2", "t1", collab.Task{collab.FieldTitle: "theirs"})
	_ = collab.Apply(server, seed, h.sched.Now())
	_ = collab.Apply(server, pending, h.sched.Now())

	var locks map[string]collab.ActiveEditor
	h.s.OnLocksChange(func(l map[string]collab.ActiveEditor) { locks = l })

	h.tr.deliver(t, proto.EventCollaborativeStateSync, proto.StateSyncData{
		RoomID:           "board",
		SharedState:      server,
		OperationHistory: []collab.Operation{seed, pending},
		Participants:     []collab.Participant{{UserID: "u1", UserName: "alice"}, {UserID: "u2", UserName: "bob"}},
		ActiveEditors:    map[string]collab.ActiveEditor{"t1.title": {UserID: "u2", UserName: "bob"}},
	})

	if got := h.status("t1"); got != collab.SyncSynced {
		t.Fatalf("t1 status = %q", got)
	}
	if got := h.status("t2"); got != collab.SyncSynced {
		t.Fatalf("already applied pending op still pending: %q", got)
	}
	if len(h.s.PendingOperations()) != 0 || len(h.s.Participants()) != 2 {
		t.Fatalf("sync not applied")
	}
	if locks["t1.title"].UserID != "u2" || h.s.Locks()["t1.title"].UserName != "bob" {
		t.Fatalf("locks not applied: %v", locks)
	}

	h.tr.deliver(t, proto.EventCollaborativeStateSync, proto.StateSyncData{RoomID: "elsewhere", SharedState: collab.NewState()})
	if _, ok := h.s.State().Task("t1"); !ok {
		t.Fatalf("sync for another room was applied")
	}
}

func TestCollabInitializeNewRoomResets(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())
	h.apply(t, collab.NewAddTask("u2", "t1", collab.Task{collab.FieldTitle: "a"}))

	if err := h.s.Initialize("u1", "alice", "other"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if len(h.s.State().Tasks) != 0 {
		t.Fatalf("state of the previous room survived")
	}
	joins := h.tr.sent(proto.EventJoinCollaborativeRoom)
	if req := joins[len(joins)-1].(proto.RoomRequest); req.RoomID != "other" {
		t.Fatalf("joined %q, want other", req.RoomID)
	}
}

type lockOutcome struct {
	res LockResult
	err error
}

func (h *collabHarness) requestLock(field string) <-chan lockOutcome {
	out := make(chan lockOutcome, 1)
	go func() {
		res, err := h.s.RequestEditLock(context.Background(), field)
		out <- lockOutcome{res, err}
	}()
	return out
}

func (h *collabHarness) waitLockRequests(t *testing.T, n int) {
	t.Helper()
	waitFor(t, "request_edit_lock", func() bool { return len(h.tr.sent(proto.EventRequestEditLock)) >= n })
}

func TestCollabEditLockGranted(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())

	done := h.requestLock("title")
	h.waitLockRequests(t, 1)
	h.tr.deliver(t, proto.EventEditLockResponse, proto.EditLockResponseData{Success: true, Field: "title"})

	out := <-done
	if out.err != nil || !out.res.Acquired {
		t.Fatalf("lock = %+v, %v", out.res, out.err)
	}
	if h.s.Locks()["title"].UserID != "u1" {
		t.Fatalf("granted lock not recorded: %v", h.s.Locks())
	}

	if err := h.s.ReleaseEditLock("title"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, held := h.s.Locks()["title"]; held || len(h.tr.sent(proto.EventReleaseEditLock)) != 1 {
		t.Fatalf("release not applied")
	}
}

func TestCollabEditLockDenied(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())

	done := h.requestLock("title")
	h.waitLockRequests(t, 1)
	h.tr.deliver(t, proto.EventEditLockResponse, proto.EditLockResponseData{Success: false, Field: "title", CurrentEditor: "bob"})

	out := <-done
	if out.err != nil || out.res.Acquired || out.res.CurrentEditor != "bob" {
		t.Fatalf("lock = %+v, %v", out.res, out.err)
	}
}

func TestCollabEditLockTimesOut(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())

	done := h.requestLock("title")
	h.waitLockRequests(t, 1)
	h.sched.Advance(10 * time.Second)

	out := <-done
	if !errors.Is(out.err, ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", out.err)
	}

	// A late answer must not resurrect the request.
	h.tr.deliver(t, proto.EventEditLockResponse, proto.EditLockResponseData{Success: false, Field: "title"})
	if len(h.tr.sent(proto.EventReleaseEditLock)) != 0 {
		t.Fatalf("late denial triggered a release")
	}

	// A late grant is handed back to the server instead of being kept.
	h.tr.deliver(t, proto.EventEditLockResponse, proto.EditLockResponseData{Success: true, Field: "title"})
	if _, held := h.s.Locks()["title"]; held {
		t.Fatalf("late grant recorded as held: %v", h.s.Locks())
	}
	releases := h.tr.sent(proto.EventReleaseEditLock)
	if len(releases) != 1 {
		t.Fatalf("release_edit_lock sent %d times, want 1", len(releases))
	}
	if req := releases[0].(proto.EditLockData); req.Field != "title" || req.RoomID != "board" || req.UserID != "u1" {
		t.Fatalf("unexpected release: %+v", req)
	}
}

func TestCollabEditLockRequestsShareRoundTrip(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for range 2 {
		if _, err := h.s.RequestEditLock(ctx, "title"); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	}
	if got := len(h.tr.sent(proto.EventRequestEditLock)); got != 1 {
		t.Fatalf("request_edit_lock sent %d times, want 1", got)
	}

	h.tr.deliver(t, proto.EventEditLockResponse, proto.EditLockResponseData{Success: true, Field: "title"})
	done := h.requestLock("title")
	h.waitLockRequests(t, 2)
	h.tr.deliver(t, proto.EventEditLockResponse, proto.EditLockResponseData{Success: true, Field: "title"})
	if out := <-done; out.err != nil || !out.res.Acquired {
		t.Fatalf("lock = %+v, %v", out.res, out.err)
	}
}

func TestCollabEditLockFailsWhenOffline(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())
	h.mgr.SetOnline(false)

	if _, err := h.s.RequestEditLock(context.Background(), "title"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestCollabStopFailsPendingLocks(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())

	done := h.requestLock("title")
	h.waitLockRequests(t, 1)
	h.s.Stop()

	if out := <-done; !errors.Is(out.err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", out.err)
	}
	if _, err := h.s.AddTask("t1", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("AddTask after stop = %v", err)
	}
}

func TestCollabLockBroadcasts(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())

	h.tr.deliver(t, proto.EventFieldLocked, proto.FieldLockData{Field: "a", UserID: "u2", UserName: "bob"})
	h.tr.deliver(t, proto.EventFieldLocked, proto.FieldLockData{Field: "b", UserID: "u2", UserName: "bob"})
	h.tr.deliver(t, proto.EventFieldLocked, proto.FieldLockData{Field: "c", UserID: "u3", UserName: "carol"})
	if len(h.s.Locks()) != 3 {
		t.Fatalf("locks = %v", h.s.Locks())
	}

	h.tr.deliver(t, proto.EventFieldUnlocked, proto.FieldLockData{Field: "c", UserID: "u2"})
	if _, held := h.s.Locks()["c"]; !held {
		t.Fatalf("unlock by a non-holder released the lock")
	}
	h.tr.deliver(t, proto.EventFieldUnlocked, proto.FieldLockData{Field: "c", UserID: "u3"})
	h.tr.deliver(t, proto.EventUserFieldsUnlocked, proto.UserFieldsUnlockedData{UserID: "u2"})
	if len(h.s.Locks()) != 0 {
		t.Fatalf("locks left: %v", h.s.Locks())
	}
}

func TestCollabPresenceAndActivity(t *testing.T) {
	h := newCollabHarness(t, DefaultOptions())
	now := h.sched.Now()

	h.tr.deliver(t, proto.EventParticipantsUpdated, proto.ParticipantsData{Participants: []collab.Participant{
		{UserID: "u1", UserName: "alice", IsActive: true},
		{UserID: "u2", UserName: "bob", IsActive: true},
	}})

	var updates []PresenceUpdate
	h.s.OnPresence(func(p PresenceUpdate) { updates = append(updates, p) })

	h.tr.deliver(t, proto.EventPresenceUpdated, proto.PresenceUpdatedData{
		UserID:       "u2",
		PresenceData: collab.Presence{Cursor: &collab.Cursor{X: 3, Y: 4}},
		Timestamp:    now,
	})
	h.tr.deliver(t, proto.EventUserActivityUpdated, proto.ActivityUpdatedData{UserID: "u2", IsActive: false, Timestamp: now})

	var bob collab.Participant
	for _, p := range h.s.Participants() {
		if p.UserID == "u2" {
			bob = p
		}
	}
	if bob.Cursor == nil || bob.Cursor.X != 3 || bob.IsActive {
		t.Fatalf("unexpected participant: %+v", bob)
	}
	if len(updates) != 1 || updates[0].UserID != "u2" {
		t.Fatalf("presence listeners: %+v", updates)
	}

	if err := h.s.UpdatePresence(collab.Presence{Selection: &collab.Selection{Start: 1, End: 4}}); err != nil {
		t.Fatalf("update presence: %v", err)
	}
	if err := h.s.SetActivity(false); err != nil {
		t.Fatalf("set activity: %v", err)
	}
	if len(h.tr.sent(proto.EventUpdatePresence)) != 1 || len(h.tr.sent(proto.EventUserActivityChange)) != 1 {
		t.Fatalf("presence or activity not sent: %v", h.tr.events())
	}
}
