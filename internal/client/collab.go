package client

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/collab"
	"github.com/vovakirdan/wiresync/internal/proto"
	"github.com/vovakirdan/wiresync/internal/utils"
)

// LockResult is the answer to an edit lock request. A refused lock is not an error.
type LockResult struct {
	Acquired      bool
	CurrentEditor string
}

// PresenceUpdate is a peer's cursor or selection change.
type PresenceUpdate struct {
	UserID   string
	Presence collab.Presence
}

type lockWait struct {
	done   chan struct{}
	timer  Timer
	result LockResult
	err    error
}

// finish resolves w. Callers hold the session lock and have removed w from the waits map.
func (w *lockWait) finish(result LockResult, err error) {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.result, w.err = result, err
	close(w.done)
}

// CollabSession mirrors one collaborative room. Local edits show up immediately as pending and
// settle when the server echoes them back.
type CollabSession struct {
	mgr   *Manager
	opts  Options
	sched Scheduler
	log   *zerolog.Logger

	mu           sync.Mutex
	subscribed   bool
	closed       bool
	userID       string
	userName     string
	roomID       string
	replica      *collab.Replica
	participants []collab.Participant
	locks        map[string]collab.ActiveEditor
	waits        map[string]*lockWait
	unsubscribe  []func()

	stateReg        *Registry[*collab.State]
	participantsReg *Registry[[]collab.Participant]
	locksReg        *Registry[map[string]collab.ActiveEditor]
	presenceReg     *Registry[PresenceUpdate]
	errorsReg       *Registry[proto.ErrorData]
}

// NewCollabSession creates a session on mgr.
func NewCollabSession(mgr *Manager, opts Options, logger *zerolog.Logger) *CollabSession {
	opts = opts.withDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CollabSession{
		mgr:             mgr,
		opts:            opts,
		sched:           opts.Scheduler,
		log:             logger,
		replica:         collab.NewReplica(),
		locks:           make(map[string]collab.ActiveEditor),
		waits:           make(map[string]*lockWait),
		stateReg:        NewRegistry[*collab.State](),
		participantsReg: NewRegistry[[]collab.Participant](),
		locksReg:        NewRegistry[map[string]collab.ActiveEditor](),
		presenceReg:     NewRegistry[PresenceUpdate](),
		errorsReg:       NewRegistry[proto.ErrorData](),
	}
}

// Initialize connects and joins roomID as userID. The room is rejoined after every reconnect.
func (s *CollabSession) Initialize(userID, userName, roomID string) error {
	if userID == "" || roomID == "" {
		return errors.New("user id and room id are required")
	}
	if userName == "" {
		userName = userID
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.roomID != roomID {
		s.replica.Reset()
		s.participants = nil
		clear(s.locks)
	}
	s.userID, s.userName, s.roomID = userID, userName, roomID
	first := !s.subscribed
	s.subscribed = true
	s.mu.Unlock()

	if first {
		s.subscribe()
	}
	s.mgr.Connect()
	if s.mgr.IsConnected() {
		s.join()
	}
	return nil
}

// Stop detaches the session. Pending lock requests fail with ErrClosed.
func (s *CollabSession) Stop() {
	s.mu.Lock()
	s.closed = true
	unsubs := s.unsubscribe
	s.unsubscribe = nil
	for field, w := range s.waits {
		delete(s.waits, field)
		w.finish(LockResult{}, ErrClosed)
	}
	s.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
}

func (s *CollabSession) subscribe() {
	subs := []func(){
		s.mgr.OnStateChange(s.handleState),
		s.mgr.OnDropped(s.handleDropped),
		s.mgr.On(proto.EventCollaborativeStateSync, s.handleStateSync),
		s.mgr.On(proto.EventOperationApplied, s.handleOperationApplied),
		s.mgr.On(proto.EventOperationError, s.handleOperationError),
		s.mgr.On(proto.EventParticipantsUpdated, s.handleParticipants),
		s.mgr.On(proto.EventEditLockResponse, s.handleLockResponse),
		s.mgr.On(proto.EventFieldLocked, s.handleFieldLocked),
		s.mgr.On(proto.EventFieldUnlocked, s.handleFieldUnlocked),
		s.mgr.On(proto.EventUserFieldsUnlocked, s.handleUserFieldsUnlocked),
		s.mgr.On(proto.EventPresenceUpdated, s.handlePresence),
		s.mgr.On(proto.EventUserActivityUpdated, s.handleActivity),
	}
	s.mu.Lock()
	s.unsubscribe = append(s.unsubscribe, subs...)
	s.mu.Unlock()
}

func (s *CollabSession) handleState(info ConnectionInfo) {
	if info.State == StateConnected {
		s.join()
	}
}

func (s *CollabSession) join() {
	s.mu.Lock()
	req := proto.RoomRequest{RoomID: s.roomID, UserID: s.userID, UserName: s.userName}
	s.mu.Unlock()
	if req.RoomID == "" {
		return
	}
	if err := s.mgr.Emit(proto.EventJoinCollaborativeRoom, req); err != nil {
		s.log.Debug().Err(err).Str("room_id", req.RoomID).Msg("join deferred until connected")
	}
}

// AddTask inserts a task.
func (s *CollabSession) AddTask(taskID string, task collab.Task) (collab.Operation, error) {
	return s.submit(func(userID string) collab.Operation { return collab.NewAddTask(userID, taskID, task) })
}

// UpdateTask shallow-merges updates into a task.
func (s *CollabSession) UpdateTask(taskID string, updates map[string]any) (collab.Operation, error) {
	return s.submit(func(userID string) collab.Operation { return collab.NewUpdateTask(userID, taskID, updates) })
}

// DeleteTask marks a task deleted.
func (s *CollabSession) DeleteTask(taskID string) (collab.Operation, error) {
	return s.submit(func(userID string) collab.Operation { return collab.NewDeleteTask(userID, taskID) })
}

// SetValue assigns value at a dotted path of the shared state.
func (s *CollabSession) SetValue(path string, value any) (collab.Operation, error) {
	return s.submit(func(userID string) collab.Operation { return collab.NewSetValue(userID, path, value) })
}

// submit applies an operation optimistically and sends it, or queues it while offline.
func (s *CollabSession) submit(build func(userID string) collab.Operation) (collab.Operation, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return collab.Operation{}, ErrClosed
	}
	if s.roomID == "" {
		s.mu.Unlock()
		return collab.Operation{}, ErrNoActiveRoom
	}
	op := build(s.userID)
	op.ClientID = s.userID + "_" + utils.NewUUID()
	op.Timestamp = s.sched.Now()
	if err := op.Validate(); err != nil {
		s.mu.Unlock()
		return collab.Operation{}, err
	}
	s.replica.Local(op)
	view := s.replica.View()
	data := proto.OperationData{RoomID: s.roomID, Operation: op.Sanitized()}
	s.mu.Unlock()

	s.stateReg.Publish(view)
	s.mgr.Send(proto.EventCollaborativeOperation, data)
	return op.Clone(), nil
}

// RequestEditLock asks for field's edit lock and waits for the answer, at most LockTimeout.
// Concurrent requests for the same field share one round trip.
func (s *CollabSession) RequestEditLock(ctx context.Context, field string) (LockResult, error) {
	if field == "" {
		return LockResult{}, errors.New("field is required")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return LockResult{}, ErrClosed
	}
	if s.roomID == "" {
		s.mu.Unlock()
		return LockResult{}, ErrNoActiveRoom
	}
	w, inflight := s.waits[field]
	if !inflight {
		w = &lockWait{done: make(chan struct{})}
		s.waits[field] = w
		w.timer = s.sched.AfterFunc(s.opts.LockTimeout, func() { s.expireLock(field, w) })
	}
	req := proto.EditLockData{RoomID: s.roomID, Field: field, UserID: s.userID}
	s.mu.Unlock()

	if !inflight {
		if err := s.mgr.Emit(proto.EventRequestEditLock, req); err != nil {
			s.mu.Lock()
			if s.waits[field] == w {
				delete(s.waits, field)
				w.finish(LockResult{}, err)
			}
			s.mu.Unlock()
			return LockResult{}, err
		}
	}

	select {
	case <-w.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return w.result, w.err
	case <-ctx.Done():
		return LockResult{}, ctx.Err()
	}
}

func (s *CollabSession) expireLock(field string, w *lockWait) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waits[field] != w {
		return
	}
	delete(s.waits, field)
	w.finish(LockResult{}, ErrLockTimeout)
	s.log.Warn().Str("field", field).Msg("edit lock request timed out")
}

// ReleaseEditLock gives up field's lock without waiting for the server.
func (s *CollabSession) ReleaseEditLock(field string) error {
	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return ErrNoActiveRoom
	}
	req := proto.EditLockData{RoomID: s.roomID, Field: field, UserID: s.userID}
	changed := false
	if ed, ok := s.locks[field]; ok && ed.UserID == s.userID {
		delete(s.locks, field)
		changed = true
	}
	locks := maps.Clone(s.locks)
	s.mu.Unlock()

	if changed {
		s.locksReg.Publish(locks)
	}
	return s.mgr.Emit(proto.EventReleaseEditLock, req)
}

// UpdatePresence shares the local cursor or selection.
func (s *CollabSession) UpdatePresence(p collab.Presence) error {
	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return ErrNoActiveRoom
	}
	data := proto.PresenceData{RoomID: s.roomID, UserID: s.userID, PresenceData: p}
	s.mu.Unlock()
	return s.mgr.Emit(proto.EventUpdatePresence, data)
}

// SetActivity shares whether the local user is active.
func (s *CollabSession) SetActivity(active bool) error {
	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return ErrNoActiveRoom
	}
	data := proto.ActivityData{RoomID: s.roomID, UserID: s.userID, IsActive: active}
	s.mu.Unlock()
	return s.mgr.Emit(proto.EventUserActivityChange, data)
}

// State returns the visible state: the last confirmed snapshot with pending local edits applied.
func (s *CollabSession) State() *collab.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replica.View()
}

// PendingOperations returns local operations the server has not confirmed yet.
func (s *CollabSession) PendingOperations() []collab.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replica.Pending()
}

// Participants returns the room's participants.
func (s *CollabSession) Participants() []collab.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneParticipants(s.participants)
}

// Locks returns the known edit locks keyed by field.
func (s *CollabSession) Locks() map[string]collab.ActiveEditor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.locks)
}

func (s *CollabSession) OnStateChange(fn func(*collab.State)) func() { return s.stateReg.Subscribe(fn) }

func (s *CollabSession) OnParticipantsChange(fn func([]collab.Participant)) func() {
	return s.participantsReg.Subscribe(fn)
}

func (s *CollabSession) OnLocksChange(fn func(map[string]collab.ActiveEditor)) func() {
	return s.locksReg.Subscribe(fn)
}

func (s *CollabSession) OnPresence(fn func(PresenceUpdate)) func() {
	return s.presenceReg.Subscribe(fn)
}

// OnError subscribes to operations the server rejected.
func (s *CollabSession) OnError(fn func(proto.ErrorData)) func() { return s.errorsReg.Subscribe(fn) }

func (s *CollabSession) handleStateSync(raw json.RawMessage) {
	data, ok := decode[proto.StateSyncData](s.log, proto.EventCollaborativeStateSync, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	if data.RoomID != s.roomID {
		s.mu.Unlock()
		return
	}
	state := data.SharedState
	if state == nil {
		state = collab.NewState()
	}
	s.replica.Sync(state, data.OperationHistory)
	s.participants = cloneParticipants(data.Participants)
	s.locks = maps.Clone(data.ActiveEditors)
	if s.locks == nil {
		s.locks = make(map[string]collab.ActiveEditor)
	}
	view := s.replica.View()
	participants := cloneParticipants(s.participants)
	locks := maps.Clone(s.locks)
	s.mu.Unlock()

	s.stateReg.Publish(view)
	s.participantsReg.Publish(participants)
	s.locksReg.Publish(locks)
}

func (s *CollabSession) handleOperationApplied(raw json.RawMessage) {
	data, ok := decode[proto.OperationAppliedData](s.log, proto.EventOperationApplied, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	s.replica.Confirm(data.Operation, data.SharedState)
	view := s.replica.View()
	s.mu.Unlock()

	s.stateReg.Publish(view)
}

func (s *CollabSession) handleOperationError(raw json.RawMessage) {
	data, ok := decode[proto.ErrorData](s.log, proto.EventOperationError, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	rejected := s.replica.Reject(data.ClientID)
	view := s.replica.View()
	s.mu.Unlock()

	s.log.Warn().Str("code", data.Code).Str("client_id", data.ClientID).Msg(data.Error)
	if rejected {
		s.stateReg.Publish(view)
	}
	s.errorsReg.Publish(data)
}

// handleDropped marks the task of an operation the manager gave up on as failed.
func (s *CollabSession) handleDropped(op QueuedOperation) {
	data, ok := op.Data.(proto.OperationData)
	if !ok || op.Event != proto.EventCollaborativeOperation {
		return
	}
	s.mu.Lock()
	rejected := s.replica.Reject(data.Operation.ClientID)
	view := s.replica.View()
	s.mu.Unlock()

	if rejected {
		s.stateReg.Publish(view)
	}
}

func (s *CollabSession) handleParticipants(raw json.RawMessage) {
	data, ok := decode[proto.ParticipantsData](s.log, proto.EventParticipantsUpdated, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	s.participants = cloneParticipants(data.Participants)
	participants := cloneParticipants(s.participants)
	s.mu.Unlock()

	s.participantsReg.Publish(participants)
}

func (s *CollabSession) handleLockResponse(raw json.RawMessage) {
	data, ok := decode[proto.EditLockResponseData](s.log, proto.EventEditLockResponse, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	w := s.waits[data.Field]
	if w == nil {
		// Nobody is waiting any more: the request timed out. A late grant is handed back.
		_, held := s.locks[data.Field]
		release := data.Success && !held && s.roomID != ""
		req := proto.EditLockData{RoomID: s.roomID, Field: data.Field, UserID: s.userID}
		s.mu.Unlock()
		if release {
			s.log.Debug().Str("field", data.Field).Msg("releasing late edit lock grant")
			if err := s.mgr.Emit(proto.EventReleaseEditLock, req); err != nil {
				s.log.Warn().Err(err).Str("field", data.Field).Msg("release late edit lock")
			}
		}
		return
	}
	delete(s.waits, data.Field)
	if data.Success {
		s.locks[data.Field] = collab.ActiveEditor{UserID: s.userID, UserName: s.userName, StartedAt: s.sched.Now()}
	}
	locks := maps.Clone(s.locks)
	w.finish(LockResult{Acquired: data.Success, CurrentEditor: data.CurrentEditor}, nil)
	s.mu.Unlock()

	if data.Success {
		s.locksReg.Publish(locks)
	}
}

func (s *CollabSession) handleFieldLocked(raw json.RawMessage) {
	data, ok := decode[proto.FieldLockData](s.log, proto.EventFieldLocked, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	s.locks[data.Field] = collab.ActiveEditor{UserID: data.UserID, UserName: data.UserName, StartedAt: s.sched.Now()}
	locks := maps.Clone(s.locks)
	s.mu.Unlock()

	s.locksReg.Publish(locks)
}

func (s *CollabSession) handleFieldUnlocked(raw json.RawMessage) {
	data, ok := decode[proto.FieldLockData](s.log, proto.EventFieldUnlocked, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	ed, held := s.locks[data.Field]
	if held && (data.UserID == "" || ed.UserID == data.UserID) {
		delete(s.locks, data.Field)
	}
	locks := maps.Clone(s.locks)
	s.mu.Unlock()

	if held {
		s.locksReg.Publish(locks)
	}
}

func (s *CollabSession) handleUserFieldsUnlocked(raw json.RawMessage) {
	data, ok := decode[proto.UserFieldsUnlockedData](s.log, proto.EventUserFieldsUnlocked, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	n := len(s.locks)
	maps.DeleteFunc(s.locks, func(_ string, ed collab.ActiveEditor) bool { return ed.UserID == data.UserID })
	changed := len(s.locks) != n
	locks := maps.Clone(s.locks)
	s.mu.Unlock()

	if changed {
		s.locksReg.Publish(locks)
	}
}

func (s *CollabSession) handlePresence(raw json.RawMessage) {
	data, ok := decode[proto.PresenceUpdatedData](s.log, proto.EventPresenceUpdated, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	if idx := slices.IndexFunc(s.participants, func(p collab.Participant) bool { return p.UserID == data.UserID }); idx >= 0 {
		s.participants[idx].ApplyPresence(data.PresenceData, data.Timestamp)
	}
	participants := cloneParticipants(s.participants)
	s.mu.Unlock()

	s.presenceReg.Publish(PresenceUpdate{UserID: data.UserID, Presence: data.PresenceData})
	s.participantsReg.Publish(participants)
}

func (s *CollabSession) handleActivity(raw json.RawMessage) {
	data, ok := decode[proto.ActivityUpdatedData](s.log, proto.EventUserActivityUpdated, raw)
	if !ok {
		return
	}
	s.mu.Lock()
	idx := slices.IndexFunc(s.participants, func(p collab.Participant) bool { return p.UserID == data.UserID })
	if idx >= 0 {
		s.participants[idx].IsActive = data.IsActive
		s.participants[idx].LastActivity = data.Timestamp
	}
	participants := cloneParticipants(s.participants)
	s.mu.Unlock()

	if idx >= 0 {
		s.participantsReg.Publish(participants)
	}
}

func cloneParticipants(ps []collab.Participant) []collab.Participant {
	if ps == nil {
		return nil
	}
	out := make([]collab.Participant, len(ps))
	for i, p := range ps {
		out[i] = p.Clone()
	}
	return out
}
