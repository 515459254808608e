package client

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/proto"
	"github.com/vovakirdan/wiresync/internal/utils"
)

// ConnectionState is the manager's position in its connection state machine.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateReconnecting ConnectionState = "RECONNECTING"
	StateFailed       ConnectionState = "FAILED"
)

var transitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateFailed, StateReconnecting, StateDisconnected},
	StateConnected:    {StateReconnecting, StateDisconnected},
	StateReconnecting: {StateConnecting, StateDisconnected},
	StateFailed:       {StateConnecting, StateDisconnected},
}

// CanTransition reports whether the state machine has an edge from -> to.
func CanTransition(from, to ConnectionState) bool {
	return slices.Contains(transitions[from], to)
}

const heartbeatClientID = "heartbeat"

// ConnectionInfo is a snapshot of the connection.
type ConnectionInfo struct {
	State            ConnectionState
	LastConnected    time.Time
	DisconnectReason string
	ReconnectAttempt int
	IsOnline         bool
	Latency          time.Duration
}

// QueuedOperation is an event waiting for a connection.
type QueuedOperation struct {
	ID         string
	Event      string
	Data       any
	Timestamp  time.Time
	RetryCount int
	MaxRetries int
}

// Manager owns the transport: it drives the connection state machine, reconnects with
// backoff, sends heartbeats and holds the offline queue. Transport failures never reach
// callers; they show up in ConnectionInfo.
type Manager struct {
	opts      Options
	transport Transport
	sched     Scheduler
	log       *zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc

	mu           sync.Mutex
	info         ConnectionInfo
	manual       bool
	closed       bool
	lastAttempt  time.Time
	attempts     int
	backoff      backoff.BackOff
	reconnect    Timer
	reconnectSeq uint64
	heartbeat    Timer
	beatSeq      uint64
	queue        []QueuedOperation
	flushing     bool

	states  *Registry[ConnectionInfo]
	queued  *Registry[[]QueuedOperation]
	dropped *Registry[QueuedOperation]

	hmu      sync.Mutex
	handlers map[string]*Registry[json.RawMessage]
}

// NewManager wires a manager to t. The manager installs itself as t's handler.
func NewManager(t Transport, opts Options, logger *zerolog.Logger) *Manager {
	opts = opts.withDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:      opts,
		transport: t,
		sched:     opts.Scheduler,
		log:       logger,
		ctx:       ctx,
		cancel:    cancel,
		info:      ConnectionInfo{State: StateDisconnected, IsOnline: true},
		backoff:   newBackOff(opts),
		states:    NewRegistry[ConnectionInfo](),
		queued:    NewRegistry[[]QueuedOperation](),
		dropped:   NewRegistry[QueuedOperation](),
		handlers:  make(map[string]*Registry[json.RawMessage]),
	}
	t.SetHandler(TransportHandler{
		OnConnect:    m.handleConnect,
		OnDisconnect: m.handleDisconnect,
		OnError:      m.handleError,
		OnEvent:      m.dispatch,
	})
	m.On(proto.EventPong, m.handlePong)
	return m
}

// Start connects.
func (m *Manager) Start() { m.Connect() }

// Stop disconnects for good. Later calls to Connect are ignored.
func (m *Manager) Stop() {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
}

// Connect starts a connection attempt unless one is running, the manager is connected, or
// the previous attempt was less than ConnectThrottle ago.
func (m *Manager) Connect() { m.connect(false) }

func (m *Manager) connect(scheduled bool) {
	m.mu.Lock()
	if m.closed || m.info.State == StateConnected || m.info.State == StateConnecting {
		m.mu.Unlock()
		return
	}
	now := m.sched.Now()
	if !scheduled {
		if m.opts.ConnectThrottle > 0 && !m.lastAttempt.IsZero() && now.Sub(m.lastAttempt) < m.opts.ConnectThrottle {
			m.mu.Unlock()
			m.log.Debug().Msg("connect throttled")
			return
		}
		m.manual = false
		if m.attempts > m.opts.MaxReconnectAttempts {
			m.attempts = 0
			m.backoff.Reset()
		}
	}
	m.lastAttempt = now
	m.stopReconnectLocked()
	info, changed := m.setStateLocked(StateConnecting, "")
	m.mu.Unlock()
	m.publishState(info, changed)

	if err := m.transport.Connect(m.ctx); err != nil {
		m.handleError(err)
	}
}

// Disconnect closes the connection and suppresses automatic reconnects until Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	m.stopReconnectLocked()
	m.stopHeartbeatLocked()
	info, changed := m.setStateLocked(StateDisconnected, "manual disconnect")
	m.mu.Unlock()

	if err := m.transport.Close(); err != nil {
		m.log.Debug().Err(err).Msg("transport close")
	}
	m.publishState(info, changed)
}

// SetOnline feeds a network reachability signal. Going offline drops the connection at once;
// coming back online reconnects unless the user disconnected manually.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	m.info.IsOnline = online
	if online {
		reconnect := !m.manual && !m.closed && m.info.State != StateConnected
		info := m.info
		m.mu.Unlock()
		m.publishState(info, true)
		if reconnect {
			m.connect(true)
		}
		return
	}
	m.stopReconnectLocked()
	m.stopHeartbeatLocked()
	info, _ := m.setStateLocked(StateDisconnected, "network offline")
	m.mu.Unlock()

	_ = m.transport.Close()
	m.publishState(info, true)
}

func (m *Manager) handleConnect() {
	m.mu.Lock()
	if m.manual || m.closed || m.info.State != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.backoff.Reset()
	m.stopReconnectLocked()
	m.info.LastConnected = m.sched.Now()
	m.info.ReconnectAttempt = 0
	m.info.Latency = 0
	info, changed := m.setStateLocked(StateConnected, "")
	m.startHeartbeatLocked()
	m.mu.Unlock()

	m.log.Info().Str("state", string(StateConnected)).Msg("connected")
	// Listeners rejoin their rooms before the backlog goes out.
	m.publishState(info, changed)
	m.flush()
}

func (m *Manager) handleDisconnect(reason string) {
	m.mu.Lock()
	if m.manual || m.closed {
		m.mu.Unlock()
		return
	}
	if m.info.State != StateConnected && m.info.State != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.stopHeartbeatLocked()
	_, changed := m.setStateLocked(StateReconnecting, reason)
	m.scheduleReconnectLocked()
	info := m.info
	m.mu.Unlock()

	m.log.Info().Str("state", string(info.State)).Str("reason", reason).Int("attempt", info.ReconnectAttempt).Msg("disconnected")
	m.publishState(info, changed)
}

func (m *Manager) handleError(err error) {
	m.mu.Lock()
	if m.manual || m.closed || m.info.State != StateConnecting {
		m.mu.Unlock()
		m.log.Debug().Err(err).Msg("transport error")
		return
	}
	_, changed := m.setStateLocked(StateFailed, err.Error())
	m.scheduleReconnectLocked()
	info := m.info
	m.mu.Unlock()

	m.log.Warn().Err(err).Int("attempt", info.ReconnectAttempt).Msg("connection attempt failed")
	m.publishState(info, changed)
}

func (m *Manager) setStateLocked(to ConnectionState, reason string) (ConnectionInfo, bool) {
	from := m.info.State
	if from == to {
		return m.info, false
	}
	if !CanTransition(from, to) {
		m.log.Warn().Str("from", string(from)).Str("to", string(to)).Msg("ignoring invalid state transition")
		return m.info, false
	}
	m.info.State = to
	m.info.DisconnectReason = reason
	m.log.Debug().Str("from", string(from)).Str("state", string(to)).Msg("connection state changed")
	return m.info, true
}

func (m *Manager) scheduleReconnectLocked() {
	if m.manual || m.closed || m.reconnect != nil {
		return
	}
	m.attempts++
	m.info.ReconnectAttempt = m.attempts
	if m.attempts > m.opts.MaxReconnectAttempts {
		m.log.Warn().Int("attempt", m.attempts).Msg("max reconnect attempts reached")
		return
	}
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		return
	}
	m.reconnectSeq++
	seq := m.reconnectSeq
	m.log.Debug().Int("attempt", m.attempts).Dur("delay", delay).Msg("reconnect scheduled")
	m.reconnect = m.sched.AfterFunc(delay, func() { m.fireReconnect(seq) })
}

func (m *Manager) fireReconnect(seq uint64) {
	m.mu.Lock()
	if seq != m.reconnectSeq || m.manual || m.closed {
		m.mu.Unlock()
		return
	}
	m.reconnect = nil
	m.mu.Unlock()
	m.connect(true)
}

func (m *Manager) stopReconnectLocked() {
	m.reconnectSeq++
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) startHeartbeatLocked() {
	m.stopHeartbeatLocked()
	seq := m.beatSeq
	m.heartbeat = m.sched.AfterFunc(m.opts.HeartbeatInterval, func() { m.beat(seq) })
}

func (m *Manager) stopHeartbeatLocked() {
	m.beatSeq++
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

func (m *Manager) beat(seq uint64) {
	m.mu.Lock()
	if seq != m.beatSeq || m.info.State != StateConnected {
		m.mu.Unlock()
		return
	}
	sent := m.sched.Now()
	m.heartbeat = m.sched.AfterFunc(m.opts.HeartbeatInterval, func() { m.beat(seq) })
	m.mu.Unlock()

	if err := m.transport.Emit(proto.EventPing, proto.PingData{Timestamp: sent.UnixMilli(), ClientID: heartbeatClientID}); err != nil {
		m.log.Debug().Err(err).Msg("heartbeat failed")
	}
}

func (m *Manager) handlePong(raw json.RawMessage) {
	var pong proto.PongData
	if err := json.Unmarshal(raw, &pong); err != nil || pong.ClientID != heartbeatClientID {
		return
	}
	m.mu.Lock()
	m.info.Latency = m.sched.Now().Sub(time.UnixMilli(pong.Timestamp))
	info := m.info
	m.mu.Unlock()
	m.publishState(info, true)
}

// Emit sends event right away. It returns ErrNotConnected instead of queueing.
func (m *Manager) Emit(event string, data any) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	if err := m.transport.Emit(event, data); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Send emits event when connected and nothing is waiting ahead of it; otherwise it queues the
// event with the default retry budget. It reports whether the event was queued.
func (m *Manager) Send(event string, data any) bool {
	m.mu.Lock()
	direct := m.info.State == StateConnected && len(m.queue) == 0 && !m.flushing
	m.mu.Unlock()

	if direct {
		err := m.transport.Emit(event, data)
		if err == nil {
			return false
		}
		m.log.Debug().Err(err).Str("event", event).Msg("emit failed, queueing")
	}
	m.Queue(event, data, m.opts.QueueMaxRetries)
	return true
}

// Queue appends an operation to the offline queue and flushes it when connected.
// It returns the operation id.
func (m *Manager) Queue(event string, data any, maxRetries int) string {
	op := QueuedOperation{
		ID:         "op_" + utils.NewUUID(),
		Event:      event,
		Data:       data,
		Timestamp:  m.sched.Now(),
		MaxRetries: maxRetries,
	}
	m.mu.Lock()
	m.queue = append(m.queue, op)
	snapshot := slices.Clone(m.queue)
	connected := m.info.State == StateConnected
	m.mu.Unlock()

	m.queued.Publish(snapshot)
	if connected {
		m.flush()
	}
	return op.ID
}

// flush emits the queue in order. Operations queued while a pass runs are emitted by another
// pass before flush returns. Failed emits are retried up to their MaxRetries and then dropped.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.flushing || m.info.State != StateConnected || len(m.queue) == 0 {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	m.mu.Unlock()

	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()

		var retry, dropped []QueuedOperation
		for _, op := range batch {
			err := m.transport.Emit(op.Event, op.Data)
			if err == nil {
				m.log.Debug().Str("op_id", op.ID).Str("event", op.Event).Msg("queued operation sent")
				continue
			}
			if op.RetryCount < op.MaxRetries {
				op.RetryCount++
				retry = append(retry, op)
				continue
			}
			m.log.Warn().Err(err).Str("op_id", op.ID).Str("event", op.Event).Int("retries", op.RetryCount).Msg("dropping queued operation")
			dropped = append(dropped, op)
		}

		m.mu.Lock()
		again := len(m.queue) > 0 && m.info.State == StateConnected
		m.queue = append(retry, m.queue...)
		if !again {
			m.flushing = false
		}
		snapshot := slices.Clone(m.queue)
		m.mu.Unlock()

		for _, op := range dropped {
			m.dropped.Publish(op)
		}
		m.queued.Publish(snapshot)
		if !again {
			return
		}
	}
}

// RemoveQueued drops a queued operation by id.
func (m *Manager) RemoveQueued(id string) bool {
	m.mu.Lock()
	n := len(m.queue)
	m.queue = slices.DeleteFunc(m.queue, func(op QueuedOperation) bool { return op.ID == id })
	removed := len(m.queue) != n
	snapshot := slices.Clone(m.queue)
	m.mu.Unlock()

	if removed {
		m.queued.Publish(snapshot)
	}
	return removed
}

// ClearQueue drops every queued operation.
func (m *Manager) ClearQueue() {
	m.mu.Lock()
	m.queue = nil
	m.mu.Unlock()
	m.queued.Publish(nil)
}

// Queued returns a copy of the offline queue.
func (m *Manager) Queued() []QueuedOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.queue)
}

// Info returns the current connection snapshot.
func (m *Manager) Info() ConnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// IsConnected reports whether the state is CONNECTED.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info.State == StateConnected
}

// OnStateChange subscribes to connection snapshots.
func (m *Manager) OnStateChange(fn func(ConnectionInfo)) func() { return m.states.Subscribe(fn) }

// OnQueueChange subscribes to offline queue snapshots.
func (m *Manager) OnQueueChange(fn func([]QueuedOperation)) func() { return m.queued.Subscribe(fn) }

// OnDropped subscribes to operations dropped after exhausting their retries.
func (m *Manager) OnDropped(fn func(QueuedOperation)) func() { return m.dropped.Subscribe(fn) }

// On subscribes to a server event by name.
func (m *Manager) On(event string, fn func(json.RawMessage)) func() {
	m.hmu.Lock()
	r, ok := m.handlers[event]
	if !ok {
		r = NewRegistry[json.RawMessage]()
		m.handlers[event] = r
	}
	m.hmu.Unlock()
	return r.Subscribe(fn)
}

func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.hmu.Lock()
	r := m.handlers[event]
	m.hmu.Unlock()
	if r == nil {
		m.log.Debug().Str("event", event).Msg("unhandled event")
		return
	}
	r.Publish(data)
}

func (m *Manager) publishState(info ConnectionInfo, changed bool) {
	if changed {
		m.states.Publish(info)
	}
}
