package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type emission struct {
	Event string
	Data  any
}

// fakeTransport records what the manager does and lets tests play the server side.
type fakeTransport struct {
	mu       sync.Mutex
	handler  TransportHandler
	connects int
	closes   int
	emitted  []emission
	emitErr  error
	onEmit   func(event string)
}

func (f *fakeTransport) SetHandler(h TransportHandler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Emit(event string, data any) error {
	f.mu.Lock()
	if f.emitErr != nil {
		err := f.emitErr
		f.mu.Unlock()
		return err
	}
	f.emitted = append(f.emitted, emission{Event: event, Data: data})
	hook := f.onEmit
	f.mu.Unlock()

	if hook != nil {
		hook(event)
	}
	return nil
}

// hookEmits runs fn after every successful emit, outside the transport lock.
func (f *fakeTransport) hookEmits(fn func(event string)) {
	f.mu.Lock()
	f.onEmit = fn
	f.mu.Unlock()
}

func (f *fakeTransport) failEmits(err error) {
	f.mu.Lock()
	f.emitErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.emitted))
	for i, e := range f.emitted {
		out[i] = e.Event
	}
	return out
}

func (f *fakeTransport) sent(event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.emitted {
		if e.Event == event {
			out = append(out, e.Data)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.emitted = nil
	f.mu.Unlock()
}

func (f *fakeTransport) current() TransportHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

func (f *fakeTransport) open() { f.current().OnConnect() }

func (f *fakeTransport) drop(reason string) { f.current().OnDisconnect(reason) }

func (f *fakeTransport) fail(err error) { f.current().OnError(err) }

func (f *fakeTransport) deliver(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	f.current().OnEvent(event, raw)
}

// fakeScheduler is a manual clock. Timers fire from Advance on the calling goroutine.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	s    *fakeScheduler
	at   time.Time
	fn   func()
	done bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now.Add(d), fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Advance moves the clock forward by d, firing due timers in deadline order. Timers scheduled
// by a callback fire in the same call when they fall inside the window.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var next *fakeTimer
		for _, t := range s.timers {
			if t.done || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		next.done = true
		s.now = next.at
		s.mu.Unlock()

		next.fn()
	}
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.done {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T, opts Options) (*Manager, *fakeTransport, *fakeScheduler) {
	t.Helper()
	sched := newFakeScheduler()
	opts.Scheduler = sched
	tr := &fakeTransport{}
	m := NewManager(tr, opts, nil)
	t.Cleanup(m.Stop)
	return m, tr, sched
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
