// Package relay mirrors room events to an external pub/sub bus so other processes can observe
// a room without holding a WebSocket.
package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Publisher publishes one room event.
type Publisher interface {
	Publish(ctx context.Context, roomID, event string, data any) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }
func (Nop) Close() error                                        { return nil }

type envelope struct {
	roomID string
	event  string
	data   any
}

// Async decouples a slow Publisher from its caller. Events are published in order by a single
// worker; when the buffer is full new events are dropped and logged.
type Async struct {
	next   Publisher
	log    *zerolog.Logger
	queue  chan envelope
	done   chan struct{}
	closed sync.Once
}

// NewAsync starts the worker. Data passed to Publish must not be mutated afterwards.
func NewAsync(next Publisher, buffer int, logger *zerolog.Logger) *Async {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		next:  next,
		log:   logger,
		queue: make(chan envelope, buffer),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish enqueues the event. It never blocks.
func (a *Async) Publish(_ context.Context, roomID, event string, data any) error {
	select {
	case a.queue <- envelope{roomID: roomID, event: event, data: data}:
	default:
		a.log.Warn().Str("room_id", roomID).Str("event", event).Msg("relay buffer full, dropping event")
	}
	return nil
}

// Close drains queued events and closes the underlying publisher.
func (a *Async) Close() error {
	a.closed.Do(func() { close(a.queue) })
	<-a.done
	return a.next.Close()
}

func (a *Async) run() {
	defer close(a.done)
	for env := range a.queue {
		if err := a.next.Publish(context.Background(), env.roomID, env.event, env.data); err != nil {
			a.log.Warn().Err(err).Str("room_id", env.roomID).Str("event", env.event).Msg("relay publish failed")
		}
	}
}
