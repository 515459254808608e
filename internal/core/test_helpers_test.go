package core

import (
	"context"
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// mustNoEvent fails if an event of kind arrives within a short window.
func mustNoEvent(t *testing.T, ch <-chan *Event, kind EventKind) {
	t.Helper()

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func startHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	hub := NewHub(cfg, nil, nil, nil)
	go hub.Run(ctx)
	return hub
}

// connect registers a client and introduces it as userID.
func connect(t *testing.T, hub *Hub, id, userID, userName string) *Client {
	t.Helper()
	c := NewClient(id, "")
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandUserJoin, UserID: userID, UserName: userName}
	mustEvent(t, c.Events, EventUserJoined)
	return c
}
