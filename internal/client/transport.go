package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiresync/internal/proto"
)

// TransportHandler receives transport notifications. Any field may be nil.
type TransportHandler struct {
	OnConnect    func()
	OnDisconnect func(reason string)
	OnError      func(err error)
	OnEvent      func(event string, data json.RawMessage)
}

// Transport is a full-duplex named-event channel to the server.
type Transport interface {
	// Connect starts a connection attempt and returns immediately. Its outcome is reported
	// through the handler; an error means the attempt could not be started at all.
	Connect(ctx context.Context) error
	// Close tears the connection down without reporting a disconnect.
	Close() error
	// Emit writes one event frame.
	Emit(event string, data any) error
	SetHandler(h TransportHandler)
}

// WSOptions configures a WSTransport.
type WSOptions struct {
	Header       http.Header
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
}

// WSTransport is a Transport over a WebSocket carrying JSON {event, data} frames.
type WSTransport struct {
	url  string
	opts WSOptions
	log  *zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	gen     uint64
	cancel  context.CancelFunc
	handler TransportHandler
}

// NewWSTransport returns a transport for the ws:// or wss:// endpoint rawURL.
func NewWSTransport(rawURL string, opts WSOptions, logger *zerolog.Logger) *WSTransport {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &WSTransport{url: rawURL, opts: opts, log: logger}
}

// SetHandler installs h for subsequent notifications.
func (t *WSTransport) SetHandler(h TransportHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Connect dials in the background. A previous connection is dropped silently.
func (t *WSTransport) Connect(ctx context.Context) error {
	u, err := url.Parse(t.url)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.mu.Lock()
	old, oldCancel := t.conn, t.cancel
	t.gen++
	gen := t.gen
	t.conn = nil
	t.cancel = cancel
	t.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}
	if old != nil {
		_ = old.CloseNow()
	}
	go t.run(runCtx, gen)
	return nil
}

func (t *WSTransport) run(ctx context.Context, gen uint64) {
	dialCtx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, t.url, &websocket.DialOptions{HTTPHeader: t.opts.Header})
	cancel()
	if err != nil {
		if h, ok := t.current(gen); ok && h.OnError != nil {
			h.OnError(fmt.Errorf("dial: %w", err))
		}
		return
	}
	conn.SetReadLimit(t.opts.ReadLimit)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		_ = conn.CloseNow()
		return
	}
	t.conn = conn
	h := t.handler
	t.mu.Unlock()

	if h.OnConnect != nil {
		h.OnConnect()
	}

	for {
		var in proto.Inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			t.mu.Lock()
			stillCurrent := gen == t.gen
			if stillCurrent {
				t.conn = nil
			}
			h = t.handler
			t.mu.Unlock()
			_ = conn.CloseNow()

			if stillCurrent && h.OnDisconnect != nil {
				h.OnDisconnect(disconnectReason(err))
			}
			return
		}
		if h.OnEvent != nil {
			h.OnEvent(in.Event, in.Data)
		}
	}
}

func (t *WSTransport) current(gen uint64) (TransportHandler, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler, gen == t.gen
}

// Emit writes event with data. It fails with ErrNotConnected when there is no open connection.
func (t *WSTransport) Emit(event string, data any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, proto.Outbound{Event: event, Data: data}); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// Close closes the current connection, if any.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	conn, cancel := t.conn, t.cancel
	t.gen++
	t.conn = nil
	t.cancel = nil
	t.mu.Unlock()

	if conn != nil {
		err := conn.Close(websocket.StatusNormalClosure, "bye")
		if cancel != nil {
			cancel()
		}
		if err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("close: %w", err)
		}
		return nil
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

func disconnectReason(err error) string {
	switch status := websocket.CloseStatus(err); status {
	case -1:
		if errors.Is(err, context.Canceled) {
			return "client closed"
		}
		return "transport error: " + err.Error()
	case websocket.StatusNormalClosure:
		return "server closed"
	case websocket.StatusGoingAway:
		return "server going away"
	default:
		return fmt.Sprintf("closed with status %d", status)
	}
}
