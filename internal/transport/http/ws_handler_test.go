package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wiresync/internal/auth"
	"github.com/vovakirdan/wiresync/internal/config"
	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/log"
	"github.com/vovakirdan/wiresync/internal/proto"
	"github.com/vovakirdan/wiresync/internal/store"
)

type testServer struct {
	ts  *httptest.Server
	hub *core.Hub
}

func startTestServer(t *testing.T, cfg config.Config, st store.Store, authService *auth.Service) *testServer {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := core.NewHub(core.HubConfig{}, st, nil, log.Nop())
	go hub.Run(ctx)

	server := NewServer(hub, authService, &cfg, log.Nop())
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, hub: hub}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.RateLimit = 0
	return cfg
}

func (s *testServer) wsURL(query string) string {
	u := strings.Replace(s.ts.URL, "http", "ws", 1) + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Event: event, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// expect reads frames until one named event arrives and decodes its data into out.
func expect(t *testing.T, ctx context.Context, conn *websocket.Conn, event string, out any) {
	t.Helper()
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if f.Event != event {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(f.Data, out); err != nil {
				t.Fatalf("decode %s: %v", event, err)
			}
		}
		return
	}
}

func TestWebSocketChatExchange(t *testing.T) {
	srv := startTestServer(t, testConfig(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dial(t, ctx, srv.wsURL(""))
	connB := dial(t, ctx, srv.wsURL(""))

	send(t, ctx, connA, proto.EventUserJoin, proto.UserJoinData{UserID: "alice", UserName: "Alice"})
	expect(t, ctx, connA, proto.EventUserJoined, nil)
	send(t, ctx, connB, proto.EventUserJoin, proto.UserJoinData{UserID: "bob", UserName: "Bob"})
	expect(t, ctx, connB, proto.EventUserJoined, nil)

	send(t, ctx, connA, proto.EventJoinRoom, proto.RoomRequest{RoomID: "general"})
	expect(t, ctx, connA, proto.EventRoomJoined, nil)
	send(t, ctx, connB, proto.EventJoinRoom, proto.RoomRequest{RoomID: "general"})
	var joined proto.RoomJoinedData
	expect(t, ctx, connB, proto.EventRoomJoined, &joined)
	if len(joined.Participants) != 2 {
		t.Fatalf("participants = %+v, want two", joined.Participants)
	}

	send(t, ctx, connA, proto.EventSendMessage, proto.SendMessageData{
		RoomID:  "general",
		Message: proto.OutgoingMessage{TempID: "tmp-1", Text: "hello"},
	})

	var delivered proto.MessageDeliveredData
	expect(t, ctx, connA, proto.EventMessageDelivered, &delivered)
	if delivered.TempID != "tmp-1" || delivered.MessageID == "" {
		t.Fatalf("unexpected delivery: %+v", delivered)
	}

	var msg struct {
		ID       string `json:"id"`
		UserID   string `json:"userId"`
		UserName string `json:"userName"`
		Text     string `json:"text"`
	}
	expect(t, ctx, connB, proto.EventNewMessage, &msg)
	if msg.ID != delivered.MessageID || msg.UserID != "alice" || msg.UserName != "Alice" || msg.Text != "hello" {
		t.Fatalf("unexpected broadcast: %+v", msg)
	}
}

func TestWebSocketRejectsUnknownAndMalformedFrames(t *testing.T) {
	srv := startTestServer(t, testConfig(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, srv.wsURL(""))

	send(t, ctx, conn, "teleport", map[string]string{})
	var unknown proto.ErrorData
	expect(t, ctx, conn, proto.EventError, &unknown)
	if unknown.Code != core.ErrCodeInvalidMessage || !strings.Contains(unknown.Error, "teleport") {
		t.Fatalf("unexpected error: %+v", unknown)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var malformed proto.ErrorData
	expect(t, ctx, conn, proto.EventError, &malformed)
	if malformed.Code != core.ErrCodeInvalidMessage {
		t.Fatalf("unexpected error: %+v", malformed)
	}

	send(t, ctx, conn, proto.EventCollaborativeOperation, "garbage")
	expect(t, ctx, conn, proto.EventOperationError, nil)

	// The connection survives rejected frames.
	send(t, ctx, conn, proto.EventPing, proto.PingData{Timestamp: 42, ClientID: "probe"})
	var pong proto.PongData
	expect(t, ctx, conn, proto.EventPong, &pong)
	if pong.Timestamp != 42 || pong.ClientID != "probe" || pong.ServerTimestamp == 0 {
		t.Fatalf("unexpected pong: %+v", pong)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 2
	srv := startTestServer(t, cfg, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, srv.wsURL(""))

	send(t, ctx, conn, proto.EventUserJoin, proto.UserJoinData{UserID: "alice"})
	expect(t, ctx, conn, proto.EventUserJoined, nil)
	send(t, ctx, conn, proto.EventJoinRoom, proto.RoomRequest{RoomID: "general"})
	expect(t, ctx, conn, proto.EventRoomJoined, nil)

	send(t, ctx, conn, proto.EventSendMessage, proto.SendMessageData{
		RoomID:  "general",
		Message: proto.OutgoingMessage{TempID: "tmp-9", Text: "spam"},
	})
	var rejected proto.ErrorData
	expect(t, ctx, conn, proto.EventMessageError, &rejected)
	if rejected.Code != core.ErrCodeRateLimited || rejected.TempID != "tmp-9" {
		t.Fatalf("unexpected rejection: %+v", rejected)
	}

	send(t, ctx, conn, proto.EventPing, proto.PingData{Timestamp: 1, ClientID: "hb"})
	expect(t, ctx, conn, proto.EventPong, nil)
}

func TestWebSocketRequiresToken(t *testing.T) {
	authService := auth.NewService(&auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "wiresync",
		Audience: "wiresync-clients",
		TTL:      time.Hour,
	})
	srv := startTestServer(t, testConfig(), nil, authService)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, srv.wsURL(""), nil)
	if err == nil {
		t.Fatalf("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %+v", resp)
	}

	_, resp, err = websocket.Dial(ctx, srv.wsURL("token=bogus"), nil)
	if err == nil || resp == nil || resp.StatusCode != 401 {
		t.Fatalf("dial with bad token: err=%v resp=%+v", err, resp)
	}

	token, userID, err := authService.GuestLogin("Alice")
	if err != nil {
		t.Fatalf("guest login: %v", err)
	}
	conn := dial(t, ctx, srv.wsURL("token="+token))

	send(t, ctx, conn, proto.EventUserJoin, proto.UserJoinData{UserID: "mallory"})
	var denied proto.ErrorData
	expect(t, ctx, conn, proto.EventError, &denied)
	if denied.Code != core.ErrCodeUnauthorized {
		t.Fatalf("impersonation not rejected: %+v", denied)
	}

	send(t, ctx, conn, proto.EventUserJoin, proto.UserJoinData{UserID: userID, UserName: "Alice"})
	var joined proto.UserJoinedData
	expect(t, ctx, conn, proto.EventUserJoined, &joined)
	if !joined.Success || joined.User.UserID != userID {
		t.Fatalf("unexpected user_joined: %+v", joined)
	}
}

func TestServerUpgradesBesideRESTRoutes(t *testing.T) {
	srv := startTestServer(t, testConfig(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, srv.wsURL(""))
	send(t, ctx, conn, proto.EventUserJoin, proto.UserJoinData{UserID: "u1", UserName: "alice"})
	expect(t, ctx, conn, proto.EventUserJoined, nil)
	send(t, ctx, conn, proto.EventPing, proto.PingData{Timestamp: 42, ClientID: "c1"})
	var pong proto.PongData
	expect(t, ctx, conn, proto.EventPong, &pong)
	if pong.Timestamp != 42 || pong.ClientID != "c1" {
		t.Fatalf("unexpected pong: %+v", pong)
	}

	resp, err := srv.ts.Client().Get(srv.ts.URL + "/health")
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/health status = %d", resp.StatusCode)
	}
}
