package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vovakirdan/wiresync/internal/chat"
	"github.com/vovakirdan/wiresync/internal/proto"
)

func TestRoomsAPI(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(proto.Error{Code: "unauthorized", Msg: "missing token"})
			return
		}
		switch r.URL.Path {
		case "/api/chat/rooms":
			_ = json.NewEncoder(w).Encode(proto.RoomsResponse{Rooms: []string{"general", "random"}})
		case "/api/chat/rooms/general/messages":
			if r.URL.Query().Get("limit") != "2" || r.URL.Query().Get("offset") != "4" {
				t.Errorf("unexpected query: %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(proto.MessagesResponse{
				Messages: []chat.Message{{ID: "m2", RoomID: "general", Timestamp: at}, {ID: "m1", RoomID: "general", Timestamp: at.Add(-time.Second)}},
				HasMore:  true,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(proto.Error{Code: "room_not_found", Msg: "room not found"})
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	api := NewRoomsAPI(srv.URL+"/", "secret", srv.Client())

	rooms, err := api.ListRooms(ctx)
	if err != nil || len(rooms) != 2 || rooms[0] != "general" {
		t.Fatalf("ListRooms = %v, %v", rooms, err)
	}

	msgs, more, err := api.Messages(ctx, "general", 2, 4)
	if err != nil || !more || len(msgs) != 2 || msgs[0].ID != "m2" {
		t.Fatalf("Messages = %v, %v, %v", msgs, more, err)
	}

	if _, _, err := api.Messages(ctx, "missing", 2, 0); err == nil {
		t.Fatalf("expected error for unknown room")
	}
	if _, err := NewRoomsAPI(srv.URL, "", srv.Client()).ListRooms(ctx); err == nil {
		t.Fatalf("expected error without token")
	}
}
