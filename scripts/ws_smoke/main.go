package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wiresync/internal/proto"
	"github.com/vovakirdan/wiresync/internal/utils"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "bearer token when the server requires one")
	user := flag.String("user", "tester", "user id to introduce with user_join")
	room := flag.String("room", "general", "room id")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	url := *addr
	if *token != "" {
		url += "?token=" + *token
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(event string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", event, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Event: event, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", event, err)
		}
		return nil
	}

	tempID := utils.NewTempID(time.Now())
	steps := []struct {
		event string
		data  any
	}{
		{proto.EventUserJoin, proto.UserJoinData{UserID: *user, UserName: *user, Timestamp: time.Now()}},
		{proto.EventJoinRoom, proto.RoomRequest{RoomID: *room, UserID: *user, UserName: *user}},
		{proto.EventSendMessage, proto.SendMessageData{RoomID: *room, Message: proto.OutgoingMessage{
			TempID: tempID, UserID: *user, UserName: *user, Text: *text,
		}}},
	}
	for _, step := range steps {
		if err := send(step.event, step.data); err != nil {
			return err
		}
	}

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("received event=%s data=%s\n", f.Event, f.Data)

		switch f.Event {
		case proto.EventMessageDelivered:
			var evt proto.MessageDeliveredData
			if err := json.Unmarshal(f.Data, &evt); err != nil {
				return fmt.Errorf("unmarshal message_delivered: %w", err)
			}
			if evt.TempID == tempID {
				fmt.Printf("delivered: tempId=%s messageId=%s\n", evt.TempID, evt.MessageID)
				return nil
			}
		case proto.EventMessageError, proto.EventError:
			var evt proto.ErrorData
			_ = json.Unmarshal(f.Data, &evt)
			return fmt.Errorf("server error %s: %s", evt.Code, evt.Error)
		}
	}
}
