package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/vovakirdan/wiresync/internal/chat"
	"github.com/vovakirdan/wiresync/internal/client"
	"github.com/vovakirdan/wiresync/internal/log"
	"github.com/vovakirdan/wiresync/internal/proto"
	"github.com/vovakirdan/wiresync/internal/store/memory"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ws_chat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	api := flag.String("api", "", "http(s) base URL for history paging, empty to disable")
	token := flag.String("token", "", "bearer token when the server requires one")
	user := flag.String("user", "cli-user", "user id")
	name := flag.String("name", "", "display name")
	room := flag.String("room", "general", "room to join")
	logLevel := flag.String("log-level", "warn", "client log level")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(*logLevel, "console")

	var wsOpts client.WSOptions
	if *token != "" {
		wsOpts.Header = http.Header{"Authorization": []string{"Bearer " + *token}}
	}
	opts := client.DefaultOptions()
	mgr := client.NewManager(client.NewWSTransport(*addr, wsOpts, logger), opts, logger)
	defer mgr.Stop()

	session := client.NewChatSession(mgr, memory.New(), opts, logger)
	defer session.Stop()
	if *api != "" {
		session.SetHistorySource(client.NewRoomsAPI(*api, *token, nil))
	}

	mgr.OnStateChange(func(info client.ConnectionInfo) {
		fmt.Printf("* %s", info.State)
		if info.DisconnectReason != "" {
			fmt.Printf(" (%s)", info.DisconnectReason)
		}
		fmt.Println()
	})
	session.OnMessages(newPrinter(*user).print)
	session.OnError(func(e proto.ErrorData) {
		fmt.Printf("! %s: %s\n", e.Code, e.Error)
	})
	session.OnTyping(func(users []chat.TypingUser) {
		if len(users) == 0 {
			return
		}
		names := make([]string, 0, len(users))
		for _, u := range users {
			names = append(names, u.UserName)
		}
		fmt.Printf("... %s typing\n", strings.Join(names, ", "))
	})

	if err := session.Start(*user, *name); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := session.JoinRoom(ctx, *room, *room); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	fmt.Printf("Chatting in %s as %s. /more loads older messages, Ctrl+C exits.\n", *room, *user)
	return readInput(ctx, session)
}

func readInput(ctx context.Context, session *client.ChatSession) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			switch {
			case text == "":
			case text == "/more":
				n, err := session.LoadMoreMessages(ctx)
				if err != nil {
					fmt.Printf("! load more: %v\n", err)
					continue
				}
				fmt.Printf("* loaded %d older messages\n", n)
			default:
				if _, err := session.SendMessage(ctx, text); err != nil {
					fmt.Printf("! send: %v\n", err)
				}
			}
		}
	}
}

// printer prints each message once, and again when its delivery is confirmed.
type printer struct {
	self string
	mu   sync.Mutex
	seen map[string]bool
}

func newPrinter(self string) *printer {
	return &printer{self: self, seen: make(map[string]bool)}
}

func (p *printer) print(msgs []chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		key := m.ID
		if p.seen[key] {
			continue
		}
		p.seen[key] = true
		if m.UserID == p.self && m.Pending() {
			fmt.Printf("[%s] %s: %s (sending)\n", m.Timestamp.Format("15:04:05"), m.UserName, m.Text)
			continue
		}
		if m.UserID == p.self && m.Delivered {
			fmt.Printf("[%s] %s: %s (delivered)\n", m.Timestamp.Format("15:04:05"), m.UserName, m.Text)
			continue
		}
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.UserName, m.Text)
	}
}
