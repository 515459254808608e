package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vovakirdan/wiresync/internal/chat"
	"github.com/vovakirdan/wiresync/internal/proto"
)

// RoomsAPI reads room listings and message history over the server's REST endpoints.
type RoomsAPI struct {
	base   string
	token  string
	client *http.Client
}

// NewRoomsAPI returns a client for the http(s) server at baseURL. token, if set, is sent as a
// bearer token.
func NewRoomsAPI(baseURL, token string, client *http.Client) *RoomsAPI {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RoomsAPI{base: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

// ListRooms returns the ids of the server's chat rooms.
func (a *RoomsAPI) ListRooms(ctx context.Context) ([]string, error) {
	var resp proto.RoomsResponse
	if err := a.get(ctx, "/api/chat/rooms", &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// Messages returns one page of a room's messages, most recent first.
func (a *RoomsAPI) Messages(ctx context.Context, roomID string, limit, offset int) ([]chat.Message, bool, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	path := "/api/chat/rooms/" + url.PathEscape(roomID) + "/messages?" + q.Encode()

	var resp proto.MessagesResponse
	if err := a.get(ctx, path, &resp); err != nil {
		return nil, false, err
	}
	return resp.Messages, resp.HasMore, nil
}

func (a *RoomsAPI) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var perr proto.Error
		if json.NewDecoder(resp.Body).Decode(&perr) == nil && perr.Msg != "" {
			return fmt.Errorf("get %s: %s: %s", path, perr.Code, perr.Msg)
		}
		return fmt.Errorf("get %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
