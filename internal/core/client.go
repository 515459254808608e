package core

// Client is a connected peer as seen by the core layer.
//
// The transport writes Commands and reads Events; the hub closes Events once the client is
// unregistered. Identity fields are owned by the hub goroutine.
type Client struct {
	ID       string
	Commands chan *Command
	Events   chan *Event

	// authUserID, when set, pins the user id this connection may act as.
	authUserID string
	userID     string
	userName   string

	gone chan struct{}
}

// NewClient constructs a client with initialized channels. authUserID may be empty when the
// server runs without authentication.
func NewClient(id, authUserID string) *Client {
	return &Client{
		ID:         id,
		Commands:   make(chan *Command, 32),
		Events:     make(chan *Event, 128),
		authUserID: authUserID,
		gone:       make(chan struct{}),
	}
}

// Done is closed once the hub has dropped the client.
func (c *Client) Done() <-chan struct{} {
	return c.gone
}
