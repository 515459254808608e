package client

import "errors"

var (
	// ErrNoActiveRoom is returned by room operations called before a room was joined.
	ErrNoActiveRoom = errors.New("no active room")
	// ErrNotConnected is returned when a direct emit is attempted without a connection.
	ErrNotConnected = errors.New("not connected")
	// ErrLockTimeout is returned when an edit lock request gets no answer in time.
	ErrLockTimeout = errors.New("edit lock request timed out")
	// ErrClosed is returned by services that were stopped.
	ErrClosed = errors.New("client closed")
)
