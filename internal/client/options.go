// Package client implements the client side of wiresync: the WebSocket transport, the
// connection manager with its offline queue, and the chat and collaborative room sessions.
package client

import "time"

// BackoffStrategy selects how reconnect delays grow.
type BackoffStrategy string

const (
	// BackoffTable walks ReconnectDelays and then repeats the last entry.
	BackoffTable BackoffStrategy = "table"
	// BackoffExponential grows from the first to the last entry of ReconnectDelays with jitter.
	BackoffExponential BackoffStrategy = "exponential"
)

// Options tunes the client services.
type Options struct {
	HeartbeatInterval time.Duration
	// ConnectThrottle ignores Connect calls made this soon after the previous attempt.
	// A negative value disables it.
	ConnectThrottle      time.Duration
	ReconnectDelays      []time.Duration
	MaxReconnectAttempts int
	Backoff              BackoffStrategy
	// QueueMaxRetries bounds how often a queued send is retried after a failed emit.
	// Zero is honored and drops the operation on its first failure; DefaultOptions uses 3.
	QueueMaxRetries int

	TypingTimeout   time.Duration
	LockTimeout     time.Duration
	PageSize        int
	InitialPageSize int

	// Scheduler drives every timer; nil means the wall clock.
	Scheduler Scheduler
}

// DefaultOptions returns the stock client settings.
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval:    30 * time.Second,
		ConnectThrottle:      5 * time.Second,
		ReconnectDelays:      []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second},
		MaxReconnectAttempts: 10,
		Backoff:              BackoffTable,
		QueueMaxRetries:      3,
		TypingTimeout:        3 * time.Second,
		LockTimeout:          10 * time.Second,
		PageSize:             20,
		InitialPageSize:      50,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.ConnectThrottle == 0 {
		o.ConnectThrottle = d.ConnectThrottle
	}
	if len(o.ReconnectDelays) == 0 {
		o.ReconnectDelays = d.ReconnectDelays
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if o.Backoff == "" {
		o.Backoff = d.Backoff
	}
	if o.QueueMaxRetries < 0 {
		o.QueueMaxRetries = 0
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = d.TypingTimeout
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = d.LockTimeout
	}
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.InitialPageSize <= 0 {
		o.InitialPageSize = d.InitialPageSize
	}
	if o.Scheduler == nil {
		o.Scheduler = WallClock()
	}
	return o
}
