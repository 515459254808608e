package client

import "time"

// Timer is a pending callback.
type Timer interface {
	// Stop cancels the callback. It reports false if the callback already ran or was stopped.
	Stop() bool
}

// Scheduler is the clock the client services run on.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// WallClock returns the real-time scheduler.
func WallClock() Scheduler { return wallClock{} }
