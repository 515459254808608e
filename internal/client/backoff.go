package client

import (
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// delayTable steps through a fixed list of delays and then repeats the last one.
type delayTable struct {
	delays []time.Duration
	next   int
}

func (d *delayTable) NextBackOff() time.Duration {
	if len(d.delays) == 0 {
		return backoff.Stop
	}
	i := min(d.next, len(d.delays)-1)
	d.next++
	return d.delays[i]
}

func (d *delayTable) Reset() { d.next = 0 }

func newBackOff(o Options) backoff.BackOff {
	if o.Backoff == BackoffExponential && len(o.ReconnectDelays) > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = o.ReconnectDelays[0]
		b.MaxInterval = o.ReconnectDelays[len(o.ReconnectDelays)-1]
		b.Reset()
		return b
	}
	return &delayTable{delays: slices.Clone(o.ReconnectDelays)}
}
