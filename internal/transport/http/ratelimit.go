package http

import "golang.org/x/time/rate"

// newRateLimiter returns a per-connection token bucket. A non-positive limit disables it.
func newRateLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func allow(l *rate.Limiter) bool {
	return l == nil || l.Allow()
}
