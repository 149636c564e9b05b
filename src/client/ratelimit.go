package client

import "time"

const (
	outboundLimit    = 120
	outboundReserved = 5
	outboundWindow   = 60 * time.Second
)

// limiter is a fixed-window counter for frames sent on one connection. The
// last reserved units of each window are only spent on priority frames so
// heartbeats and resumes are never starved by bulk sends.
type limiter struct {
	total    int
	reserved int
	window   time.Duration

	remaining int
	resetAt   time.Time
}

func newLimiter(total, reserved int, window time.Duration) *limiter {
	return &limiter{
		total:    total,
		reserved: reserved,
		window:   window,
	}
}

func (l *limiter) reset(now time.Time) {
	l.remaining = l.total
	l.resetAt = now.Add(l.window)
}

func (l *limiter) take(now time.Time, priority bool) bool {
	if !now.Before(l.resetAt) {
		l.reset(now)
	}

	floor := l.reserved
	if priority {
		floor = 0
	}
	if l.remaining <= floor {
		return false
	}

	l.remaining--
	return true
}
