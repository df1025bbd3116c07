package room

import "time"

// Decision is the outcome of RateLimiter.TryConsume.
type Decision int

const (
	Accepted Decision = iota
	Exceeded
)

func (d Decision) String() string {
	if d == Accepted {
		return "accepted"
	}
	return "exceeded"
}

// RateLimiter is a fixed-window counter for AI broadcasts in one room.
// The window resets wholesale, so a burst straddling a boundary can see up
// to twice the limit. It is not safe for concurrent use; the room loop owns it.
type RateLimiter struct {
	limit       int
	window      time.Duration
	windowStart time.Time
	count       int
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
	}
}

// TryConsume takes one slot from the current window. The window rolls over
// lazily when more than window has passed since it opened. An exceeded call
// does not touch the counter.
func (rl *RateLimiter) TryConsume(now time.Time) Decision {
	if now.Sub(rl.windowStart) > rl.window {
		rl.windowStart = now
		rl.count = 0
	}

	if rl.count >= rl.limit {
		return Exceeded
	}

	rl.count++
	return Accepted
}

// Count returns the number of slots used in the window as of the last call.
func (rl *RateLimiter) Count() int {
	return rl.count
}
