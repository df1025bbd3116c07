package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	rl := NewRateLimiter(10, time.Minute)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		assert.Equal(t, Accepted, rl.TryConsume(start.Add(time.Duration(i)*time.Second)), "call %d", i+1)
	}
	assert.Equal(t, Exceeded, rl.TryConsume(start.Add(30*time.Second)))
	assert.Equal(t, 10, rl.Count(), "exceeded calls do not mutate the counter")

	// exactly one window after the first call is still the same window
	assert.Equal(t, Exceeded, rl.TryConsume(start.Add(time.Minute)))

	assert.Equal(t, Accepted, rl.TryConsume(start.Add(time.Minute+time.Millisecond)))
	assert.Equal(t, 1, rl.Count())
}

func TestRateLimiterBoundaryBurst(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, Accepted, rl.TryConsume(start))

	// calls on either side of the boundary are counted in separate windows
	end := start.Add(59 * time.Second)
	assert.Equal(t, Accepted, rl.TryConsume(end))
	assert.Equal(t, Accepted, rl.TryConsume(end))
	assert.Equal(t, Exceeded, rl.TryConsume(end))

	next := start.Add(61 * time.Second)
	for i := 0; i < 3; i++ {
		assert.Equal(t, Accepted, rl.TryConsume(next))
	}
	assert.Equal(t, Exceeded, rl.TryConsume(next))
}

func TestRateLimiterFirstCallOpensWindow(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Now()
	assert.Equal(t, Accepted, rl.TryConsume(now))
	assert.Equal(t, Exceeded, rl.TryConsume(now.Add(time.Second)))
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "exceeded", Exceeded.String())
}
