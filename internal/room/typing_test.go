package room

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type expiryRecorder struct {
	mu    sync.Mutex
	fired []uint64
}

func (r *expiryRecorder) record(_ string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, gen)
}

func (r *expiryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func (r *expiryRecorder) last() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fired[len(r.fired)-1]
}

func TestTypingRestartKeepsOneTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &expiryRecorder{}
	tracker := NewTypingTracker(clock, 6*time.Second, rec.record)

	tracker.Start("u1", "Alice")
	clock.Advance(4 * time.Second)
	tracker.Start("u1", "Alice")

	// the first timer would have fired here
	clock.Advance(3 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.count())

	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	_, ok := tracker.Expire("u1", rec.last())
	assert.True(t, ok)
	assert.False(t, tracker.IsTyping("u1"))
}

func TestTypingExpireIgnoresStaleGeneration(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tracker := NewTypingTracker(clock, 6*time.Second, nil)

	tracker.Start("u1", "Alice")
	stale := tracker.entries["u1"].generation
	tracker.Start("u1", "Alice Again")

	_, ok := tracker.Expire("u1", stale)
	assert.False(t, ok)
	assert.True(t, tracker.IsTyping("u1"))

	name, ok := tracker.Expire("u1", tracker.entries["u1"].generation)
	assert.True(t, ok)
	assert.Equal(t, "Alice Again", name)
}

func TestTypingStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &expiryRecorder{}
	tracker := NewTypingTracker(clock, 6*time.Second, rec.record)

	_, ok := tracker.Stop("nobody")
	assert.False(t, ok)

	tracker.Start("u1", "Alice")
	name, ok := tracker.Stop("u1")
	assert.True(t, ok)
	assert.Equal(t, "Alice", name)
	assert.Equal(t, 0, tracker.Len())

	clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.count(), "stopped timer must not fire")
}

func TestTypingReset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &expiryRecorder{}
	tracker := NewTypingTracker(clock, 6*time.Second, rec.record)

	tracker.Start("u2", "Bob")
	tracker.Start("u1", "Alice")
	assert.Equal(t, []string{"u1", "u2"}, tracker.Active())

	tracker.Reset()
	assert.Equal(t, 0, tracker.Len())

	clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}
