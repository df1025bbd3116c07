package room

import (
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
)

type typingEntry struct {
	displayName string
	timer       clockwork.Timer
	generation  uint64
}

// TypingTracker holds who is composing in a room. Each user has at most one
// entry and one live expiry timer. It does no broadcasting and no locking:
// the room loop owns it and fans out the transitions it reports.
type TypingTracker struct {
	clock   clockwork.Clock
	timeout time.Duration
	entries map[string]*typingEntry
	nextGen uint64

	// onExpire runs on the timer goroutine. It must hand the expiry back to
	// the owner rather than touch the tracker directly.
	onExpire func(userID string, generation uint64)
}

func NewTypingTracker(clock clockwork.Clock, timeout time.Duration, onExpire func(userID string, generation uint64)) *TypingTracker {
	return &TypingTracker{
		clock:    clock,
		timeout:  timeout,
		entries:  make(map[string]*typingEntry),
		onExpire: onExpire,
	}
}

// Start creates or refreshes the entry for userID. Any pending timer is
// stopped before the new one is armed.
func (t *TypingTracker) Start(userID, displayName string) {
	if existing, ok := t.entries[userID]; ok {
		existing.timer.Stop()
	}

	t.nextGen++
	gen := t.nextGen
	entry := &typingEntry{
		displayName: displayName,
		generation:  gen,
	}
	entry.timer = t.clock.AfterFunc(t.timeout, func() {
		if t.onExpire != nil {
			t.onExpire(userID, gen)
		}
	})
	t.entries[userID] = entry
}

// Stop removes the entry for userID and returns the display name it carried.
// ok is false when the user was not typing.
func (t *TypingTracker) Stop(userID string) (displayName string, ok bool) {
	entry, ok := t.entries[userID]
	if !ok {
		return "", false
	}
	entry.timer.Stop()
	delete(t.entries, userID)
	return entry.displayName, true
}

// Expire is Stop guarded by the generation the timer was armed with, so a
// timer that fired just before being replaced is ignored.
func (t *TypingTracker) Expire(userID string, generation uint64) (displayName string, ok bool) {
	entry, exists := t.entries[userID]
	if !exists || entry.generation != generation {
		return "", false
	}
	return t.Stop(userID)
}

// Reset cancels every timer and forgets all entries.
func (t *TypingTracker) Reset() {
	for userID, entry := range t.entries {
		entry.timer.Stop()
		delete(t.entries, userID)
	}
}

func (t *TypingTracker) IsTyping(userID string) bool {
	_, ok := t.entries[userID]
	return ok
}

// Active returns the ids of typing users in sorted order.
func (t *TypingTracker) Active() []string {
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *TypingTracker) Len() int {
	return len(t.entries)
}
