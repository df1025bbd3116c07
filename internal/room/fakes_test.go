package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatrelay/internal/auth"
	"chatrelay/pkg/types"
)

const testSecret = "bridge-secret"

type fakeConn struct {
	id string

	mu       sync.Mutex
	frames   [][]byte
	identity *types.Identity
	closed   bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Identity() (types.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return types.Identity{}, false
	}
	return *c.identity, true
}

func (c *fakeConn) Authenticate(identity types.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil {
		return false
	}
	c.identity = &identity
	return true
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = string(f)
	}
	return out
}

// events returns the JSON object frames, skipping plain-text advisories.
func (c *fakeConn) events() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, f := range c.frames {
		var m map[string]any
		if json.Unmarshal(f, &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) eventsOfType(typ string) []map[string]any {
	var out []map[string]any
	for _, ev := range c.events() {
		if ev["type"] == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// fakeVerifier accepts tokens registered in ids.
type fakeVerifier struct {
	mu    sync.Mutex
	ids   map[string]types.Identity
	calls int
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{ids: map[string]types.Identity{
		"alice-token": {UserID: "user_alice", DisplayName: "Alice"},
		"bob-token":   {UserID: "user_bob", DisplayName: "Bob"},
		"anon-token":  {UserID: "user_anon"},
	}}
}

func (v *fakeVerifier) Verify(_ context.Context, token string) (types.Identity, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	id, ok := v.ids[token]
	if !ok {
		return types.Identity{}, auth.ErrInvalidToken
	}
	return id, nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []*types.JournalEntry
	cleared []string
}

func (j *fakeJournal) Record(entry *types.JournalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *fakeJournal) ClearRoom(roomID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cleared = append(j.cleared, roomID)
}

func (j *fakeJournal) recorded() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	for i, e := range j.entries {
		out[i] = e.Type
	}
	return out
}

type testEnv struct {
	room     *Room
	clock    clockwork.FakeClock
	verifier *fakeVerifier
	journal  *fakeJournal
}

func testOptions(t *testing.T, clock clockwork.FakeClock, verifier *fakeVerifier, journal *fakeJournal) Options {
	return Options{
		Verifier:     verifier,
		SharedSecret: testSecret,
		Clock:        clock,
		Journal:      journal,
		Logger:       zaptest.NewLogger(t),
	}
}

func newTestEnv(t *testing.T, id string) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:    clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		verifier: newFakeVerifier(),
		journal:  &fakeJournal{},
	}
	env.room = New(id, testOptions(t, env.clock, env.verifier, env.journal))
	t.Cleanup(env.room.Stop)
	return env
}

func (e *testEnv) connect(t *testing.T, id, token string) *fakeConn {
	t.Helper()
	conn := newFakeConn(id)
	require.NoError(t, e.room.Connect(context.Background(), conn, token))
	conn.reset()
	return conn
}

func (e *testEnv) send(t *testing.T, conn *fakeConn, frame string) {
	t.Helper()
	require.NoError(t, e.room.HandleMessage(context.Background(), conn, []byte(frame)))
}

func (e *testEnv) bridge(t *testing.T, kind types.BridgeKind, body string) BridgeResult {
	t.Helper()
	res, err := e.room.HandleBridge(context.Background(), kind, "Bearer "+testSecret, []byte(body))
	require.NoError(t, err)
	return res
}

// sync waits for the room loop to drain everything queued before it.
func (e *testEnv) sync(t *testing.T) Stats {
	t.Helper()
	s, err := e.room.Stats(context.Background())
	require.NoError(t, err)
	return s
}
