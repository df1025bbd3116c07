package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatrelay/pkg/types"
)

const maxRoomRetries = 3

// Registry owns the live rooms, keyed by id. It creates rooms lazily and
// guarantees at most one live instance per id.
type Registry struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

// NewRegistry creates an empty registry. opts are applied to every room it creates.
func NewRegistry(opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		opts:   opts,
		logger: opts.Logger,
		rooms:  make(map[string]*Room),
	}
}

// Room returns the live room for id, starting one if needed.
func (g *Registry) Room(id string) (*Room, error) {
	if !types.IsValidRoomID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoomID, id)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrRegistryClosed
	}
	if r, ok := g.rooms[id]; ok && !r.Closed() {
		return r, nil
	}

	r := New(id, g.opts)
	g.rooms[id] = r
	g.logger.Info("room created", zap.String("room_id", id), zap.Int("rooms", len(g.rooms)))
	return r, nil
}

// Lookup returns the live room for id without creating one.
func (g *Registry) Lookup(id string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[id]
	if !ok || r.Closed() {
		return nil, false
	}
	return r, true
}

// With runs fn against the live room for id. If the room stops underneath
// the call, fn is retried on a fresh instance.
func (g *Registry) With(id string, fn func(*Room) error) error {
	var err error
	for attempt := 0; attempt < maxRoomRetries; attempt++ {
		var r *Room
		r, err = g.Room(id)
		if err != nil {
			return err
		}

		err = fn(r)
		if !errors.Is(err, ErrRoomClosed) {
			return err
		}
		g.forget(r)
	}
	return err
}

func (g *Registry) forget(r *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.rooms[r.ID()]; ok && cur == r {
		delete(g.rooms, r.ID())
	}
}

func (g *Registry) snapshot() []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// Sweep stops rooms that have no connections and have been idle for the
// idle timeout. It returns how many rooms were retired.
func (g *Registry) Sweep(ctx context.Context, now time.Time) int {
	retired := 0
	for _, r := range g.snapshot() {
		ok, err := r.retireIfIdle(ctx, now)
		if err != nil && !errors.Is(err, ErrRoomClosed) {
			g.logger.Warn("idle check failed", zap.String("room_id", r.ID()), zap.Error(err))
			continue
		}
		if ok || errors.Is(err, ErrRoomClosed) {
			<-r.Done()
			g.forget(r)
			if ok {
				retired++
			}
		}
	}
	if retired > 0 {
		g.logger.Info("idle rooms retired", zap.Int("retired", retired), zap.Int("rooms", g.Len()))
	}
	return retired
}

// RunSweeper calls Sweep every interval until ctx is done.
func (g *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := g.opts.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.Chan():
			g.Sweep(ctx, now)
		}
	}
}

// List returns stats for every live room, ordered by id.
func (g *Registry) List(ctx context.Context) []Stats {
	rooms := g.snapshot()
	out := make([]Stats, 0, len(rooms))
	for _, r := range rooms {
		s, err := r.Stats(ctx)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// RegistryStats aggregates List over every live room.
type RegistryStats struct {
	Rooms         int `json:"rooms"`
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
	Typing        int `json:"typing"`
}

// Stats sums the per-room stats of every live room.
func (g *Registry) Stats(ctx context.Context) RegistryStats {
	var out RegistryStats
	for _, s := range g.List(ctx) {
		out.Rooms++
		out.Connections += s.Connections
		out.Authenticated += s.Authenticated
		out.Typing += len(s.Typing)
	}
	return out
}

// AuthorizeBridge checks a bridge Authorization header against the shared
// secret every room uses, without touching any room.
func (g *Registry) AuthorizeBridge(authorization string) (BridgeResult, bool) {
	return AuthorizeBridge(authorization, g.opts.SharedSecret, g.logger)
}

// Len is the number of rooms currently tracked.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Close stops every room and refuses new ones.
func (g *Registry) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.rooms = make(map[string]*Room)
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range rooms {
		wg.Add(1)
		go func(r *Room) {
			defer wg.Done()
			r.Stop()
		}(r)
	}
	wg.Wait()
	g.logger.Info("room registry closed", zap.Int("rooms", len(rooms)))
}
