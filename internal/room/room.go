package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"chatrelay/internal/auth"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Defaults applied by Options when a field is left zero.
const (
	DefaultTypingTimeout = 6 * time.Second
	DefaultAIRateLimit   = 10
	DefaultAIRateWindow  = 60 * time.Second
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultCommandBuffer = 256
)

// Options are shared by every room a registry creates.
type Options struct {
	Verifier     auth.Verifier
	SharedSecret string

	TypingTimeout    time.Duration
	AIRateLimit      int
	AIRateWindow     time.Duration
	MaxMessageLength int
	IdleTimeout      time.Duration
	CommandBuffer    int

	Clock   clockwork.Clock
	Journal interfaces.EventJournal
	Logger  *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = DefaultTypingTimeout
	}
	if o.AIRateLimit <= 0 {
		o.AIRateLimit = DefaultAIRateLimit
	}
	if o.AIRateWindow <= 0 {
		o.AIRateWindow = DefaultAIRateWindow
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = types.DefaultMaxMessageLength
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.IdleTimeout < o.AIRateWindow {
		o.IdleTimeout = o.AIRateWindow
	}
	if o.CommandBuffer <= 0 {
		o.CommandBuffer = DefaultCommandBuffer
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Stats is a point-in-time view of a room.
type Stats struct {
	RoomID        string    `json:"roomId"`
	Connections   int       `json:"connections"`
	Authenticated int       `json:"authenticated"`
	Typing        []string  `json:"typing"`
	AIWindowCount int       `json:"aiWindowCount"`
	LastActivity  time.Time `json:"lastActivity"`
}

// Room is the session for one chatroom. Fields marked as owned by run are
// only touched on the run goroutine; public methods reach them through do,
// which queues a closure and waits for it to finish.
type Room struct {
	id      string
	opts    Options
	clock   clockwork.Clock
	logger  *zap.Logger
	journal interfaces.EventJournal

	commands chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// owned by run
	connections  map[string]interfaces.Connection
	typing       *TypingTracker
	aiLimiter    *RateLimiter
	lastActivity time.Time
	retired      bool
}

// New starts a room. Callers normally go through a Registry so that only
// one instance per id is live.
func New(id string, opts Options) *Room {
	opts = opts.withDefaults()

	r := &Room{
		id:          id,
		opts:        opts,
		clock:       opts.Clock,
		logger:      opts.Logger.With(zap.String("room_id", id)),
		journal:     opts.Journal,
		commands:    make(chan func(), opts.CommandBuffer),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		connections: make(map[string]interfaces.Connection),
		aiLimiter:   NewRateLimiter(opts.AIRateLimit, opts.AIRateWindow),
	}
	r.typing = NewTypingTracker(opts.Clock, opts.TypingTimeout, r.onTypingExpired)
	r.lastActivity = r.clock.Now()

	go r.run()
	r.logger.Debug("room started")
	return r
}

func (r *Room) ID() string {
	return r.id
}

// Done is closed once the room has stopped.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// Closed reports whether the room has stopped.
func (r *Room) Closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Stop ends the room loop, cancels typing timers and closes every
// connection. Commands still queued are abandoned with ErrRoomClosed.
func (r *Room) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done
}

func (r *Room) run() {
	defer close(r.done)

	for {
		select {
		case cmd := <-r.commands:
			cmd()
			if r.retired {
				r.shutdown()
				return
			}
		case <-r.stop:
			r.shutdown()
			return
		}
	}
}

func (r *Room) shutdown() {
	r.typing.Reset()
	for id, conn := range r.connections {
		if err := conn.Close(); err != nil {
			r.logger.Debug("close connection on shutdown", zap.String("conn_id", id), zap.Error(err))
		}
		delete(r.connections, id)
	}
	r.logger.Debug("room stopped")
}

// do runs fn on the room goroutine and waits for it. Once queued, fn runs
// even if ctx is canceled.
func (r *Room) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}

	select {
	case r.commands <- cmd:
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-r.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrRoomClosed
		}
	}
}

// post queues fn without waiting. It is used from timer goroutines.
func (r *Room) post(fn func()) bool {
	select {
	case r.commands <- fn:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) touch() {
	r.lastActivity = r.clock.Now()
}

// Stats snapshots the room.
func (r *Room) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.do(ctx, func() {
		s = r.stats()
	})
	return s, err
}

func (r *Room) stats() Stats {
	s := Stats{
		RoomID:        r.id,
		Connections:   len(r.connections),
		Typing:        r.typing.Active(),
		AIWindowCount: r.aiLimiter.Count(),
		LastActivity:  r.lastActivity,
	}
	for _, conn := range r.connections {
		if _, ok := conn.Identity(); ok {
			s.Authenticated++
		}
	}
	return s
}

// retireIfIdle stops the room when it has no connections and has seen no
// activity for the idle timeout. The check and the stop happen in the same
// loop turn, so no command can slip in between.
func (r *Room) retireIfIdle(ctx context.Context, now time.Time) (bool, error) {
	var retired bool
	err := r.do(ctx, func() {
		if len(r.connections) == 0 && now.Sub(r.lastActivity) >= r.opts.IdleTimeout {
			r.retired = true
			retired = true
		}
	})
	return retired, err
}

// broadcast encodes payload once and sends it to every connection except
// exclude. Send failures are logged and never stop the fan-out.
func (r *Room) broadcast(payload any, exclude string) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("encode broadcast", zap.Error(err))
		return nil
	}
	r.fanOut(data, exclude)
	return data
}

func (r *Room) fanOut(data []byte, exclude string) {
	for id, conn := range r.connections {
		if id == exclude {
			continue
		}
		if err := conn.Send(data); err != nil {
			r.logger.Warn("broadcast send failed", zap.String("conn_id", id), zap.Error(err))
		}
	}
}

func (r *Room) sendTo(conn interfaces.Connection, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("encode reply", zap.Error(err))
		return
	}
	if err := conn.Send(data); err != nil {
		r.logger.Warn("reply send failed", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
}

func (r *Room) record(eventType, userID string, payload []byte) {
	if r.journal == nil || payload == nil {
		return
	}
	r.journal.Record(&types.JournalEntry{
		ID:        uuid.NewString(),
		RoomID:    r.id,
		Type:      eventType,
		UserID:    userID,
		Payload:   payload,
		CreatedAt: r.clock.Now(),
	})
}

func (r *Room) startTyping(origin interfaces.Connection, userID, displayName string) {
	r.typing.Start(userID, displayName)
	r.broadcast(types.TypingPayload{
		Type:        types.EventTypingStart,
		UserID:      userID,
		DisplayName: displayName,
		Timestamp:   types.MillisFrom(r.clock.Now()),
		RoomID:      r.id,
	}, origin.ID())
}

func (r *Room) stopTyping(userID string) {
	displayName, ok := r.typing.Stop(userID)
	if !ok {
		return
	}
	r.broadcastTypingStop(userID, displayName)
}

func (r *Room) broadcastTypingStop(userID, displayName string) {
	r.broadcast(types.TypingPayload{
		Type:        types.EventTypingStop,
		UserID:      userID,
		DisplayName: displayName,
		Timestamp:   types.MillisFrom(r.clock.Now()),
		RoomID:      r.id,
	}, "")
}

func (r *Room) onTypingExpired(userID string, generation uint64) {
	r.post(func() {
		displayName, ok := r.typing.Expire(userID, generation)
		if !ok {
			return
		}
		r.logger.Debug("typing expired", zap.String("user_id", userID))
		r.broadcastTypingStop(userID, displayName)
	})
}
