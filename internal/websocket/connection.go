package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay/pkg/types"
)

// Connection implements interfaces.Connection over a gorilla socket.
// ARCHITECTURAL DISCOVERY: gorilla allows one concurrent writer, so every
// frame and every ping goes through writeLoop.
type Connection struct {
	id     string
	conn   *websocket.Conn
	cfg    Config
	logger *zap.Logger

	sendCh chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	mu        sync.RWMutex
	identity  *types.Identity
}

// NewConnection wraps conn and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, cfg Config, logger *zap.Logger) *Connection {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	id := uuid.NewString()
	c := &Connection{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		logger: logger.With(zap.String("conn_id", id)),
		sendCh: make(chan []byte, cfg.SendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	go c.writeLoop()
	return c
}

func (c *Connection) ID() string {
	return c.id
}

// Context is canceled when the connection closes.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Send queues data without blocking. A full queue means the peer is not
// keeping up; the connection is closed rather than stalling the room.
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.logger.Warn("send queue full, closing connection", zap.Int("queue", cap(c.sendCh)))
		_ = c.Close()
		return ErrSendQueueFull
	}
}

// TECHNICAL DISCOVERY: sendCh is never closed; Send may race with Close and
// a send on a closed channel panics. Cancellation ends the loop instead.
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Close stops the writer and closes the socket. It is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Connection) Identity() (types.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return types.Identity{}, false
	}
	return *c.identity, true
}

// Authenticate attaches identity once. Later calls keep the first identity.
func (c *Connection) Authenticate(identity types.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil {
		return false
	}
	c.identity = &identity
	return true
}
