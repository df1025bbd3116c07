package websocket

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay/internal/room"
	"chatrelay/pkg/types"
)

// Config tunes the socket transport.
type Config struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	MaxMessageSize int64
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	return c
}

// Handler upgrades room requests and pumps frames into the room.
type Handler struct {
	rooms    *room.Registry
	cfg      Config
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewHandler(rooms *room.Registry, cfg Config, logger *zap.Logger) *Handler {
	cfg = cfg.withDefaults()
	origins := NewOriginPolicy(cfg.AllowedOrigins)

	h := &Handler{
		rooms:  rooms,
		cfg:    cfg,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			if origins.Check(r) {
				return true
			}
			logger.Warn("blocked websocket origin", zap.String("origin", r.Header.Get("Origin")))
			return false
		},
	}
	return h
}

// ServeRoom handles GET /rooms/{roomId}?token=...
// FUNCTIONAL DISCOVERY: the token is optional here. Connect-time failures
// only degrade the connection; every frame is verified again.
func (h *Handler) ServeRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	if !types.IsValidRoomID(roomID) {
		http.Error(w, ErrInvalidRoom.Error(), http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	ws.SetReadLimit(h.cfg.MaxMessageSize)

	conn := NewConnection(ws, h.cfg, h.logger.With(zap.String("room_id", roomID)))
	token := r.URL.Query().Get("token")

	var rm *room.Room
	err = h.rooms.With(roomID, func(candidate *room.Room) error {
		rm = candidate
		return candidate.Connect(conn.Context(), conn, token)
	})
	if err != nil {
		h.logger.Warn("room join failed", zap.String("room_id", roomID), zap.Error(err))
		_ = conn.Close()
		return
	}

	go h.readPump(rm, conn, ws)
}

func (h *Handler) readPump(rm *room.Room, conn *Connection, ws *websocket.Conn) {
	defer func() {
		if err := rm.Disconnect(context.Background(), conn); err != nil {
			conn.logger.Debug("disconnect failed", zap.Error(err))
		}
		_ = conn.Close()
	}()

	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			h.logReadError(conn, err)
			return
		}
		if err := ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
			return
		}

		if messageType != websocket.TextMessage {
			conn.logger.Debug("dropping non-text frame", zap.Int("type", messageType))
			continue
		}

		if err := rm.HandleMessage(conn.Context(), conn, data); err != nil {
			if errors.Is(err, room.ErrRoomClosed) || errors.Is(err, context.Canceled) {
				return
			}
			conn.logger.Warn("handle message failed", zap.Error(err))
		}
	}
}

func (h *Handler) logReadError(conn *Connection, err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		conn.logger.Info("frame exceeded read limit", zap.Int64("limit", h.cfg.MaxMessageSize))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived),
		errors.Is(err, io.EOF):
		conn.logger.Debug("client disconnected", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		conn.logger.Warn("unexpected websocket close", zap.Error(err))
	default:
		conn.logger.Debug("websocket read ended", zap.Error(err))
	}
}
