package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chatrelay/internal/auth"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Connect-time advisories. They are sent as plain text frames, not JSON, so
// clients can tell them apart from room events.
const (
	AdvisoryMissingToken  = "Missing Clerk token. Connection will be limited."
	AdvisoryAuthenticated = "Authenticated with Clerk"
	AdvisoryInvalidToken  = "Invalid Clerk token. Connection will be limited."
)

var errNoVerifier = fmt.Errorf("%w: no verifier configured", auth.ErrInvalidToken)

// Per-message auth failures, replied to the sender only.
const (
	ReplyMissingToken = "Missing Clerk token in message."
	ReplyInvalidToken = "Invalid Clerk token."
)

// Connect verifies the connect-time token and adds conn to the room. The
// connection joins whatever the outcome; a failed check only leaves it
// unauthenticated.
func (r *Room) Connect(ctx context.Context, conn interfaces.Connection, token string) error {
	advisory := AdvisoryMissingToken
	var identity types.Identity
	verified := false

	if token != "" {
		id, err := r.verify(ctx, token)
		if err != nil {
			r.logger.Warn("connect token rejected", zap.String("conn_id", conn.ID()), zap.Error(err))
			advisory = AdvisoryInvalidToken
		} else {
			identity = id
			verified = true
			advisory = AdvisoryAuthenticated
		}
	}

	return r.do(ctx, func() {
		if verified {
			conn.Authenticate(identity)
		}
		r.connections[conn.ID()] = conn
		r.touch()

		if err := conn.Send([]byte(advisory)); err != nil {
			r.logger.Warn("advisory send failed", zap.String("conn_id", conn.ID()), zap.Error(err))
		}
		r.logger.Info("connection joined",
			zap.String("conn_id", conn.ID()),
			zap.Bool("authenticated", verified),
			zap.Int("connections", len(r.connections)))
	})
}

// HandleMessage processes one socket frame from conn. The token is verified
// on the caller's goroutine; only the resulting state change is queued.
func (r *Room) HandleMessage(ctx context.Context, conn interfaces.Connection, data []byte) error {
	env, err := types.ParseEnvelope(data)
	if err != nil {
		r.logger.Debug("dropping unparsable frame", zap.String("conn_id", conn.ID()), zap.Error(err))
		return nil
	}

	if env.Token == "" {
		return r.do(ctx, func() {
			r.sendTo(conn, types.ErrorReply{Error: ReplyMissingToken})
		})
	}

	identity, err := r.verify(ctx, env.Token)
	if err != nil {
		r.logger.Warn("message token rejected", zap.String("conn_id", conn.ID()), zap.Error(err))
		return r.do(ctx, func() {
			r.sendTo(conn, types.ErrorReply{Error: ReplyInvalidToken})
		})
	}

	event, eventErr := env.Event()

	return r.do(ctx, func() {
		if conn.Authenticate(identity) {
			r.logger.Debug("connection authenticated by message", zap.String("conn_id", conn.ID()))
		}
		r.touch()

		if eventErr != nil {
			r.logger.Debug("dropping frame", zap.String("conn_id", conn.ID()), zap.Error(eventErr))
			return
		}

		switch ev := event.(type) {
		case types.TypingStartEvent:
			r.startTyping(conn, identity.UserID, displayNameOr(ev.DisplayName))
		case types.TypingStopEvent:
			r.stopTyping(identity.UserID)
		case types.ChatMessageEvent:
			r.relayChat(conn, identity, ev)
		}
	})
}

// Disconnect removes conn and ends any typing state of its identity.
func (r *Room) Disconnect(ctx context.Context, conn interfaces.Connection) error {
	err := r.do(ctx, func() {
		if _, ok := r.connections[conn.ID()]; !ok {
			return
		}
		delete(r.connections, conn.ID())
		r.touch()

		if identity, ok := conn.Identity(); ok {
			r.stopTyping(identity.UserID)
		}
		r.logger.Info("connection left",
			zap.String("conn_id", conn.ID()),
			zap.Int("connections", len(r.connections)))
	})
	if errors.Is(err, ErrRoomClosed) {
		return nil
	}
	return err
}

func (r *Room) verify(ctx context.Context, token string) (types.Identity, error) {
	if r.opts.Verifier == nil {
		return types.Identity{}, errNoVerifier
	}
	return r.opts.Verifier.Verify(ctx, token)
}

func (r *Room) relayChat(conn interfaces.Connection, identity types.Identity, ev types.ChatMessageEvent) {
	r.stopTyping(identity.UserID)

	if err := types.ValidateText(ev.Text, r.opts.MaxMessageLength); err != nil {
		r.logger.Debug("dropping chat message", zap.String("conn_id", conn.ID()), zap.Error(err))
		return
	}

	displayName := identity.DisplayName
	if displayName == "" {
		displayName = displayNameOr(ev.DisplayName)
	}

	fields := make(map[string]json.RawMessage, len(ev.Fields)+5)
	for k, v := range ev.Fields {
		fields[k] = v
	}
	set := func(key string, v any) {
		raw, err := json.Marshal(v)
		if err == nil {
			fields[key] = raw
		}
	}
	set("senderId", conn.ID())
	set("userId", identity.UserID)
	set("displayName", displayName)
	set("roomId", r.id)
	set("timestamp", types.MillisFrom(r.clock.Now()))

	data := r.broadcast(fields, conn.ID())
	r.record(types.EventChatMessage, identity.UserID, data)
}

func displayNameOr(name string) string {
	if name == "" {
		return types.AnonymousDisplayName
	}
	return name
}
