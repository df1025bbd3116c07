package room

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"chatrelay/internal/auth"
	"chatrelay/pkg/types"
)

// Stable bridge error bodies.
const (
	BridgeErrMisconfigured = "Server misconfigured"
	BridgeErrUnauthorized  = "Unauthorized"
	BridgeErrRateLimited   = "Rate limit exceeded"
)

// BridgeResult is the HTTP outcome of a bridge request. Body is either
// types.SuccessReply or types.ErrorReply.
type BridgeResult struct {
	Status int
	Body   any
}

func bridgeError(status int, msg string) BridgeResult {
	return BridgeResult{Status: status, Body: types.ErrorReply{Error: msg}}
}

// AuthorizeBridge checks a bridge Authorization header against secret. When
// ok is false the request must be answered with result and go no further.
func AuthorizeBridge(authorization, secret string, logger *zap.Logger) (result BridgeResult, ok bool) {
	if err := auth.CheckBearer(authorization, secret); err != nil {
		if errors.Is(err, auth.ErrSecretNotConfigured) {
			logger.Error("bridge request rejected: shared secret not configured")
			return bridgeError(http.StatusInternalServerError, BridgeErrMisconfigured), false
		}
		logger.Warn("bridge request unauthorized", zap.Error(err))
		return bridgeError(http.StatusUnauthorized, BridgeErrUnauthorized), false
	}
	return BridgeResult{}, true
}

// HandleBridge authenticates, rate-limits, validates and broadcasts one
// backend request. Authentication precedes everything else; for ai-message
// the limiter is consulted before the body is validated.
func (r *Room) HandleBridge(ctx context.Context, kind types.BridgeKind, authorization string, body []byte) (BridgeResult, error) {
	if result, ok := AuthorizeBridge(authorization, r.opts.SharedSecret, r.logger.With(zap.String("kind", string(kind)))); !ok {
		return result, nil
	}

	event, decodeErr := types.DecodeBridgeEvent(kind, body)

	var result BridgeResult
	err := r.do(ctx, func() {
		result = r.applyBridge(kind, event, decodeErr)
	})
	return result, err
}

func (r *Room) applyBridge(kind types.BridgeKind, event types.BridgeEvent, decodeErr error) BridgeResult {
	now := r.clock.Now()
	r.touch()

	if kind == types.BridgeAIMessage {
		if r.aiLimiter.TryConsume(now) == Exceeded {
			r.logger.Warn("ai broadcast rate limited", zap.Int("limit", r.opts.AIRateLimit))
			return bridgeError(http.StatusTooManyRequests, BridgeErrRateLimited)
		}
	}

	if decodeErr != nil {
		r.logger.Debug("bridge body rejected", zap.String("kind", string(kind)), zap.Error(decodeErr))
		return bridgeError(http.StatusBadRequest, decodeErr.Error())
	}
	if err := event.Validate(r.opts.MaxMessageLength); err != nil {
		r.logger.Debug("bridge body invalid", zap.String("kind", string(kind)), zap.Error(err))
		return bridgeError(http.StatusBadRequest, err.Error())
	}
	if event.TargetRoom() != r.id {
		r.logger.Warn("bridge room mismatch", zap.String("kind", string(kind)), zap.String("target", event.TargetRoom()))
		return bridgeError(http.StatusBadRequest, types.ErrRoomMismatch.Error())
	}

	out := event.Broadcast(r.id, now)
	if out.ClearHistory && r.journal != nil {
		r.journal.ClearRoom(r.id)
	}

	data := r.broadcast(out.Payload, "")
	if out.Journal {
		r.record(out.Type, out.UserID, data)
	}

	r.logger.Debug("bridge event broadcast",
		zap.String("kind", string(kind)),
		zap.String("type", out.Type),
		zap.Int("recipients", len(r.connections)))
	return BridgeResult{Status: http.StatusOK, Body: types.SuccessReply{Success: true}}
}
