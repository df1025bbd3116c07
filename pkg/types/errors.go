package types

import "errors"

// Envelope errors. Socket input failing with these is dropped without a reply.
var (
	ErrMalformedEnvelope = errors.New("malformed event envelope")
	ErrUnknownEventType  = errors.New("unknown event type")
)

// Validation errors returned by bridge events and socket chat messages.
// The message strings are part of the HTTP contract.
var (
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrInvalidTimestamp    = errors.New("invalid timestamp")
	ErrUnknownBridgeKind   = errors.New("unknown bridge event kind")
	ErrMessageRequired     = errors.New("message is required")
	ErrMessageTooLong      = errors.New("message exceeds maximum length")
	ErrRoomIDRequired      = errors.New("chatroomId is required")
	ErrRoomMismatch        = errors.New("chatroomId does not match this room")
	ErrInvalidEventType    = errors.New("invalid event type")
	ErrStreamIDRequired    = errors.New("streamId is required")
	ErrStreamTokenRequired = errors.New("token is required for token frames")
	ErrInvalidSettings     = errors.New("settings must include aiMode and aiEnabled")
	ErrInvalidActor        = errors.New("acting user must include id and name")
	ErrInvalidMember       = errors.New("member must include id, name and role")
	ErrInvalidSender       = errors.New("userId and displayName are required")
)
