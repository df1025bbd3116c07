package room

import "errors"

var (
	// ErrRoomClosed is returned by commands sent to a room that has stopped.
	// Registry.With retries these on a fresh instance.
	ErrRoomClosed = errors.New("room closed")

	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrInvalidRoomID  = errors.New("invalid room id")
	ErrRegistryClosed = errors.New("room registry closed")
)
