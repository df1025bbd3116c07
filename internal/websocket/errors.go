package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendQueueFull    = errors.New("send queue full")
)

// Handler-related errors
var (
	ErrInvalidRoom = errors.New("invalid room id")
)
