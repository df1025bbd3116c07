package interfaces

import "chatrelay/pkg/types"

// Connection is one live client socket attached to a room.
// ARCHITECTURAL DISCOVERY: the room only ever sees this abstraction, so room
// tests run against in-memory fakes and the gorilla wrapper stays in internal/websocket.
type Connection interface {
	// ID is unique per socket and is echoed as senderId on chat broadcasts.
	ID() string

	// Send queues a frame for delivery without blocking. An error means the
	// frame was not queued; the connection may already be closed.
	Send(data []byte) error

	// Identity returns the verified identity, if the connection has authenticated.
	Identity() (types.Identity, bool)

	// Authenticate attaches a verified identity. It is one-way: a connection that
	// already has an identity keeps it and false is returned.
	Authenticate(identity types.Identity) bool

	Close() error
}
