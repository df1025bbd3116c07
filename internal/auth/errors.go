package auth

import "errors"

var (
	// ErrInvalidToken covers every verification failure: malformed, expired,
	// bad signature, unauthorized party or no signing key. Callers must not
	// branch on the wrapped cause; it is there for logs.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnauthorized is returned when a bridge request lacks the shared secret.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSecretNotConfigured means the bridge cannot authenticate anyone.
	ErrSecretNotConfigured = errors.New("shared secret not configured")

	ErrInvalidSigningKey = errors.New("invalid signing key")
)
