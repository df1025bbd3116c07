package auth

import (
	"crypto/subtle"
	"strings"
)

const bearerPrefix = "Bearer "

// CheckBearer validates an Authorization header against the backend shared
// secret. An empty secret fails with ErrSecretNotConfigured whatever the header says.
func CheckBearer(header, secret string) error {
	if secret == "" {
		return ErrSecretNotConfigured
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return ErrUnauthorized
	}

	supplied := strings.TrimSpace(header[len(bearerPrefix):])
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
