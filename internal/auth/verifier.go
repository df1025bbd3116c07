package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatrelay/pkg/types"
)

// Verifier turns an opaque user token into an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (types.Identity, error)
}

// ClerkConfig configures a ClerkVerifier.
type ClerkConfig struct {
	// PublicKey is the PEM encoded RSA key Clerk signs session tokens with.
	// Literal "\n" sequences are accepted so the key fits in one env var.
	PublicKey string
	// AuthorizedParties restricts the azp claim when non-empty.
	AuthorizedParties []string
	Leeway            time.Duration
}

// ClerkClaims are the session token claims the relay reads.
type ClerkClaims struct {
	AuthorizedParty string `json:"azp,omitempty"`
	Name            string `json:"name,omitempty"`
	Username        string `json:"username,omitempty"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	jwt.RegisteredClaims
}

// DisplayName picks the first available name claim.
func (c *ClerkClaims) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Username != "" {
		return c.Username
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// ClerkVerifier verifies Clerk session JWTs offline against a static RS256 key.
type ClerkVerifier struct {
	key     *rsa.PublicKey
	parties []string
	parser  *jwt.Parser
}

// NewClerkVerifier parses the configured key. An empty key is not an error:
// the returned verifier rejects every token.
func NewClerkVerifier(cfg ClerkConfig) (*ClerkVerifier, error) {
	v := &ClerkVerifier{
		parties: cfg.AuthorizedParties,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithLeeway(cfg.Leeway),
			jwt.WithExpirationRequired(),
		),
	}

	pem := strings.TrimSpace(strings.ReplaceAll(cfg.PublicKey, `\n`, "\n"))
	if pem == "" {
		return v, nil
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSigningKey, err)
	}
	v.key = key
	return v, nil
}

// Configured reports whether a signing key is loaded.
func (v *ClerkVerifier) Configured() bool {
	return v.key != nil
}

func (v *ClerkVerifier) Verify(ctx context.Context, token string) (types.Identity, error) {
	if err := ctx.Err(); err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if v.key == nil {
		return types.Identity{}, fmt.Errorf("%w: no signing key configured", ErrInvalidToken)
	}
	if token == "" {
		return types.Identity{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &ClerkClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return types.Identity{}, ErrInvalidToken
	}

	if claims.Subject == "" {
		return types.Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if len(v.parties) > 0 && claims.AuthorizedParty != "" && !slices.Contains(v.parties, claims.AuthorizedParty) {
		return types.Identity{}, fmt.Errorf("%w: unauthorized party %q", ErrInvalidToken, claims.AuthorizedParty)
	}

	return types.Identity{
		UserID:      claims.Subject,
		DisplayName: claims.DisplayName(),
	}, nil
}
