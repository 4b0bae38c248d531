// Package auth implements the two external collaborators the realtime core
// delegates to: token verification, which turns a bearer token into a
// verified identity plus claims, and room authorization, which decides
// whether an identity may join a room based on those claims.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/campusapps/roomcast/internal/realtime"
)

// ErrInvalidToken is returned for tokens that fail parsing, signature
// verification, or expiry checks.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload expected inside an access token. Subject carries the
// user id; the custom claims list the team and event scopes the REST layer
// granted at login.
type Claims struct {
	jwt.RegisteredClaims
	Role   string   `json:"role"`
	Teams  []string `json:"teams"`
	Events []string `json:"events"`
}

// RoleAdmin marks users allowed into the admin room.
const RoleAdmin = "admin"

// Verifier validates HMAC-signed access tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for tokens signed with the given shared
// secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a bearer token and returns the identity plus
// its claims. An empty token yields an anonymous identity with nil claims,
// which the core restricts to the global room.
func (v *Verifier) Verify(token string) (realtime.Identity, *Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", nil, nil
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return realtime.Identity(claims.Subject), claims, nil
}

// Sign issues a token for the given claims. Used by tests and local tooling;
// production tokens come from the REST layer.
func (v *Verifier) Sign(claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
