package auth

import "github.com/campusapps/roomcast/internal/realtime"

// SessionAuth couples token verification with the roster: a successful
// handshake binds the user's claims so the authorizer can answer joins for
// the lifetime of their session.
type SessionAuth struct {
	verifier *Verifier
	roster   *Roster
}

// NewSessionAuth creates the handshake authenticator used by the transport.
func NewSessionAuth(verifier *Verifier, roster *Roster) *SessionAuth {
	return &SessionAuth{verifier: verifier, roster: roster}
}

// Authenticate verifies the token and binds its claims. An empty token
// yields an anonymous identity.
func (s *SessionAuth) Authenticate(token string) (realtime.Identity, error) {
	identity, claims, err := s.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	if identity != "" {
		s.roster.Bind(identity, claims)
	}
	return identity, nil
}
