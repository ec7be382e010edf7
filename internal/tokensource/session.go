package tokensource

import (
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/oauth2"
)

// Session holds the ephemeral PKCE material for one pending login. It is
// consumed exactly once by Exchange; starting a new login supersedes any
// prior pending session.
type Session struct {
	// Verifier is the 43+ character URL-safe random PKCE code verifier.
	Verifier string
	// State is a random nonce bound to the authorize request, distinct from
	// the verifier.
	State string
}

// newSession generates fresh PKCE material from a cryptographic source.
func newSession() *Session {
	return &Session{
		Verifier: oauth2.GenerateVerifier(),
		State:    oauth2.GenerateVerifier(),
	}
}

// Challenge returns the S256 code challenge for the session verifier:
// unpadded BASE64URL(SHA-256(verifier)).
func (s *Session) Challenge() string {
	sum := sha256.Sum256([]byte(s.Verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
