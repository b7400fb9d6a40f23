// Package session holds per-session state: the Google token set and
// in-flight OAuth material (PKCE verifier, state nonce).
package session

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// TokenState is the session's Google credential set. The zero value
// means no authenticated token; all requests fall back to the shared
// API key.
type TokenState struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // Zero = non-expiring token
}

// HasToken reports whether the session carries an access token.
func (t TokenState) HasToken() bool {
	return t.AccessToken != ""
}

// Session is one browser session's server-side state.
type Session struct {
	ID    string
	Token TokenState

	// In-flight OAuth round-trip material, cleared after the callback.
	PKCEVerifier string
	OAuthState   string

	// Verified identity claims, set after a successful callback.
	Email   string
	Name    string
	Picture string

	CreatedAt time.Time
	LastSeen  time.Time
}

// NewID returns a random 128-bit session identifier.
func NewID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
