// Package auth implements the OAuth boundary: the PKCE sign-in flow
// against Google, the signed session cookie, and the session-resolving
// middleware.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/drivebridge/drivebridge/internal/session"
)

const cookieName = "drivebridge_session"

type contextKey string

const sessionContextKey contextKey = "session"

// Claims is the session cookie payload: just the session ID plus the
// registered expiry.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionID extracts the resolved session ID from the request context.
func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionContextKey).(string)
	return id, ok
}

// WithSessionID returns a context carrying the session ID. Exposed for
// handler tests.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionContextKey, id)
}

func (a *Auth) signCookie(sessionID string) (string, error) {
	claims := &Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.sessionTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) parseCookie(value string) (string, error) {
	token, err := jwt.ParseWithClaims(value, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return "", fmt.Errorf("invalid session cookie")
	}
	return claims.SessionID, nil
}

func (a *Auth) setCookie(w http.ResponseWriter, sessionID string) error {
	signed, err := a.signCookie(sessionID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(a.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// SessionMiddleware resolves the session cookie, creating a fresh
// session when there is none, and stores the session ID in the request
// context. Requests always proceed: an absent session just means
// anonymous access.
func (a *Auth) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := a.resolveSession(w, r)
		next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), id)))
	})
}

// resolveSession returns the request's session ID, minting a new
// session (and cookie) when the cookie is missing, invalid, or points
// at an evicted session.
func (a *Auth) resolveSession(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(cookieName); err == nil {
		if id, err := a.parseCookie(c.Value); err == nil {
			if _, err := a.store.Get(r.Context(), id); err == nil {
				return id
			}
		}
	}

	s := &session.Session{ID: session.NewID(), CreatedAt: time.Now()}
	if err := a.store.Save(r.Context(), s); err != nil {
		return s.ID
	}
	_ = a.setCookie(w, s.ID)
	return s.ID
}
