package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drivev3 "google.golang.org/api/drive/v3"

	"github.com/drivebridge/drivebridge/internal/errs"
	"github.com/drivebridge/drivebridge/internal/logging"
	"github.com/drivebridge/drivebridge/internal/metrics"
	"github.com/drivebridge/drivebridge/internal/session"
	"github.com/drivebridge/drivebridge/internal/token"
	"github.com/drivebridge/drivebridge/pkg/protocol"
)

const googleIssuer = "https://accounts.google.com"

// Auth owns the OAuth boundary handlers.
type Auth struct {
	store        session.Store
	tokens       *token.Manager
	oauth        *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	secret       []byte
	sessionTTL   time.Duration
	cookieSecure bool
}

// Config for New.
type Config struct {
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	SessionSecret string
	SessionTTL    time.Duration
	CookieSecure  bool
}

// NewOAuthConfig builds the Google OAuth2 config used by both the
// boundary handlers and the token manager.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes: []string{
			oidc.ScopeOpenID, "email", "profile",
			drivev3.DriveReadonlyScope,
		},
	}
}

// New creates the auth boundary. The OIDC verifier is resolved lazily
// on the first callback so startup does not depend on Google being
// reachable.
func New(store session.Store, tokens *token.Manager, oauthCfg *oauth2.Config, cfg Config) *Auth {
	return &Auth{
		store:        store,
		tokens:       tokens,
		oauth:        oauthCfg,
		secret:       []byte(cfg.SessionSecret),
		sessionTTL:   cfg.SessionTTL,
		cookieSecure: cfg.CookieSecure,
	}
}

func (a *Auth) idTokenVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	if a.verifier != nil {
		return a.verifier, nil
	}
	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider init: %w", err)
	}
	a.verifier = provider.Verifier(&oidc.Config{ClientID: a.oauth.ClientID})
	return a.verifier, nil
}

func newStateNonce() string {
	var b [16]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// HandleLoginStart handles POST /api/v1/auth/provider. It stores the
// PKCE verifier and state nonce on the session and returns the
// provider authorization URL.
func (a *Auth) HandleLoginStart(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := SessionID(r.Context())
	if !ok {
		sendAuthError(w, http.StatusInternalServerError, errs.New(errs.KindAuthFailed))
		return
	}
	s, err := a.store.Get(r.Context(), sessionID)
	if err != nil {
		sendAuthError(w, http.StatusUnauthorized, errs.New(errs.KindSessionExpired))
		return
	}

	s.PKCEVerifier = oauth2.GenerateVerifier()
	s.OAuthState = newStateNonce()
	if err := a.store.Save(r.Context(), s); err != nil {
		sendAuthError(w, http.StatusInternalServerError, errs.Wrap(errs.KindAuthFailed, err))
		return
	}

	authURL := a.oauth.AuthCodeURL(s.OAuthState,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(s.PKCEVerifier))

	writeJSON(w, http.StatusOK, protocol.Envelope{
		Success: true,
		Data:    protocol.AuthStartResponse{AuthURL: authURL},
	})
}

// HandleCallback handles GET /api/v1/auth/provider/callback. The state
// must match the stored nonce and a stored verifier must exist before
// any code exchange happens.
func (a *Auth) HandleCallback(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := SessionID(r.Context())
	if !ok {
		sendAuthError(w, http.StatusUnauthorized, errs.New(errs.KindSessionExpired))
		return
	}
	s, err := a.store.Get(r.Context(), sessionID)
	if err != nil {
		sendAuthError(w, http.StatusUnauthorized, errs.New(errs.KindSessionExpired))
		return
	}

	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		a.clearOAuthMaterial(r.Context(), s)
		metrics.RecordAuthAttempt(false)
		if errCode == "access_denied" {
			sendAuthError(w, http.StatusBadRequest, errs.New(errs.KindAuthCancelled))
		} else {
			sendAuthError(w, http.StatusBadRequest, errs.Newf(errs.KindAuthFailed, "provider returned %s", errCode))
		}
		return
	}

	state := q.Get("state")
	code := q.Get("code")
	if s.OAuthState == "" || s.PKCEVerifier == "" ||
		subtle.ConstantTimeCompare([]byte(state), []byte(s.OAuthState)) != 1 || code == "" {
		a.clearOAuthMaterial(r.Context(), s)
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, errs.New(errs.KindAuthFailed))
		return
	}

	tok, err := a.oauth.Exchange(r.Context(), code, oauth2.VerifierOption(s.PKCEVerifier))
	a.clearOAuthMaterial(r.Context(), s)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadGateway, errs.Wrap(errs.KindAuthFailed, err))
		return
	}

	// Pull verified identity claims from the ID token when present.
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		if verifier, err := a.idTokenVerifier(r.Context()); err == nil {
			if idToken, err := verifier.Verify(r.Context(), raw); err == nil {
				var claims struct {
					Email   string `json:"email"`
					Name    string `json:"name"`
					Picture string `json:"picture"`
				}
				if err := idToken.Claims(&claims); err == nil {
					s.Email = claims.Email
					s.Name = claims.Name
					s.Picture = claims.Picture
					a.store.Save(r.Context(), s)
				}
			} else {
				logging.Warn("id token verification failed", zap.Error(err))
			}
		}
	}

	if err := a.tokens.SetToken(r.Context(), sessionID, tok); err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusInternalServerError, errs.Wrap(errs.KindAuthFailed, err))
		return
	}

	metrics.RecordAuthAttempt(true)
	logging.Info("sign-in completed", zap.String("session", sessionID))
	writeJSON(w, http.StatusOK, protocol.Envelope{
		Success: true,
		Data:    protocol.AuthStatusResponse{Authenticated: true, Email: s.Email, Name: s.Name, Picture: s.Picture},
	})
}

// HandleRefresh handles POST /api/v1/auth/refresh: forces a token
// refresh and reports whether an authenticated token survives.
func (a *Auth) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := SessionID(r.Context())
	if !ok {
		sendAuthError(w, http.StatusUnauthorized, errs.New(errs.KindSessionExpired))
		return
	}
	if _, err := a.tokens.RequireToken(r.Context(), sessionID); err != nil {
		sendAuthError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.Envelope{Success: true})
}

// HandleLogout handles POST /api/v1/auth/logout.
func (a *Auth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := SessionID(r.Context())
	if ok {
		if err := a.tokens.Logout(r.Context(), sessionID); err != nil {
			logging.Warn("logout failed", zap.String("session", sessionID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, protocol.Envelope{Success: true})
}

// HandleMe handles GET /api/v1/auth/me.
func (a *Auth) HandleMe(w http.ResponseWriter, r *http.Request) {
	resp := protocol.AuthStatusResponse{}
	if sessionID, ok := SessionID(r.Context()); ok {
		if s, err := a.store.Get(r.Context(), sessionID); err == nil {
			resp.Authenticated = s.Token.HasToken()
			resp.Email = s.Email
			resp.Name = s.Name
			resp.Picture = s.Picture
		}
	}
	writeJSON(w, http.StatusOK, protocol.Envelope{Success: true, Data: resp})
}

func (a *Auth) clearOAuthMaterial(ctx context.Context, s *session.Session) {
	s.PKCEVerifier = ""
	s.OAuthState = ""
	if err := a.store.Save(ctx, s); err != nil {
		logging.Warn("failed to clear oauth material", zap.String("session", s.ID), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendAuthError(w http.ResponseWriter, status int, err error) {
	kind := errs.KindOf(err)
	writeJSON(w, status, protocol.Envelope{
		Success: false,
		Error: &protocol.ErrorBody{
			Code:         kind.Code(),
			Message:      kind.Message(),
			Suggestion:   kind.Suggestion(),
			RequiresAuth: kind.PromptLogin(),
		},
	})
}
