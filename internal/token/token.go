// Package token manages the lifecycle of a session's Google access
// token: expiry tracking, synchronous refresh, and the fallback to
// anonymous API-key access when no usable token exists.
package token

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/drivebridge/drivebridge/internal/errs"
	"github.com/drivebridge/drivebridge/internal/logging"
	"github.com/drivebridge/drivebridge/internal/metrics"
	"github.com/drivebridge/drivebridge/internal/session"
)

// ExpiryBuffer is subtracted from the recorded expiry: a token within
// this window of expiring is treated as already expired and refreshed
// before use.
const ExpiryBuffer = 5 * time.Minute

// DefaultRevokeURL is Google's OAuth token revocation endpoint.
const DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

// refreshFunc exchanges a refresh token for a fresh token set.
type refreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// Manager owns token state transitions for all sessions. Refresh and
// clearing always go through the session store so the full token set
// changes atomically from the caller's point of view.
type Manager struct {
	store     session.Store
	refresh   refreshFunc
	revokeURL string
	client    *http.Client
	now       func() time.Time
}

// NewManager creates a manager that refreshes through the given OAuth
// config.
func NewManager(store session.Store, oauthCfg *oauth2.Config) *Manager {
	m := &Manager{
		store:     store,
		revokeURL: DefaultRevokeURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
	}
	m.refresh = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		src := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		return src.Token()
	}
	return m
}

// SetRevokeURL overrides the revocation endpoint.
func (m *Manager) SetRevokeURL(u string) { m.revokeURL = u }

// NeedsRefresh reports whether the token is inside the expiry buffer.
// A token without a recorded expiry never needs refresh.
func (m *Manager) NeedsRefresh(t session.TokenState) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !m.now().Before(t.ExpiresAt.Add(-ExpiryBuffer))
}

// CurrentToken returns the session's access token, refreshing first if
// it is about to expire. When no usable token can be produced it
// returns the empty string with no error: callers fall back to
// anonymous API-key access.
func (m *Manager) CurrentToken(ctx context.Context, sessionID string) (string, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if err == session.ErrNotFound {
			return "", nil
		}
		return "", err
	}

	if !s.Token.HasToken() {
		return "", nil
	}
	if !m.NeedsRefresh(s.Token) {
		return s.Token.AccessToken, nil
	}
	if s.Token.RefreshToken == "" {
		// Expiring with nothing to refresh from: clear and fall back.
		m.clear(ctx, s)
		return "", nil
	}

	if err := m.doRefresh(ctx, s); err != nil {
		return "", nil
	}
	return s.Token.AccessToken, nil
}

// RequireToken is CurrentToken without the anonymous fallback: a
// missing or unrefreshable token is a SessionExpired error.
func (m *Manager) RequireToken(ctx context.Context, sessionID string) (string, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if err == session.ErrNotFound {
			return "", errs.New(errs.KindSessionExpired)
		}
		return "", err
	}

	if !s.Token.HasToken() {
		return "", errs.New(errs.KindSessionExpired)
	}
	if !m.NeedsRefresh(s.Token) {
		return s.Token.AccessToken, nil
	}
	if s.Token.RefreshToken == "" {
		m.clear(ctx, s)
		return "", errs.New(errs.KindSessionExpired)
	}

	if err := m.doRefresh(ctx, s); err != nil {
		return "", errs.Wrap(errs.KindSessionExpired, err)
	}
	return s.Token.AccessToken, nil
}

// doRefresh exchanges the refresh token and persists the new token set.
// On any failure the session's token fields are cleared before the
// error is returned, so a half-refreshed state is never observable.
func (m *Manager) doRefresh(ctx context.Context, s *session.Session) error {
	tok, err := m.refresh(ctx, s.Token.RefreshToken)
	if err != nil {
		logging.Warn("token refresh failed, clearing session credentials",
			zap.String("session", s.ID), zap.Error(err))
		metrics.RecordTokenRefresh(false)
		m.clear(ctx, s)
		return err
	}

	s.Token.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.Token.RefreshToken = tok.RefreshToken
	}
	s.Token.ExpiresAt = tok.Expiry
	if err := m.store.Save(ctx, s); err != nil {
		m.clear(ctx, s)
		return err
	}
	metrics.RecordTokenRefresh(true)
	return nil
}

// SetToken installs a freshly exchanged token set on the session.
func (m *Manager) SetToken(ctx context.Context, sessionID string, tok *oauth2.Token) error {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	s.Token = session.TokenState{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	return m.store.Save(ctx, s)
}

// Logout revokes the token upstream (best effort) and unconditionally
// clears the session's token fields. Revocation failure never blocks
// the local clearing.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if err == session.ErrNotFound {
			return nil
		}
		return err
	}

	if s.Token.HasToken() {
		if err := m.revoke(ctx, s.Token.AccessToken); err != nil {
			logging.Warn("token revocation failed",
				zap.String("session", s.ID), zap.Error(err))
		}
	}
	return m.clear(ctx, s)
}

// clear zeroes every token field and persists the session.
func (m *Manager) clear(ctx context.Context, s *session.Session) error {
	s.Token = session.TokenState{}
	return m.store.Save(ctx, s)
}

func (m *Manager) revoke(ctx context.Context, accessToken string) error {
	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.revokeURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errs.Newf(errs.KindAPIError, "revocation returned %d", resp.StatusCode)
	}
	return nil
}
