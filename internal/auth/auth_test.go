package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/drivebridge/drivebridge/internal/session"
	"github.com/drivebridge/drivebridge/internal/token"
	"github.com/drivebridge/drivebridge/pkg/protocol"
)

func newTestAuth(t *testing.T, tokenURL string) (*Auth, session.Store) {
	t.Helper()
	store := session.NewMemoryStore()
	oauthCfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: "https://provider.example/auth", TokenURL: tokenURL},
		Scopes:       []string{"openid"},
	}
	a := New(store, token.NewManager(store, oauthCfg), oauthCfg, Config{
		SessionSecret: "test-secret",
		SessionTTL:    time.Hour,
		CookieSecure:  false,
	})
	return a, store
}

func seedAuthSession(t *testing.T, store session.Store) *session.Session {
	t.Helper()
	s := &session.Session{ID: session.NewID(), CreatedAt: time.Now()}
	if err := store.Save(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	return s
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) protocol.Envelope {
	t.Helper()
	var env protocol.Envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env
}

func TestCookieRoundTrip(t *testing.T) {
	a, _ := newTestAuth(t, "")

	signed, err := a.signCookie("session-1")
	if err != nil {
		t.Fatalf("signCookie: %v", err)
	}
	id, err := a.parseCookie(signed)
	if err != nil {
		t.Fatalf("parseCookie: %v", err)
	}
	if id != "session-1" {
		t.Errorf("session id = %q, want session-1", id)
	}
}

func TestCookieRejectsTampering(t *testing.T) {
	a, _ := newTestAuth(t, "")
	signed, _ := a.signCookie("session-1")

	if _, err := a.parseCookie(signed + "x"); err == nil {
		t.Error("tampered cookie accepted")
	}
	if _, err := a.parseCookie("garbage"); err == nil {
		t.Error("garbage cookie accepted")
	}
}

func TestSessionMiddlewareCreatesSession(t *testing.T) {
	a, store := newTestAuth(t, "")

	var gotID string
	handler := a.SessionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = SessionID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if gotID == "" {
		t.Fatal("no session id in context")
	}
	if _, err := store.Get(context.Background(), gotID); err != nil {
		t.Errorf("created session not persisted: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != cookieName {
		t.Fatalf("cookies = %v, want one session cookie", cookies)
	}
	if !cookies[0].HttpOnly {
		t.Error("session cookie not HttpOnly")
	}
}

func TestSessionMiddlewareReusesExistingSession(t *testing.T) {
	a, store := newTestAuth(t, "")
	s := seedAuthSession(t, store)
	signed, _ := a.signCookie(s.ID)

	var gotID string
	handler := a.SessionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = SessionID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: signed})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotID != s.ID {
		t.Errorf("session id = %q, want existing %q", gotID, s.ID)
	}
}

func TestHandleLoginStart(t *testing.T) {
	a, store := newTestAuth(t, "")
	s := seedAuthSession(t, store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/provider", nil)
	req = req.WithContext(WithSessionID(req.Context(), s.ID))
	rec := httptest.NewRecorder()
	a.HandleLoginStart(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	env := decodeEnvelope(t, rec)
	data, _ := json.Marshal(env.Data)
	var start protocol.AuthStartResponse
	json.Unmarshal(data, &start)

	u, err := url.Parse(start.AuthURL)
	if err != nil {
		t.Fatalf("authUrl unparseable: %v", err)
	}
	q := u.Query()
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Error("auth URL missing PKCE challenge")
	}
	if q.Get("state") == "" {
		t.Error("auth URL missing state")
	}

	stored, _ := store.Get(context.Background(), s.ID)
	if stored.PKCEVerifier == "" {
		t.Error("verifier not stored on session")
	}
	if stored.OAuthState != q.Get("state") {
		t.Error("stored state does not match auth URL state")
	}
}

func TestHandleCallbackStateMismatch(t *testing.T) {
	exchangeCalled := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchangeCalled = true
	}))
	defer upstream.Close()

	a, store := newTestAuth(t, upstream.URL)
	s := seedAuthSession(t, store)
	s.PKCEVerifier = "verifier"
	s.OAuthState = "expected-state"
	store.Save(context.Background(), s)

	req := httptest.NewRequest(http.MethodGet, "/callback?code=abc&state=wrong-state", nil)
	req = req.WithContext(WithSessionID(req.Context(), s.ID))
	rec := httptest.NewRecorder()
	a.HandleCallback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if exchangeCalled {
		t.Error("code exchange ran despite state mismatch")
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "AUTH_FAILED" {
		t.Errorf("error = %+v, want AUTH_FAILED", env.Error)
	}

	stored, _ := store.Get(context.Background(), s.ID)
	if stored.PKCEVerifier != "" || stored.OAuthState != "" {
		t.Error("oauth material not cleared after failed callback")
	}
}

func TestHandleCallbackUserCancelled(t *testing.T) {
	a, store := newTestAuth(t, "")
	s := seedAuthSession(t, store)
	s.PKCEVerifier = "verifier"
	s.OAuthState = "state"
	store.Save(context.Background(), s)

	req := httptest.NewRequest(http.MethodGet, "/callback?error=access_denied", nil)
	req = req.WithContext(WithSessionID(req.Context(), s.ID))
	rec := httptest.NewRecorder()
	a.HandleCallback(rec, req)

	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "AUTH_CANCELLED" {
		t.Errorf("error = %+v, want AUTH_CANCELLED", env.Error)
	}
}

func TestHandleCallbackExchange(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.Form.Get("code_verifier"); got != "verifier" {
			t.Errorf("code_verifier = %q", got)
		}
		if got := r.Form.Get("code"); got != "auth-code" {
			t.Errorf("code = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`))
	}))
	defer upstream.Close()

	a, store := newTestAuth(t, upstream.URL)
	s := seedAuthSession(t, store)
	s.PKCEVerifier = "verifier"
	s.OAuthState = "state"
	store.Save(context.Background(), s)

	req := httptest.NewRequest(http.MethodGet, "/callback?code=auth-code&state=state", nil)
	req = req.WithContext(WithSessionID(req.Context(), s.ID))
	rec := httptest.NewRecorder()
	a.HandleCallback(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	stored, _ := store.Get(context.Background(), s.ID)
	if stored.Token.AccessToken != "at" || stored.Token.RefreshToken != "rt" {
		t.Errorf("token not installed: %+v", stored.Token)
	}
	if stored.Token.ExpiresAt.IsZero() {
		t.Error("expiry not recorded")
	}
	if stored.PKCEVerifier != "" || stored.OAuthState != "" {
		t.Error("oauth material survives a successful callback")
	}
}

func TestHandleMeAnonymous(t *testing.T) {
	a, store := newTestAuth(t, "")
	s := seedAuthSession(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req = req.WithContext(WithSessionID(req.Context(), s.ID))
	rec := httptest.NewRecorder()
	a.HandleMe(rec, req)

	env := decodeEnvelope(t, rec)
	data, _ := json.Marshal(env.Data)
	var status protocol.AuthStatusResponse
	json.Unmarshal(data, &status)
	if status.Authenticated {
		t.Error("anonymous session reports authenticated")
	}
}

func TestHandleLogoutClearsToken(t *testing.T) {
	revoke := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer revoke.Close()

	a, store := newTestAuth(t, "")
	a.tokens.SetRevokeURL(revoke.URL)
	s := seedAuthSession(t, store)
	s.Token = session.TokenState{AccessToken: "at"}
	store.Save(context.Background(), s)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req = req.WithContext(WithSessionID(req.Context(), s.ID))
	rec := httptest.NewRecorder()
	a.HandleLogout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	stored, _ := store.Get(context.Background(), s.ID)
	if stored.Token.HasToken() {
		t.Error("token survives logout")
	}
}

func TestNewOAuthConfigScopes(t *testing.T) {
	cfg := NewOAuthConfig("id", "secret", "http://localhost/cb")
	joined := strings.Join(cfg.Scopes, " ")
	if !strings.Contains(joined, "openid") || !strings.Contains(joined, "drive.readonly") {
		t.Errorf("scopes = %v", cfg.Scopes)
	}
}
