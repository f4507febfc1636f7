package connect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/triforce-app/triforce/internal/fault"
	"github.com/triforce-app/triforce/internal/server/db"
)

func testKey() [32]byte {
	var key [32]byte
	for i := range key {
		key[i] = byte(255 - i)
	}
	return key
}

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.NewStore(":memory:", testKey())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestService(t *testing.T, store *db.Store) *Service {
	t.Helper()
	creds := map[string]Credentials{
		ProviderGoogle: {ClientID: "google-id", ClientSecret: "google-secret"},
		ProviderSlack:  {ClientID: "slack-id", ClientSecret: "slack-secret"},
		ProviderNotion: {ClientID: "notion-id", ClientSecret: "notion-secret"},
	}
	return NewService(store, "https://app.example.com/", creds)
}

func seedUser(t *testing.T, store *db.Store, id, email string) {
	t.Helper()
	if err := store.CreateUser(&db.User{ID: id, Email: email, Name: "tester"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
}

// pendingState registers a state token the way Authorize would.
func pendingState(t *testing.T, store *db.Store, provider, email, state string) {
	t.Helper()
	err := store.CreateVerificationToken(stateIdentifier(provider, email), state, time.Now().UTC().Add(stateTTL))
	if err != nil {
		t.Fatalf("CreateVerificationToken: %v", err)
	}
}

func TestAuthorizeGoogle(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	seedUser(t, store, "u1", "a@x.com")

	rawURL, err := svc.Authorize(ProviderGoogle, "a@x.com")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse authorize url: %v", err)
	}
	q := u.Query()
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %q", q.Get("access_type"))
	}
	if q.Get("approval_prompt") == "" && q.Get("prompt") == "" {
		t.Error("expected a forced approval parameter")
	}
	if q.Get("redirect_uri") != "https://app.example.com/api/auth/oauth/google/callback" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if !strings.Contains(q.Get("scope"), "calendar") {
		t.Errorf("scope = %q", q.Get("scope"))
	}

	state := q.Get("state")
	if state == "" {
		t.Fatal("no state in authorize url")
	}
	pending, err := store.FindVerificationToken(stateIdentifier(ProviderGoogle, "a@x.com"), state)
	if err != nil || pending == nil {
		t.Fatalf("state not persisted: %v %v", pending, err)
	}
}

func TestAuthorizeSlackScopeShape(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)

	rawURL, err := svc.Authorize(ProviderSlack, "a@x.com")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	u, _ := url.Parse(rawURL)
	scope := u.Query().Get("scope")
	if scope != "chat:write,channels:read,users:read" {
		t.Errorf("slack scope = %q", scope)
	}
}

func TestAuthorizeNotionOwnerParam(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)

	rawURL, err := svc.Authorize(ProviderNotion, "a@x.com")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	u, _ := url.Parse(rawURL)
	if u.Query().Get("owner") != "user" {
		t.Errorf("owner = %q", u.Query().Get("owner"))
	}
}

func TestAuthorizeUnknownProvider(t *testing.T) {
	svc := newTestService(t, newTestStore(t))
	if _, err := svc.Authorize("github", "a@x.com"); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestCompleteCallbackGoogle(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	seedUser(t, store, "u1", "a@x.com")

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("token method = %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "ya29.fresh",
			"refresh_token": "1//refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         "https://www.googleapis.com/auth/calendar",
		})
	})
	mux.HandleFunc("/oauth2/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id": "g-123", "email": "a@x.com", "name": "Tester", "picture": "https://img",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := svc.Providers[ProviderGoogle]
	p.TokenURL = srv.URL + "/token"
	p.UserinfoURL = srv.URL + "/"
	svc.Providers[ProviderGoogle] = p

	pendingState(t, store, ProviderGoogle, "a@x.com", "state-1")
	if err := svc.CompleteCallback(context.Background(), ProviderGoogle, "a@x.com", "code-1", "state-1"); err != nil {
		t.Fatalf("CompleteCallback: %v", err)
	}

	tok, err := store.GetOAuthToken("u1", ProviderGoogle)
	if err != nil || tok == nil {
		t.Fatalf("token not stored: %v %v", tok, err)
	}
	if tok.AccessToken != "ya29.fresh" || tok.RefreshToken != "1//refresh" {
		t.Errorf("stored token %+v", tok)
	}
	if tok.ExpiresAt == nil || time.Until(*tok.ExpiresAt) < 30*time.Minute {
		t.Errorf("expiry = %v", tok.ExpiresAt)
	}
	if !strings.Contains(tok.ExtraData, "g-123") {
		t.Errorf("extra data = %q", tok.ExtraData)
	}

	// The state is gone: a replayed callback must be rejected.
	err = svc.CompleteCallback(context.Background(), ProviderGoogle, "a@x.com", "code-1", "state-1")
	if !errors.Is(err, fault.ErrInvalidState) {
		t.Errorf("replay: err = %v, want invalid state", err)
	}
}

func TestCompleteCallbackPreservesRefreshToken(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	seedUser(t, store, "u1", "a@x.com")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Re-consent without a new refresh token.
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "ya29.second",
			"token_type":   "Bearer",
		})
	}))
	defer srv.Close()

	p := svc.Providers[ProviderGoogle]
	p.TokenURL = srv.URL
	p.UserinfoURL = ""
	svc.Providers[ProviderGoogle] = p

	exp := time.Now().UTC().Add(time.Hour)
	if err := store.UpsertOAuthToken(&db.OAuthToken{
		UserID: "u1", Provider: ProviderGoogle,
		AccessToken: "ya29.first", RefreshToken: "1//original",
		TokenType: "Bearer", ExpiresAt: &exp,
	}); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	pendingState(t, store, ProviderGoogle, "a@x.com", "state-2")
	if err := svc.CompleteCallback(context.Background(), ProviderGoogle, "a@x.com", "code-2", "state-2"); err != nil {
		t.Fatalf("CompleteCallback: %v", err)
	}

	tok, _ := store.GetOAuthToken("u1", ProviderGoogle)
	if tok.AccessToken != "ya29.second" {
		t.Errorf("access token = %q", tok.AccessToken)
	}
	if tok.RefreshToken != "1//original" {
		t.Errorf("refresh token = %q, want preserved original", tok.RefreshToken)
	}
}

func TestCompleteCallbackNotion(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	seedUser(t, store, "u1", "a@x.com")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "notion-id" || pass != "notion-secret" {
			t.Errorf("basic auth = %q %q %v", user, pass, ok)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["grant_type"] != "authorization_code" || body["code"] != "code-n" {
			t.Errorf("exchange body = %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":   "secret_notion",
			"token_type":     "bearer",
			"bot_id":         "bot-1",
			"workspace_id":   "ws-1",
			"workspace_name": "Acme",
		})
	}))
	defer srv.Close()

	p := svc.Providers[ProviderNotion]
	p.TokenURL = srv.URL
	svc.Providers[ProviderNotion] = p

	pendingState(t, store, ProviderNotion, "a@x.com", "state-n")
	if err := svc.CompleteCallback(context.Background(), ProviderNotion, "a@x.com", "code-n", "state-n"); err != nil {
		t.Fatalf("CompleteCallback: %v", err)
	}

	tok, _ := store.GetOAuthToken("u1", ProviderNotion)
	if tok == nil || tok.AccessToken != "secret_notion" {
		t.Fatalf("stored token %+v", tok)
	}
	if tok.ExpiresAt != nil {
		t.Error("notion tokens do not expire")
	}
	if !strings.Contains(tok.ExtraData, "ws-1") || !strings.Contains(tok.ExtraData, "Acme") {
		t.Errorf("extra data = %q", tok.ExtraData)
	}
}

func TestCompleteCallbackStateChecks(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	seedUser(t, store, "u1", "a@x.com")
	ctx := context.Background()

	// Unknown state
	err := svc.CompleteCallback(ctx, ProviderGoogle, "a@x.com", "code", "nope")
	if !errors.Is(err, fault.ErrInvalidState) {
		t.Errorf("unknown state: err = %v", err)
	}

	// Expired state
	if err := store.CreateVerificationToken(stateIdentifier(ProviderGoogle, "a@x.com"), "old", time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	err = svc.CompleteCallback(ctx, ProviderGoogle, "a@x.com", "code", "old")
	if !errors.Is(err, fault.ErrChallengeExpired) {
		t.Errorf("expired state: err = %v", err)
	}

	// Missing code
	pendingState(t, store, ProviderGoogle, "a@x.com", "state-mc")
	err = svc.CompleteCallback(ctx, ProviderGoogle, "a@x.com", "", "state-mc")
	if !errors.Is(err, fault.ErrValidation) {
		t.Errorf("missing code: err = %v", err)
	}
}

func TestCompleteCallbackExchangeFailure(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	seedUser(t, store, "u1", "a@x.com")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	defer srv.Close()

	p := svc.Providers[ProviderGoogle]
	p.TokenURL = srv.URL
	p.UserinfoURL = ""
	svc.Providers[ProviderGoogle] = p

	pendingState(t, store, ProviderGoogle, "a@x.com", "state-x")
	err := svc.CompleteCallback(context.Background(), ProviderGoogle, "a@x.com", "bad-code", "state-x")
	if !errors.Is(err, fault.ErrExchangeFailed) {
		t.Errorf("err = %v, want exchange failed", err)
	}
	if tok, _ := store.GetOAuthToken("u1", ProviderGoogle); tok != nil {
		t.Error("no token should be stored on a failed exchange")
	}
}

func TestCompleteCallbackUnknownUser(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)

	// The exchange runs before the user row is resolved, so it has to
	// succeed for the lookup failure to surface.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "ya29.orphan", "token_type": "Bearer", "expires_in": 3600,
		})
	}))
	defer srv.Close()
	p := svc.Providers[ProviderGoogle]
	p.TokenURL = srv.URL
	p.UserinfoURL = ""
	svc.Providers[ProviderGoogle] = p

	pendingState(t, store, ProviderGoogle, "ghost@x.com", "state-g")
	err := svc.CompleteCallback(context.Background(), ProviderGoogle, "ghost@x.com", "code", "state-g")
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store)
	seedUser(t, store, "u1", "a@x.com")

	if err := store.UpsertOAuthToken(&db.OAuthToken{
		UserID: "u1", Provider: ProviderSlack, AccessToken: "xoxp", TokenType: "Bearer",
	}); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	if err := svc.Disconnect("u1", ProviderSlack); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if tok, _ := store.GetOAuthToken("u1", ProviderSlack); tok != nil {
		t.Error("token still present after disconnect")
	}
	// Second disconnect is a no-op, not an error.
	if err := svc.Disconnect("u1", ProviderSlack); err != nil {
		t.Errorf("second Disconnect: %v", err)
	}
}
