// Package connect implements the OAuth connection lifecycle: building
// authorize redirects, completing callbacks, keeping access tokens
// fresh and disconnecting providers. State tokens are single use and
// expire after a fixed TTL.
package connect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	goauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/triforce-app/triforce/internal/fault"
	"github.com/triforce-app/triforce/internal/logx"
	"github.com/triforce-app/triforce/internal/server/db"
)

const (
	// stateTTL bounds how long an authorize redirect stays redeemable.
	stateTTL = 10 * time.Minute

	// httpTimeout caps every outbound provider call. Exchanges and
	// refreshes are interactive, so a hung provider should fail fast
	// rather than pin the request.
	httpTimeout = 10 * time.Second
)

// Credentials is one provider's client registration.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Service drives the provider connection flows against the store.
type Service struct {
	store *db.Store
	base  string
	creds map[string]Credentials

	// Providers maps provider name to its endpoints. Tests swap
	// entries to point at local servers.
	Providers map[string]Provider

	client *http.Client
}

func NewService(store *db.Store, baseURL string, creds map[string]Credentials) *Service {
	return &Service{
		store:     store,
		base:      strings.TrimSuffix(baseURL, "/"),
		creds:     creds,
		Providers: defaultProviders(),
		client:    &http.Client{Timeout: httpTimeout},
	}
}

func (s *Service) provider(name string) (Provider, Credentials, error) {
	p, ok := s.Providers[name]
	if !ok {
		return Provider{}, Credentials{}, fmt.Errorf("%w: unknown provider %q", fault.ErrValidation, name)
	}
	c, ok := s.creds[name]
	if !ok || c.ClientID == "" || c.ClientSecret == "" {
		return Provider{}, Credentials{}, fmt.Errorf("provider %s is not configured", name)
	}
	return p, c, nil
}

func (s *Service) redirectURL(provider string) string {
	return s.base + "/api/auth/oauth/" + provider + "/callback"
}

func (s *Service) oauthConfig(p Provider, c Credentials) *oauth2.Config {
	scopes := p.Scopes
	if p.CommaScopes && len(scopes) > 0 {
		scopes = []string{strings.Join(p.Scopes, ",")}
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  s.redirectURL(p.Name),
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.AuthURL,
			TokenURL: p.TokenURL,
		},
	}
}

// stateIdentifier keys pending authorize states per provider and email,
// so a new authorize for the same pair supersedes the old one cleanly.
func stateIdentifier(provider, email string) string {
	return provider + "_oauth_" + email
}

// Authorize records a single-use state and returns the provider
// authorize URL to redirect the user to.
func (s *Service) Authorize(provider, email string) (string, error) {
	p, c, err := s.provider(provider)
	if err != nil {
		return "", err
	}

	state := uuid.NewString()
	expires := time.Now().UTC().Add(stateTTL)
	if err := s.store.CreateVerificationToken(stateIdentifier(provider, email), state, expires); err != nil {
		return "", err
	}

	cfg := s.oauthConfig(p, c)
	url := cfg.AuthCodeURL(state, p.AuthParams...)
	logx.Debugf("oauth authorize: provider=%s state_len=%d", provider, len(state))
	return url, nil
}

// CompleteCallback validates the returned state, exchanges the code and
// stores the resulting token for the user. The state is consumed before
// anything else can fail, so a replayed callback never reaches the
// provider twice.
func (s *Service) CompleteCallback(ctx context.Context, provider, email, code, state string) error {
	p, c, err := s.provider(provider)
	if err != nil {
		return err
	}

	identifier := stateIdentifier(provider, email)
	pending, err := s.store.FindVerificationToken(identifier, state)
	if err != nil {
		return err
	}
	if pending == nil {
		return fault.ErrInvalidState
	}
	consumed, err := s.store.ConsumeVerificationToken(identifier, state)
	if err != nil {
		return err
	}
	if !consumed {
		return fault.ErrInvalidState
	}
	if !pending.Expires.After(time.Now().UTC()) {
		return fault.ErrChallengeExpired
	}
	if code == "" {
		return fmt.Errorf("%w: missing code", fault.ErrValidation)
	}

	var tok *db.OAuthToken
	if p.JSONExchange {
		tok, err = s.jsonExchange(ctx, p, c, code)
	} else {
		tok, err = s.formExchange(ctx, p, c, code)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", fault.ErrExchangeFailed, err)
	}

	user, err := s.store.GetUserByEmail(email)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("%w: no user for session email", fault.ErrNotFound)
	}

	tok.UserID = user.ID
	tok.Provider = provider
	if err := s.store.UpsertOAuthToken(tok); err != nil {
		return err
	}
	logx.Infof("oauth connected: provider=%s user=%s refresh_token=%t", provider, user.ID, tok.RefreshToken != "")
	return nil
}

// formExchange runs the standard authorization-code grant.
func (s *Service) formExchange(ctx context.Context, p Provider, c Credentials, code string) (*db.OAuthToken, error) {
	cfg := s.oauthConfig(p, c)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	tok := &db.OAuthToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    tokenType(token.TokenType),
		Scope:        grantedScope(token, cfg.Scopes),
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		tok.ExpiresAt = &expiry
	}

	if p.UserinfoURL != "" {
		extra, err := s.fetchUserinfo(ctx, cfg, p.UserinfoURL, token)
		if err != nil {
			// Userinfo is enrichment; the grant itself succeeded.
			logx.Warnf("oauth userinfo fetch failed: provider=%s err=%v", p.Name, err)
		} else {
			tok.ExtraData = extra
		}
	}
	return tok, nil
}

// jsonExchange runs Notion's variant: JSON body, HTTP basic auth, and
// workspace metadata in the token response.
func (s *Service) jsonExchange(ctx context.Context, p Provider, c Credentials, code string) (*db.OAuthToken, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": s.redirectURL(p.Name),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.ClientID, c.ClientSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken   string `json:"access_token"`
		TokenType     string `json:"token_type"`
		BotID         string `json:"bot_id"`
		WorkspaceID   string `json:"workspace_id"`
		WorkspaceName string `json:"workspace_name"`
		WorkspaceIcon string `json:"workspace_icon"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned no access token")
	}

	extra, err := json.Marshal(map[string]string{
		"bot_id":         payload.BotID,
		"workspace_id":   payload.WorkspaceID,
		"workspace_name": payload.WorkspaceName,
		"workspace_icon": payload.WorkspaceIcon,
	})
	if err != nil {
		return nil, err
	}

	return &db.OAuthToken{
		AccessToken: payload.AccessToken,
		TokenType:   tokenType(payload.TokenType),
		ExtraData:   string(extra),
	}, nil
}

func (s *Service) fetchUserinfo(ctx context.Context, cfg *oauth2.Config, endpoint string, token *oauth2.Token) (string, error) {
	svc, err := goauth2.NewService(ctx,
		option.WithHTTPClient(cfg.Client(ctx, token)),
		option.WithEndpoint(endpoint),
	)
	if err != nil {
		return "", err
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", err
	}
	extra, err := json.Marshal(map[string]string{
		"id":      info.Id,
		"email":   info.Email,
		"name":    info.Name,
		"picture": info.Picture,
	})
	if err != nil {
		return "", err
	}
	return string(extra), nil
}

// Disconnect removes all stored tokens for the provider. Removing a
// provider that was never connected is not an error.
func (s *Service) Disconnect(userID, provider string) error {
	if _, ok := s.Providers[provider]; !ok {
		return fmt.Errorf("%w: unknown provider %q", fault.ErrValidation, provider)
	}
	n, err := s.store.DeleteOAuthTokens(userID, provider)
	if err != nil {
		return err
	}
	logx.Infof("oauth disconnected: provider=%s user=%s removed=%d", provider, userID, n)
	return nil
}

func tokenType(t string) string {
	if t == "" {
		return "Bearer"
	}
	return t
}

func grantedScope(token *oauth2.Token, requested []string) string {
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		return scope
	}
	return strings.Join(requested, " ")
}
