package connect

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/triforce-app/triforce/internal/fault"
	"github.com/triforce-app/triforce/internal/logx"
	"github.com/triforce-app/triforce/internal/server/db"
)

// EnsureFreshToken returns a stored access token guaranteed to be
// usable right now. A token with no expiry or an expiry in the future
// is returned unchanged. An expired Google token with a refresh token
// is refreshed first; any other expired token cannot be renewed here.
func (s *Service) EnsureFreshToken(ctx context.Context, userID, provider string) (*db.OAuthToken, error) {
	if _, ok := s.Providers[provider]; !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", fault.ErrValidation, provider)
	}
	tok, err := s.store.GetOAuthToken(userID, provider)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, fault.ErrNotConnected
	}

	if tok.ExpiresAt == nil || time.Now().Before(*tok.ExpiresAt) {
		return tok, nil
	}

	if provider == ProviderGoogle && tok.RefreshToken != "" {
		refreshed, err := s.refreshGoogle(ctx, tok)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", fault.ErrRefreshFailed, err)
		}
		return refreshed, nil
	}
	return nil, fault.ErrTokenExpired
}

// RefreshGoogleToken forces a refresh check. When the stored token is
// still valid it is returned untouched and refreshed reports false, so
// repeated calls are cheap and idempotent.
func (s *Service) RefreshGoogleToken(ctx context.Context, userID string) (tok *db.OAuthToken, refreshed bool, err error) {
	tok, err = s.store.GetOAuthToken(userID, ProviderGoogle)
	if err != nil {
		return nil, false, err
	}
	if tok == nil {
		return nil, false, fault.ErrNotConnected
	}

	if tok.ExpiresAt == nil || time.Now().Before(*tok.ExpiresAt) {
		return tok, false, nil
	}
	if tok.RefreshToken == "" {
		return nil, false, fault.ErrNoRefreshToken
	}

	fresh, err := s.refreshGoogle(ctx, tok)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", fault.ErrRefreshFailed, err)
	}
	return fresh, true, nil
}

// refreshGoogle runs the refresh-token grant and persists only the new
// access token and expiry. The stored refresh token is never replaced
// and nothing is written when the grant fails.
func (s *Service) refreshGoogle(ctx context.Context, stale *db.OAuthToken) (*db.OAuthToken, error) {
	p, c, err := s.provider(ProviderGoogle)
	if err != nil {
		return nil, err
	}
	cfg := s.oauthConfig(p, c)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: stale.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if !fresh.Expiry.IsZero() {
		e := fresh.Expiry.UTC()
		expiresAt = &e
	}
	if err := s.store.UpdateOAuthAccessToken(stale.ID, fresh.AccessToken, expiresAt); err != nil {
		return nil, err
	}
	logx.Infof("google token refreshed: user=%s access_token_len=%d", stale.UserID, len(fresh.AccessToken))

	out := *stale
	out.AccessToken = fresh.AccessToken
	out.ExpiresAt = expiresAt
	return &out, nil
}
