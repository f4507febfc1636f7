package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/triforce-app/triforce/internal/fault"
	"github.com/triforce-app/triforce/internal/logx"
)

const notionVersion = "2022-06-28"

// VerifyConnection checks a stored token against the provider's live
// API and returns the identity details the provider reports. The token
// is run through the freshness guard first, so an expired but
// refreshable Google token is renewed before the call.
func (s *Service) VerifyConnection(ctx context.Context, userID, provider string) (map[string]any, error) {
	tok, err := s.EnsureFreshToken(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	p := s.Providers[provider]
	if p.TestURL == "" {
		return nil, fmt.Errorf("%w: provider %q has no test endpoint", fault.ErrValidation, provider)
	}

	switch provider {
	case ProviderSlack:
		return s.verifySlack(ctx, p.TestURL, tok.AccessToken)
	case ProviderNotion:
		return s.verifyNotion(ctx, p.TestURL, tok.AccessToken, tok.ExtraData)
	default:
		return s.verifyGoogle(ctx, p.TestURL, tok.AccessToken)
	}
}

func (s *Service) verifyGoogle(ctx context.Context, endpoint, accessToken string) (map[string]any, error) {
	data, err := s.testRequest(ctx, http.MethodGet, endpoint, accessToken, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": data}, nil
}

// verifySlack posts to auth.test, which reports failure in-band via ok.
func (s *Service) verifySlack(ctx context.Context, endpoint, accessToken string) (map[string]any, error) {
	data, err := s.testRequest(ctx, http.MethodPost, endpoint, accessToken, map[string]string{
		"Content-Type": "application/json",
	})
	if err != nil {
		return nil, err
	}
	if ok, _ := data["ok"].(bool); !ok {
		detail, _ := data["error"].(string)
		return nil, fmt.Errorf("%w: slack auth.test: %s", fault.ErrUpstream, detail)
	}
	return map[string]any{"workspace": data["team"], "user": data["user"]}, nil
}

func (s *Service) verifyNotion(ctx context.Context, endpoint, accessToken, extraData string) (map[string]any, error) {
	data, err := s.testRequest(ctx, http.MethodGet, endpoint, accessToken, map[string]string{
		"Notion-Version": notionVersion,
	})
	if err != nil {
		return nil, err
	}
	out := map[string]any{"user": data}
	if extraData != "" {
		var workspace map[string]any
		if err := json.Unmarshal([]byte(extraData), &workspace); err == nil {
			out["workspace"] = workspace
		}
	}
	return out, nil
}

func (s *Service) testRequest(ctx context.Context, method, endpoint, accessToken string, headers map[string]string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fault.ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fault.ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		logx.Warnf("connection test rejected: endpoint=%s status=%d", endpoint, resp.StatusCode)
		return nil, fmt.Errorf("%w: test endpoint returned %d", fault.ErrUpstream, resp.StatusCode)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: decode test response: %v", fault.ErrUpstream, err)
	}
	return data, nil
}
