// Package fault defines the error kinds shared across the service core.
// Core packages classify failures with these sentinels; HTTP handlers
// translate them to status codes and redirect query parameters at the
// boundary. Wrapped causes stay inspectable through errors.Is.
package fault

import "errors"

var (
	// ErrValidation marks malformed or missing caller input.
	ErrValidation = errors.New("invalid input")

	// ErrUnauthorized marks a missing or invalid session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound marks a missing user or record.
	ErrNotFound = errors.New("not found")

	// ErrChallengeExpired marks a ceremony challenge past its TTL
	// or already consumed.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrVerificationFailed marks a credential that failed
	// cryptographic verification.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrInvalidState marks an OAuth callback state with no matching
	// pending record.
	ErrInvalidState = errors.New("invalid state")

	// ErrExchangeFailed marks an authorization-code exchange the
	// provider rejected.
	ErrExchangeFailed = errors.New("token exchange failed")

	// ErrTokenExpired marks an access token past its expiry with no
	// way to refresh it here.
	ErrTokenExpired = errors.New("token expired")

	// ErrNotConnected marks a provider the user has no stored token for.
	ErrNotConnected = errors.New("not connected")

	// ErrNoRefreshToken marks a stored token that cannot be refreshed
	// because no refresh token was ever granted.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrRefreshFailed marks a refresh attempt the provider rejected.
	ErrRefreshFailed = errors.New("refresh failed")

	// ErrUpstream marks an unexpected failure talking to a provider.
	ErrUpstream = errors.New("upstream error")
)
