package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertOAuthToken inserts or updates the single token row for
// (user, provider). On update the previous refresh token is preserved when
// tok.RefreshToken is empty — providers do not always reissue one.
func (s *Store) UpsertOAuthToken(tok *OAuthToken) error {
	accessEnc, err := s.seal(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}

	var refreshEnc []byte
	if tok.RefreshToken != "" {
		refreshEnc, err = s.seal(tok.RefreshToken)
		if err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
	}

	if tok.ID == "" {
		tok.ID = uuid.NewString()
	}

	var expires any
	if tok.ExpiresAt != nil {
		expires = tok.ExpiresAt.UTC()
	}

	_, err = s.db.Exec(
		`INSERT INTO oauth_tokens
		   (id, user_id, provider, access_token_encrypted, refresh_token_encrypted,
		    token_type, scope, expires_at, extra_data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, provider) DO UPDATE SET
		   access_token_encrypted = excluded.access_token_encrypted,
		   refresh_token_encrypted = COALESCE(excluded.refresh_token_encrypted, oauth_tokens.refresh_token_encrypted),
		   token_type = excluded.token_type,
		   scope = excluded.scope,
		   expires_at = excluded.expires_at,
		   extra_data = excluded.extra_data,
		   updated_at = CURRENT_TIMESTAMP`,
		tok.ID, tok.UserID, tok.Provider, accessEnc, refreshEnc,
		tok.TokenType, tok.Scope, expires, tok.ExtraData,
	)
	if err != nil {
		return fmt.Errorf("upsert oauth token: %w", err)
	}
	return nil
}

// GetOAuthToken retrieves the token row for (user, provider), or nil.
func (s *Store) GetOAuthToken(userID, provider string) (*OAuthToken, error) {
	tok := &OAuthToken{}
	var accessEnc, refreshEnc []byte
	var expires sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, user_id, provider, access_token_encrypted, refresh_token_encrypted,
		        token_type, scope, expires_at, extra_data, created_at, updated_at
		 FROM oauth_tokens WHERE user_id = ? AND provider = ?`,
		userID, provider,
	).Scan(&tok.ID, &tok.UserID, &tok.Provider, &accessEnc, &refreshEnc,
		&tok.TokenType, &tok.Scope, &expires, &tok.ExtraData, &tok.CreatedAt, &tok.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth token: %w", err)
	}

	if tok.AccessToken, err = s.open(accessEnc); err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	if refreshEnc != nil {
		if tok.RefreshToken, err = s.open(refreshEnc); err != nil {
			return nil, fmt.Errorf("open refresh token: %w", err)
		}
	}
	if expires.Valid {
		t := expires.Time
		tok.ExpiresAt = &t
	}
	return tok, nil
}

// ListOAuthTokenSummaries returns per-provider connection metadata for a
// user: no token material leaves the store on this path.
func (s *Store) ListOAuthTokenSummaries(userID string) ([]*OAuthToken, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, provider, token_type, scope, expires_at, created_at, updated_at
		 FROM oauth_tokens WHERE user_id = ? ORDER BY provider`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list oauth tokens: %w", err)
	}
	defer rows.Close()

	var out []*OAuthToken
	for rows.Next() {
		tok := &OAuthToken{}
		var expires sql.NullTime
		if err := rows.Scan(&tok.ID, &tok.UserID, &tok.Provider, &tok.TokenType,
			&tok.Scope, &expires, &tok.CreatedAt, &tok.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan oauth token: %w", err)
		}
		if expires.Valid {
			t := expires.Time
			tok.ExpiresAt = &t
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

// UpdateOAuthAccessToken replaces the access token and expiry of an existing
// row, leaving the refresh token untouched (refresh success path).
func (s *Store) UpdateOAuthAccessToken(id, accessToken string, expiresAt *time.Time) error {
	accessEnc, err := s.seal(accessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}

	var expires any
	if expiresAt != nil {
		expires = expiresAt.UTC()
	}

	_, err = s.db.Exec(
		`UPDATE oauth_tokens SET access_token_encrypted = ?, expires_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		accessEnc, expires, id,
	)
	if err != nil {
		return fmt.Errorf("update oauth access token: %w", err)
	}
	return nil
}

// DeleteOAuthTokens removes all rows for (user, provider). Deleting zero
// rows is not an error; disconnect is idempotent.
func (s *Store) DeleteOAuthTokens(userID, provider string) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM oauth_tokens WHERE user_id = ? AND provider = ?`,
		userID, provider,
	)
	if err != nil {
		return 0, fmt.Errorf("delete oauth tokens: %w", err)
	}
	return res.RowsAffected()
}
