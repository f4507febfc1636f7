package db

import (
	"database/sql"
	"fmt"
)

// CreateAuthenticator inserts a new authenticator row.
func (s *Store) CreateAuthenticator(a *Authenticator) error {
	_, err := s.db.Exec(
		`INSERT INTO authenticators (credential_id, user_id, public_key, counter, device_type, backed_up)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.CredentialID, a.UserID, a.PublicKey, a.Counter, a.DeviceType, a.BackedUp,
	)
	if err != nil {
		return fmt.Errorf("create authenticator: %w", err)
	}
	return nil
}

// GetAuthenticator retrieves an authenticator by its credential id, or nil
// if absent. Callers are expected to pass the canonical base64url encoding.
func (s *Store) GetAuthenticator(credentialID string) (*Authenticator, error) {
	a := &Authenticator{}
	err := s.db.QueryRow(
		`SELECT credential_id, user_id, public_key, counter, device_type, backed_up, created_at
		 FROM authenticators WHERE credential_id = ?`, credentialID,
	).Scan(&a.CredentialID, &a.UserID, &a.PublicKey, &a.Counter, &a.DeviceType, &a.BackedUp, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get authenticator: %w", err)
	}
	return a, nil
}

// UpdateAuthenticatorCounter stores the verifier-reported signature counter.
func (s *Store) UpdateAuthenticatorCounter(credentialID string, counter uint32) error {
	_, err := s.db.Exec(
		`UPDATE authenticators SET counter = ? WHERE credential_id = ?`,
		counter, credentialID,
	)
	if err != nil {
		return fmt.Errorf("update authenticator counter: %w", err)
	}
	return nil
}

// ListAuthenticatorsByUser returns all authenticators registered to a user.
func (s *Store) ListAuthenticatorsByUser(userID string) ([]*Authenticator, error) {
	rows, err := s.db.Query(
		`SELECT credential_id, user_id, public_key, counter, device_type, backed_up, created_at
		 FROM authenticators WHERE user_id = ? ORDER BY created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list authenticators: %w", err)
	}
	defer rows.Close()

	var out []*Authenticator
	for rows.Next() {
		a := &Authenticator{}
		if err := rows.Scan(&a.CredentialID, &a.UserID, &a.PublicKey, &a.Counter, &a.DeviceType, &a.BackedUp, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan authenticator: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
