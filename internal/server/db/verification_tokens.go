package db

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateVerificationToken inserts a new single-use token row.
func (s *Store) CreateVerificationToken(identifier, token string, expires time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO verification_tokens (identifier, token, expires) VALUES (?, ?, ?)`,
		identifier, token, expires.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create verification token: %w", err)
	}
	return nil
}

// LatestVerificationToken returns the most recently expiring token for an
// identifier that is still valid at now, or nil. A token whose expiry equals
// now exactly is already expired.
func (s *Store) LatestVerificationToken(identifier string, now time.Time) (*VerificationToken, error) {
	vt := &VerificationToken{}
	err := s.db.QueryRow(
		`SELECT identifier, token, expires FROM verification_tokens
		 WHERE identifier = ? AND expires > ?
		 ORDER BY expires DESC LIMIT 1`,
		identifier, now.UTC(),
	).Scan(&vt.Identifier, &vt.Token, &vt.Expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest verification token: %w", err)
	}
	return vt, nil
}

// FindVerificationToken looks up a token by exact identifier+token pair,
// regardless of expiry (callers that need the expiry decide what to do with
// it), or nil if absent.
func (s *Store) FindVerificationToken(identifier, token string) (*VerificationToken, error) {
	vt := &VerificationToken{}
	err := s.db.QueryRow(
		`SELECT identifier, token, expires FROM verification_tokens
		 WHERE identifier = ? AND token = ?`,
		identifier, token,
	).Scan(&vt.Identifier, &vt.Token, &vt.Expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find verification token: %w", err)
	}
	return vt, nil
}

// ConsumeVerificationToken deletes an identifier+token pair and reports
// whether this call removed it. The single DELETE makes consumption atomic:
// of two racing callers at most one sees true.
func (s *Store) ConsumeVerificationToken(identifier, token string) (bool, error) {
	res, err := s.db.Exec(
		`DELETE FROM verification_tokens WHERE identifier = ? AND token = ?`,
		identifier, token,
	)
	if err != nil {
		return false, fmt.Errorf("consume verification token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume verification token: %w", err)
	}
	return n > 0, nil
}

// DeleteExpiredVerificationTokens garbage-collects rows whose expiry is at
// or before now. Returns the number removed.
func (s *Store) DeleteExpiredVerificationTokens(now time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM verification_tokens WHERE expires <= ?`, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired verification tokens: %w", err)
	}
	return res.RowsAffected()
}
