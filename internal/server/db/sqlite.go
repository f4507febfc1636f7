package db

import (
	"database/sql"
	"fmt"

	"github.com/triforce-app/triforce/internal/crypto"
	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database connection. Token columns are sealed with
// the master key on write and opened on read; nothing outside this package
// sees ciphertext.
type Store struct {
	db        *sql.DB
	masterKey [32]byte
}

// NewStore opens or creates a SQLite database and runs migrations.
func NewStore(dbPath string, masterKey [32]byte) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	// Enable foreign key enforcement (off by default in SQLite)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, masterKey: masterKey}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS authenticators (
			credential_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			public_key TEXT NOT NULL,
			counter INTEGER NOT NULL DEFAULT 0,
			device_type TEXT NOT NULL DEFAULT 'platform',
			backed_up INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS verification_tokens (
			identifier TEXT NOT NULL,
			token TEXT NOT NULL,
			expires DATETIME NOT NULL,
			PRIMARY KEY (identifier, token)
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			access_token_encrypted BLOB NOT NULL,
			refresh_token_encrypted BLOB,
			token_type TEXT NOT NULL DEFAULT 'Bearer',
			scope TEXT NOT NULL DEFAULT '',
			expires_at DATETIME,
			extra_data TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, provider),
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

func (s *Store) seal(plaintext string) ([]byte, error) {
	return crypto.EncryptAtRest(s.masterKey, []byte(plaintext))
}

func (s *Store) open(ciphertext []byte) (string, error) {
	plain, err := crypto.DecryptAtRest(s.masterKey, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
