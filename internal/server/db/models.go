package db

import "time"

// User is an account created implicitly on first passkey registration.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Authenticator is a registered WebAuthn credential belonging to one user.
// CredentialID is canonical base64url (raw, unpadded); PublicKey is standard
// base64.
type Authenticator struct {
	CredentialID string    `json:"credential_id"`
	UserID       string    `json:"user_id"`
	PublicKey    string    `json:"-"`
	Counter      uint32    `json:"counter"`
	DeviceType   string    `json:"device_type"`
	BackedUp     bool      `json:"backed_up"`
	CreatedAt    time.Time `json:"created_at"`
}

// VerificationToken is an ephemeral single-use record: a WebAuthn challenge
// keyed by user id (or the "authentication" sentinel), or an OAuth CSRF state
// keyed by "<provider>_oauth_<email>".
type VerificationToken struct {
	Identifier string    `json:"identifier"`
	Token      string    `json:"-"`
	Expires    time.Time `json:"expires"`
}

// OAuthToken holds a user's provider tokens. Access and refresh tokens are
// sealed under the master key inside the database; the fields here are
// plaintext. ExpiresAt nil means the token does not expire.
type OAuthToken struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Provider     string     `json:"provider"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenType    string     `json:"token_type"`
	Scope        string     `json:"scope"`
	ExpiresAt    *time.Time `json:"expires_at"`
	ExtraData    string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
