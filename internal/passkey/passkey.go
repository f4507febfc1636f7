// Package passkey implements the WebAuthn ceremony flows: challenge
// generation and credential verification for registration and login.
// Challenges are persisted as single-use verification tokens with a
// fixed TTL, so any replica holding the same database can finish a
// ceremony another replica started.
package passkey

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/triforce-app/triforce/internal/fault"
	"github.com/triforce-app/triforce/internal/logx"
	"github.com/triforce-app/triforce/internal/server/db"
)

const (
	ActionRegister     = "register"
	ActionAuthenticate = "authenticate"

	// challengeTTL bounds how long a generated challenge stays valid.
	challengeTTL = 10 * time.Minute

	// loginChallengeIdentifier keys discoverable-login challenges,
	// which are generated before any user is known.
	loginChallengeIdentifier = "authentication"
)

// RelyingParty identifies the WebAuthn relying party for one request.
type RelyingParty struct {
	ID      string
	Name    string
	Origins []string
}

// RegisteredCredential is the outcome of a successful attestation.
type RegisteredCredential struct {
	CredentialID []byte
	PublicKey    []byte
	Counter      uint32
	DeviceType   string
	BackedUp     bool
}

// LoginResult is the outcome of a successful assertion.
type LoginResult struct {
	User         *db.User
	CredentialID []byte
	NewCounter   uint32
}

// UserLookup resolves the user and stored authenticator for an
// assertion's raw credential id and user handle.
type UserLookup func(rawCredentialID, userHandle []byte) (*db.User, *db.Authenticator, error)

// Verifier performs the cryptographic half of the ceremonies. The
// production implementation wraps go-webauthn; tests substitute a fake
// so ceremony plumbing can be exercised without real authenticators.
type Verifier interface {
	BeginRegistration(rp RelyingParty, user *db.User, existing []*db.Authenticator) (options json.RawMessage, challenge string, err error)
	FinishRegistration(rp RelyingParty, user *db.User, challenge string, response []byte) (*RegisteredCredential, error)
	BeginLogin(rp RelyingParty) (options json.RawMessage, challenge string, err error)
	FinishLogin(rp RelyingParty, lookup UserLookup, challenge string, response []byte) (*LoginResult, error)
}

// Config carries the relying-party settings.
type Config struct {
	// RPID overrides the relying-party id. When empty the id is
	// derived from the request host.
	RPID string

	// RPName is the human-readable relying-party name shown by
	// authenticator prompts.
	RPName string

	// Origins lists trusted origins accepted in addition to the
	// origin of the current request.
	Origins []string
}

// Service drives challenge generation and credential verification.
type Service struct {
	store    *db.Store
	verifier Verifier
	cfg      Config
}

func NewService(store *db.Store, verifier Verifier, cfg Config) *Service {
	return &Service{store: store, verifier: verifier, cfg: cfg}
}

// GenerateChallenge starts a ceremony and returns the client options.
// For registration the user row is created on first sight of the email.
func (s *Service) GenerateChallenge(action, email, host, origin string) (json.RawMessage, error) {
	rp := s.relyingParty(host, origin)

	switch action {
	case ActionRegister:
		if email == "" {
			return nil, fmt.Errorf("%w: email is required", fault.ErrValidation)
		}
		user, err := s.store.GetUserByEmail(email)
		if err != nil {
			return nil, err
		}
		if user == nil {
			user = &db.User{ID: uuid.NewString(), Email: email, Name: displayName(email)}
			if err := s.store.CreateUser(user); err != nil {
				return nil, err
			}
		}
		existing, err := s.store.ListAuthenticatorsByUser(user.ID)
		if err != nil {
			return nil, err
		}
		options, challenge, err := s.verifier.BeginRegistration(rp, user, existing)
		if err != nil {
			return nil, err
		}
		if err := s.store.CreateVerificationToken(user.ID, challenge, time.Now().UTC().Add(challengeTTL)); err != nil {
			return nil, err
		}
		return options, nil

	case ActionAuthenticate:
		options, challenge, err := s.verifier.BeginLogin(rp)
		if err != nil {
			return nil, err
		}
		if err := s.store.CreateVerificationToken(loginChallengeIdentifier, challenge, time.Now().UTC().Add(challengeTTL)); err != nil {
			return nil, err
		}
		return options, nil

	default:
		return nil, fmt.Errorf("%w: unknown action %q", fault.ErrValidation, action)
	}
}

// VerifyCredential finishes a ceremony. The matching challenge is
// consumed exactly once; a second verification against the same
// challenge fails even if the signature is valid.
func (s *Service) VerifyCredential(action, email string, response json.RawMessage, host, origin string) (*db.User, error) {
	rp := s.relyingParty(host, origin)

	switch action {
	case ActionRegister:
		return s.verifyRegistration(rp, email, response)
	case ActionAuthenticate:
		return s.verifyLogin(rp, response)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", fault.ErrValidation, action)
	}
}

func (s *Service) verifyRegistration(rp RelyingParty, email string, response json.RawMessage) (*db.User, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", fault.ErrValidation)
	}
	user, err := s.store.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: no user for email", fault.ErrNotFound)
	}

	token, err := s.store.LatestVerificationToken(user.ID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, fault.ErrChallengeExpired
	}

	cred, err := s.verifier.FinishRegistration(rp, user, token.Token, response)
	if err != nil {
		return nil, err
	}

	consumed, err := s.store.ConsumeVerificationToken(token.Identifier, token.Token)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, fault.ErrChallengeExpired
	}

	auth := &db.Authenticator{
		CredentialID: CanonicalCredentialID(cred.CredentialID),
		UserID:       user.ID,
		PublicKey:    base64.StdEncoding.EncodeToString(cred.PublicKey),
		Counter:      cred.Counter,
		DeviceType:   cred.DeviceType,
		BackedUp:     cred.BackedUp,
	}
	if err := s.store.CreateAuthenticator(auth); err != nil {
		return nil, err
	}
	logx.Infof("passkey registered: user=%s credential_len=%d", user.ID, len(cred.CredentialID))
	return user, nil
}

func (s *Service) verifyLogin(rp RelyingParty, response json.RawMessage) (*db.User, error) {
	token, err := s.store.LatestVerificationToken(loginChallengeIdentifier, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, fault.ErrChallengeExpired
	}

	result, err := s.verifier.FinishLogin(rp, s.lookupUser, token.Token, response)
	if err != nil {
		return nil, err
	}

	consumed, err := s.store.ConsumeVerificationToken(token.Identifier, token.Token)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, fault.ErrChallengeExpired
	}

	// A failed counter bump is not fatal; the login already verified.
	if err := s.updateCounter(result.CredentialID, result.NewCounter); err != nil {
		logx.Warnf("passkey counter update failed: user=%s err=%v", result.User.ID, err)
	}
	return result.User, nil
}

func (s *Service) lookupUser(rawCredentialID, userHandle []byte) (*db.User, *db.Authenticator, error) {
	auth, err := s.findAuthenticator(rawCredentialID)
	if err != nil {
		return nil, nil, err
	}
	if auth == nil {
		return nil, nil, fmt.Errorf("%w: unknown credential", fault.ErrNotFound)
	}
	user, err := s.store.GetUserByID(auth.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, fmt.Errorf("%w: credential has no user", fault.ErrNotFound)
	}
	return user, auth, nil
}

// findAuthenticator looks up by the canonical encoding first and falls
// back to padded standard base64 for rows written by older builds.
func (s *Service) findAuthenticator(rawID []byte) (*db.Authenticator, error) {
	auth, err := s.store.GetAuthenticator(CanonicalCredentialID(rawID))
	if err != nil || auth != nil {
		return auth, err
	}
	return s.store.GetAuthenticator(base64.StdEncoding.EncodeToString(rawID))
}

func (s *Service) updateCounter(rawID []byte, counter uint32) error {
	auth, err := s.findAuthenticator(rawID)
	if err != nil {
		return err
	}
	if auth == nil {
		return fmt.Errorf("authenticator disappeared during login")
	}
	return s.store.UpdateAuthenticatorCounter(auth.CredentialID, counter)
}

func (s *Service) relyingParty(host, origin string) RelyingParty {
	id := s.cfg.RPID
	if id == "" {
		id = hostname(host)
	}
	origins := make([]string, 0, len(s.cfg.Origins)+1)
	origins = append(origins, s.cfg.Origins...)
	if origin != "" && !contains(origins, origin) {
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		origins = append(origins, defaultOrigin(id, host))
	}
	return RelyingParty{ID: id, Name: s.cfg.RPName, Origins: origins}
}

// CanonicalCredentialID is the storage encoding for credential ids:
// unpadded base64url.
func CanonicalCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCredentialID accepts any common base64 flavor and returns the
// raw bytes, so ids from older clients still resolve.
func DecodeCredentialID(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: credential id is not base64", fault.ErrValidation)
}

func hostname(host string) string {
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	if host == "" {
		return "localhost"
	}
	return host
}

func defaultOrigin(rpID, host string) string {
	if rpID == "localhost" || strings.HasPrefix(rpID, "127.") {
		return "http://" + host
	}
	return "https://" + rpID
}

func displayName(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
