package passkey

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/triforce-app/triforce/internal/fault"
	"github.com/triforce-app/triforce/internal/server/db"
)

// WebAuthnVerifier is the production Verifier. A fresh engine is built
// per call because the relying-party id depends on the request host.
type WebAuthnVerifier struct{}

func NewWebAuthnVerifier() *WebAuthnVerifier {
	return &WebAuthnVerifier{}
}

func engine(rp RelyingParty) (*webauthn.WebAuthn, error) {
	w, err := webauthn.New(&webauthn.Config{
		RPID:          rp.ID,
		RPDisplayName: rp.Name,
		RPOrigins:     rp.Origins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn config: %w", err)
	}
	return w, nil
}

// ceremonyUser adapts a stored user to the webauthn.User interface.
type ceremonyUser struct {
	id          []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte                         { return u.id }
func (u *ceremonyUser) WebAuthnName() string                       { return u.name }
func (u *ceremonyUser) WebAuthnDisplayName() string                { return u.displayName }
func (u *ceremonyUser) WebAuthnIcon() string                       { return "" }
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

func newCeremonyUser(user *db.User, existing []*db.Authenticator) (*ceremonyUser, error) {
	cu := &ceremonyUser{
		id:          []byte(user.ID),
		name:        user.Email,
		displayName: user.Name,
	}
	for _, a := range existing {
		cred, err := storedCredential(a)
		if err != nil {
			return nil, err
		}
		cu.credentials = append(cu.credentials, *cred)
	}
	return cu, nil
}

func storedCredential(a *db.Authenticator) (*webauthn.Credential, error) {
	rawID, err := DecodeCredentialID(a.CredentialID)
	if err != nil {
		return nil, err
	}
	pk, err := base64.StdEncoding.DecodeString(a.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("stored public key: %w", err)
	}
	return &webauthn.Credential{
		ID:        rawID,
		PublicKey: pk,
		Flags: webauthn.CredentialFlags{
			BackupEligible: a.DeviceType == "multiDevice",
			BackupState:    a.BackedUp,
		},
		Authenticator: webauthn.Authenticator{SignCount: a.Counter},
	}, nil
}

func (v *WebAuthnVerifier) BeginRegistration(rp RelyingParty, user *db.User, existing []*db.Authenticator) (json.RawMessage, string, error) {
	w, err := engine(rp)
	if err != nil {
		return nil, "", err
	}
	cu, err := newCeremonyUser(user, existing)
	if err != nil {
		return nil, "", err
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(cu.credentials))
	for _, c := range cu.credentials {
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.ID,
		})
	}

	creation, session, err := w.BeginRegistration(cu,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementRequired,
			UserVerification: protocol.VerificationDiscouraged,
		}),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
		webauthn.WithExclusions(exclusions),
	)
	if err != nil {
		return nil, "", fmt.Errorf("begin registration: %w", err)
	}
	options, err := json.Marshal(creation)
	if err != nil {
		return nil, "", err
	}
	return options, session.Challenge, nil
}

func (v *WebAuthnVerifier) FinishRegistration(rp RelyingParty, user *db.User, challenge string, response []byte) (*RegisteredCredential, error) {
	w, err := engine(rp)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fault.ErrValidation, err)
	}

	cu := &ceremonyUser{id: []byte(user.ID), name: user.Email, displayName: user.Name}
	session := webauthn.SessionData{
		Challenge:        challenge,
		UserID:           cu.id,
		Expires:          time.Now().Add(challengeTTL),
		UserVerification: protocol.VerificationDiscouraged,
	}

	cred, err := w.CreateCredential(cu, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fault.ErrVerificationFailed, err)
	}
	return &RegisteredCredential{
		CredentialID: cred.ID,
		PublicKey:    cred.PublicKey,
		Counter:      cred.Authenticator.SignCount,
		DeviceType:   deviceType(cred.Flags.BackupEligible),
		BackedUp:     cred.Flags.BackupState,
	}, nil
}

func (v *WebAuthnVerifier) BeginLogin(rp RelyingParty) (json.RawMessage, string, error) {
	w, err := engine(rp)
	if err != nil {
		return nil, "", err
	}
	assertion, session, err := w.BeginDiscoverableLogin(
		webauthn.WithUserVerification(protocol.VerificationDiscouraged),
	)
	if err != nil {
		return nil, "", fmt.Errorf("begin login: %w", err)
	}
	options, err := json.Marshal(assertion)
	if err != nil {
		return nil, "", err
	}
	return options, session.Challenge, nil
}

func (v *WebAuthnVerifier) FinishLogin(rp RelyingParty, lookup UserLookup, challenge string, response []byte) (*LoginResult, error) {
	w, err := engine(rp)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fault.ErrValidation, err)
	}

	var (
		matched   *db.User
		lookupErr error
	)
	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		user, auth, err := lookup(rawID, userHandle)
		if err != nil {
			lookupErr = err
			return nil, err
		}
		cred, err := storedCredential(auth)
		if err != nil {
			lookupErr = err
			return nil, err
		}
		matched = user
		return &ceremonyUser{
			id:          []byte(user.ID),
			name:        user.Email,
			displayName: user.Name,
			credentials: []webauthn.Credential{*cred},
		}, nil
	}

	session := webauthn.SessionData{
		Challenge:        challenge,
		Expires:          time.Now().Add(challengeTTL),
		UserVerification: protocol.VerificationDiscouraged,
	}

	cred, err := w.ValidateDiscoverableLogin(handler, session, parsed)
	if err != nil {
		// The library flattens handler errors into its own type;
		// surface the original classification when we have it.
		if lookupErr != nil {
			return nil, lookupErr
		}
		return nil, fmt.Errorf("%w: %v", fault.ErrVerificationFailed, err)
	}
	return &LoginResult{
		User:         matched,
		CredentialID: cred.ID,
		NewCounter:   cred.Authenticator.SignCount,
	}, nil
}

func deviceType(backupEligible bool) string {
	if backupEligible {
		return "multiDevice"
	}
	return "singleDevice"
}
