package passkey

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/triforce-app/triforce/internal/fault"
	"github.com/triforce-app/triforce/internal/server/db"
)

type fakeVerifier struct {
	challenge  string
	regResult  *RegisteredCredential
	loginRawID []byte
	failVerify bool

	gotChallenge string
}

func (f *fakeVerifier) BeginRegistration(rp RelyingParty, user *db.User, existing []*db.Authenticator) (json.RawMessage, string, error) {
	return json.RawMessage(`{"publicKey":{}}`), f.challenge, nil
}

func (f *fakeVerifier) FinishRegistration(rp RelyingParty, user *db.User, challenge string, response []byte) (*RegisteredCredential, error) {
	f.gotChallenge = challenge
	if f.failVerify {
		return nil, fmt.Errorf("%w: bad signature", fault.ErrVerificationFailed)
	}
	return f.regResult, nil
}

func (f *fakeVerifier) BeginLogin(rp RelyingParty) (json.RawMessage, string, error) {
	return json.RawMessage(`{"publicKey":{}}`), f.challenge, nil
}

func (f *fakeVerifier) FinishLogin(rp RelyingParty, lookup UserLookup, challenge string, response []byte) (*LoginResult, error) {
	f.gotChallenge = challenge
	if f.failVerify {
		return nil, fmt.Errorf("%w: bad signature", fault.ErrVerificationFailed)
	}
	user, auth, err := lookup(f.loginRawID, nil)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, CredentialID: f.loginRawID, NewCounter: auth.Counter + 1}, nil
}

func testKey() [32]byte {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func newTestService(t *testing.T, fv *fakeVerifier) (*Service, *db.Store) {
	t.Helper()
	store, err := db.NewStore(":memory:", testKey())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	svc := NewService(store, fv, Config{RPName: "Triforce App"})
	return svc, store
}

func TestGenerateChallengeRegisterCreatesUser(t *testing.T) {
	fv := &fakeVerifier{challenge: "chal-1"}
	svc, store := newTestService(t, fv)

	options, err := svc.GenerateChallenge(ActionRegister, "new@x.com", "app.example.com:8443", "https://app.example.com")
	if err != nil {
		t.Fatalf("GenerateChallenge: %v", err)
	}
	if len(options) == 0 {
		t.Fatal("expected options payload")
	}

	user, err := store.GetUserByEmail("new@x.com")
	if err != nil || user == nil {
		t.Fatalf("user not created: %v %v", user, err)
	}

	vt, err := store.LatestVerificationToken(user.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("LatestVerificationToken: %v", err)
	}
	if vt == nil || vt.Token != "chal-1" {
		t.Fatalf("challenge not persisted: %+v", vt)
	}

	// Second challenge for the same email reuses the user row.
	if _, err := svc.GenerateChallenge(ActionRegister, "new@x.com", "app.example.com", ""); err != nil {
		t.Fatalf("second GenerateChallenge: %v", err)
	}
	again, _ := store.GetUserByEmail("new@x.com")
	if again.ID != user.ID {
		t.Error("register challenge must not duplicate the user")
	}
}

func TestGenerateChallengeValidation(t *testing.T) {
	svc, _ := newTestService(t, &fakeVerifier{challenge: "c"})

	if _, err := svc.GenerateChallenge("enroll", "a@x.com", "h", ""); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("unknown action: err = %v", err)
	}
	if _, err := svc.GenerateChallenge(ActionRegister, "", "h", ""); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("missing email: err = %v", err)
	}
}

func TestVerifyRegistrationConsumesChallenge(t *testing.T) {
	rawID := []byte{0xde, 0xad, 0xbe, 0xef}
	fv := &fakeVerifier{
		challenge: "chal-reg",
		regResult: &RegisteredCredential{
			CredentialID: rawID,
			PublicKey:    []byte("pk"),
			Counter:      0,
			DeviceType:   "singleDevice",
		},
	}
	svc, store := newTestService(t, fv)

	if _, err := svc.GenerateChallenge(ActionRegister, "a@x.com", "localhost:8080", "http://localhost:8080"); err != nil {
		t.Fatalf("GenerateChallenge: %v", err)
	}

	user, err := svc.VerifyCredential(ActionRegister, "a@x.com", json.RawMessage(`{}`), "localhost:8080", "http://localhost:8080")
	if err != nil {
		t.Fatalf("VerifyCredential: %v", err)
	}
	if fv.gotChallenge != "chal-reg" {
		t.Errorf("verifier saw challenge %q", fv.gotChallenge)
	}

	auth, err := store.GetAuthenticator(CanonicalCredentialID(rawID))
	if err != nil || auth == nil {
		t.Fatalf("authenticator not stored: %v %v", auth, err)
	}
	if auth.UserID != user.ID {
		t.Errorf("authenticator bound to %s, want %s", auth.UserID, user.ID)
	}

	// The challenge is gone; replaying the same response must fail.
	_, err = svc.VerifyCredential(ActionRegister, "a@x.com", json.RawMessage(`{}`), "localhost:8080", "http://localhost:8080")
	if !errors.Is(err, fault.ErrChallengeExpired) {
		t.Errorf("replay: err = %v, want challenge expired", err)
	}
}

func TestVerifyRegistrationExpiredChallenge(t *testing.T) {
	fv := &fakeVerifier{challenge: "stale"}
	svc, store := newTestService(t, fv)

	user := &db.User{ID: "u1", Email: "a@x.com", Name: "a"}
	if err := store.CreateUser(user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.CreateVerificationToken(user.ID, "stale", time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("CreateVerificationToken: %v", err)
	}

	_, err := svc.VerifyCredential(ActionRegister, "a@x.com", json.RawMessage(`{}`), "h", "")
	if !errors.Is(err, fault.ErrChallengeExpired) {
		t.Errorf("err = %v, want challenge expired", err)
	}
}

func TestVerifyRegistrationUnknownUser(t *testing.T) {
	svc, _ := newTestService(t, &fakeVerifier{challenge: "c"})

	_, err := svc.VerifyCredential(ActionRegister, "nobody@x.com", json.RawMessage(`{}`), "h", "")
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestVerifyLoginUpdatesCounter(t *testing.T) {
	rawID := []byte{1, 2, 3, 4}
	fv := &fakeVerifier{challenge: "chal-login", loginRawID: rawID}
	svc, store := newTestService(t, fv)

	user := &db.User{ID: "u1", Email: "a@x.com", Name: "a"}
	if err := store.CreateUser(user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.CreateAuthenticator(&db.Authenticator{
		CredentialID: CanonicalCredentialID(rawID),
		UserID:       user.ID,
		PublicKey:    base64.StdEncoding.EncodeToString([]byte("pk")),
		Counter:      4,
	}); err != nil {
		t.Fatalf("CreateAuthenticator: %v", err)
	}

	if _, err := svc.GenerateChallenge(ActionAuthenticate, "", "localhost", "http://localhost"); err != nil {
		t.Fatalf("GenerateChallenge: %v", err)
	}

	got, err := svc.VerifyCredential(ActionAuthenticate, "", json.RawMessage(`{}`), "localhost", "http://localhost")
	if err != nil {
		t.Fatalf("VerifyCredential: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("logged in as %s, want %s", got.ID, user.ID)
	}

	auth, _ := store.GetAuthenticator(CanonicalCredentialID(rawID))
	if auth.Counter != 5 {
		t.Errorf("counter = %d, want 5", auth.Counter)
	}

	// Challenge is single use.
	_, err = svc.VerifyCredential(ActionAuthenticate, "", json.RawMessage(`{}`), "localhost", "http://localhost")
	if !errors.Is(err, fault.ErrChallengeExpired) {
		t.Errorf("replay: err = %v, want challenge expired", err)
	}
}

func TestVerifyLoginLegacyEncoding(t *testing.T) {
	rawID := []byte{0xfa, 0xce, 0x00, 0x01}
	fv := &fakeVerifier{challenge: "chal", loginRawID: rawID}
	svc, store := newTestService(t, fv)

	user := &db.User{ID: "u1", Email: "a@x.com", Name: "a"}
	if err := store.CreateUser(user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	// Row written by an older build: padded standard base64.
	if err := store.CreateAuthenticator(&db.Authenticator{
		CredentialID: base64.StdEncoding.EncodeToString(rawID),
		UserID:       user.ID,
		PublicKey:    base64.StdEncoding.EncodeToString([]byte("pk")),
		Counter:      1,
	}); err != nil {
		t.Fatalf("CreateAuthenticator: %v", err)
	}

	if _, err := svc.GenerateChallenge(ActionAuthenticate, "", "h", ""); err != nil {
		t.Fatalf("GenerateChallenge: %v", err)
	}
	got, err := svc.VerifyCredential(ActionAuthenticate, "", json.RawMessage(`{}`), "h", "")
	if err != nil {
		t.Fatalf("VerifyCredential with legacy row: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("resolved user %s, want %s", got.ID, user.ID)
	}
}

func TestVerifyLoginUnknownCredential(t *testing.T) {
	fv := &fakeVerifier{challenge: "chal", loginRawID: []byte{9, 9, 9}}
	svc, _ := newTestService(t, fv)

	if _, err := svc.GenerateChallenge(ActionAuthenticate, "", "h", ""); err != nil {
		t.Fatalf("GenerateChallenge: %v", err)
	}
	_, err := svc.VerifyCredential(ActionAuthenticate, "", json.RawMessage(`{}`), "h", "")
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestDecodeCredentialIDFlavors(t *testing.T) {
	raw := []byte{0xfb, 0xef, 0xff, 0x01, 0x02}
	encodings := []string{
		base64.RawURLEncoding.EncodeToString(raw),
		base64.URLEncoding.EncodeToString(raw),
		base64.StdEncoding.EncodeToString(raw),
	}
	for _, enc := range encodings {
		got, err := DecodeCredentialID(enc)
		if err != nil {
			t.Errorf("DecodeCredentialID(%q): %v", enc, err)
			continue
		}
		if string(got) != string(raw) {
			t.Errorf("DecodeCredentialID(%q) = %x, want %x", enc, got, raw)
		}
	}

	if _, err := DecodeCredentialID("!!!not base64!!!"); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("invalid input: err = %v", err)
	}
}

func TestRelyingPartyDerivation(t *testing.T) {
	svc := NewService(nil, nil, Config{RPName: "Triforce App"})

	rp := svc.relyingParty("app.example.com:8443", "https://app.example.com")
	if rp.ID != "app.example.com" {
		t.Errorf("rp id = %q", rp.ID)
	}
	if len(rp.Origins) != 1 || rp.Origins[0] != "https://app.example.com" {
		t.Errorf("origins = %v", rp.Origins)
	}

	svc = NewService(nil, nil, Config{RPID: "example.com", Origins: []string{"https://example.com"}})
	rp = svc.relyingParty("other.host:9090", "https://example.com")
	if rp.ID != "example.com" {
		t.Errorf("override rp id = %q", rp.ID)
	}
	if len(rp.Origins) != 1 {
		t.Errorf("duplicate origin appended: %v", rp.Origins)
	}
}
