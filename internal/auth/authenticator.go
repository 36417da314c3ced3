// ABOUTME: Verifies master and user passwords against the encrypted credential store
// ABOUTME: Constant-time comparison and a dummy check for unknown users

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/notegate/internal/store"
)

// Verification errors
var (
	ErrSetupRequired      = errors.New("master credential not configured")
	ErrDecryptFailed      = errors.New("stored credential could not be decrypted")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoUserFile         = errors.New("no user credentials file")
)

// CredentialSource is the read side of the credential store.
type CredentialSource interface {
	ReadMaster() (string, error)
	UsersFileExists() (bool, error)
	ReadUsers() (store.Users, error)
}

// Authenticator checks submitted passwords.
type Authenticator struct {
	creds     CredentialSource
	sealer    store.Sealer
	dummyBlob string
	logger    *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(creds CredentialSource, sealer store.Sealer, logger *slog.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// Unknown users are checked against this blob so the miss costs the
	// same as a wrong password.
	dummy, err := sealer.Encrypt("notegate-unknown-user")
	if err != nil {
		return nil, fmt.Errorf("preparing dummy credential: %w", err)
	}
	return &Authenticator{
		creds:     creds,
		sealer:    sealer,
		dummyBlob: dummy,
		logger:    logger.With("component", "authenticator"),
	}, nil
}

// VerifyMaster checks password against the master record.
func (a *Authenticator) VerifyMaster(password string) error {
	blob, err := a.creds.ReadMaster()
	if errors.Is(err, store.ErrMasterNotSet) {
		return ErrSetupRequired
	}
	if err != nil {
		return err
	}

	stored, err := a.sealer.Decrypt(blob)
	if err != nil {
		a.logger.Error("master credential could not be decrypted; wrong key file or corruption")
		return ErrDecryptFailed
	}
	if !passwordsEqual(stored, password) {
		return ErrInvalidCredentials
	}
	return nil
}

// VerifyUser checks password against the named user's record.
func (a *Authenticator) VerifyUser(username, password string) error {
	exists, err := a.creds.UsersFileExists()
	if err != nil {
		return err
	}
	if !exists {
		return ErrNoUserFile
	}

	users, err := a.creds.ReadUsers()
	if err != nil {
		return err
	}

	rec, ok := users[username]
	if !ok {
		_, _ = a.sealer.Decrypt(a.dummyBlob)
		passwordsEqual("", password)
		return ErrInvalidCredentials
	}

	stored, err := a.sealer.Decrypt(rec.PasswordHash)
	if err != nil {
		a.logger.Warn("user credential could not be decrypted", "username", username)
		return ErrInvalidCredentials
	}
	if !passwordsEqual(stored, password) {
		return ErrInvalidCredentials
	}
	return nil
}

// passwordsEqual compares digests so the comparison time does not depend on
// where the inputs differ or on their lengths.
func passwordsEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
