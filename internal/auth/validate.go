// ABOUTME: Validation rules for master passwords and user account names
// ABOUTME: Enforces minimum length, confirmation match, and the reserved master name

package auth

import (
	"errors"
	"regexp"
	"strings"
)

// MinMasterPasswordLength is the shortest accepted master password.
const MinMasterPasswordLength = 8

// ReservedUsername is the login name that means "the master credential".
// It can never be a regular account, in any letter case.
const ReservedUsername = "master"

// Validation errors
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrReservedUsername = errors.New("username is reserved")
	ErrInvalidUsername  = errors.New("username may only contain letters, digits, and underscores")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidateMasterPassword checks a new master password and its confirmation.
// Length is checked before the match.
func ValidateMasterPassword(password, confirm string) error {
	if len(password) < MinMasterPasswordLength {
		return ErrPasswordTooShort
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	return nil
}

// ValidateUsername checks a name for a new account.
func ValidateUsername(name string) error {
	if strings.EqualFold(name, ReservedUsername) {
		return ErrReservedUsername
	}
	if !usernamePattern.MatchString(name) {
		return ErrInvalidUsername
	}
	return nil
}
