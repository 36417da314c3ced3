// ABOUTME: Query-string status codes carried by gateway redirects
// ABOUTME: Maps error, success, and info codes to the text shown on each page

package webadmin

// Error codes for the error= query parameter.
const (
	ErrMismatch         = "mismatch"
	ErrShort            = "short"
	ErrWriteFailed      = "write_failed"
	ErrEncryptFailed    = "encrypt_failed"
	ErrInvalid          = "invalid"
	ErrDecryptFailed    = "decrypt_failed"
	ErrNoUserFile       = "no_user_file"
	ErrMasterNotSet     = "master_not_set"
	ErrInternalState    = "internal_state"
	ErrUserExists       = "user_exists"
	ErrPasswordMismatch = "password_mismatch"
	ErrMissingFields    = "missing_fields"
	ErrUnknown          = "unknown"
	ErrUserNotFound     = "user_not_found"
	ErrInvalidUsername  = "invalid_username"
	ErrTooManyAttempts  = "too_many_attempts"
)

// Success codes for the success= query parameter.
const (
	SuccessUserAdded       = "user_added"
	SuccessUserDeleted     = "user_deleted"
	SuccessPasswordChanged = "password_changed"
)

// Info codes for the info= query parameter.
const (
	InfoLoggedOut     = "logged_out"
	InfoSetupComplete = "setup_complete"
)

var errorText = map[string]string{
	ErrMismatch:         "The passwords do not match.",
	ErrShort:            "The password must be at least 8 characters long.",
	ErrWriteFailed:      "The password could not be saved. Check the gateway's storage permissions.",
	ErrEncryptFailed:    "The password could not be encrypted.",
	ErrInvalid:          "Invalid username or password.",
	ErrDecryptFailed:    "The stored master password could not be read. The key file may have changed.",
	ErrNoUserFile:       "No user accounts exist yet. Sign in with the master password.",
	ErrMasterNotSet:     "The master password has not been set.",
	ErrInternalState:    "The stored master password was missing. Please run setup again.",
	ErrUserExists:       "A user with that name already exists.",
	ErrPasswordMismatch: "The passwords do not match.",
	ErrMissingFields:    "Please fill in every field.",
	ErrUnknown:          "Something went wrong. Please try again.",
	ErrUserNotFound:     "That user does not exist.",
	ErrInvalidUsername:  "Usernames may only contain letters, digits, and underscores, and cannot be \"master\".",
	ErrTooManyAttempts:  "Too many failed sign-in attempts. Try again later.",
}

var successText = map[string]string{
	SuccessUserAdded:       "User added.",
	SuccessUserDeleted:     "User deleted.",
	SuccessPasswordChanged: "Password changed.",
}

var infoText = map[string]string{
	InfoLoggedOut:     "You have been logged out.",
	InfoSetupComplete: "Setup complete. Sign in with your master password.",
}

// ErrorMessage returns the text for an error code. Unknown codes get the
// generic message so arbitrary query input is never echoed back.
func ErrorMessage(code string) string {
	if code == "" {
		return ""
	}
	if msg, ok := errorText[code]; ok {
		return msg
	}
	return errorText[ErrUnknown]
}

// SuccessMessage returns the text for a success code, or "".
func SuccessMessage(code string) string {
	return successText[code]
}

// InfoMessage returns the text for an info code, or "".
func InfoMessage(code string) string {
	return infoText[code]
}
