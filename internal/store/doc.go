// Package store persists the gateway's credentials and its audit trail.
//
// # Credential Files
//
// CredentialStore owns two files in the storage directory:
//
//   - master_auth_config.enc: one encrypted blob holding the master password
//   - user_credentials.enc: one encrypted blob wrapping the JSON user map
//
// The master file's absence is the only signal that first-run setup is still
// pending. An absent users file and an empty user map are distinct states.
// Every mutation is a whole-file rewrite through a temp file and rename,
// performed under the store mutex.
//
// A users file that cannot be decrypted or parsed is copied aside as
// user_credentials.enc.corrupt-<unix> and reset to an empty map. The reset is
// logged and recorded in the audit log as credentials_reset.
//
// # Audit Log
//
// SQLiteStore keeps an audit_log table (modernc.org/sqlite, WAL mode) with
// one row per login, logout, setup, or account change. NopAuditor stands in
// when auditing is disabled.
//
// # Error Handling
//
// Common errors:
//
//   - ErrMasterNotSet: the master record does not exist yet
//   - ErrUserExists / ErrUserNotFound: account conflicts for admin edits
//   - ErrEncryptFailed / ErrWriteFailed: a mutation did not reach disk
package store
