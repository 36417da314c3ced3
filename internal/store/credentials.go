// ABOUTME: File-backed credential store for the master record and user map
// ABOUTME: Encrypts at rest, writes atomically, and serializes read-modify-write

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FileMode is the permission applied to every credential file.
const FileMode = os.FileMode(0600)

// Credential store errors.
var (
	ErrMasterNotSet  = errors.New("master credential not set")
	ErrUserExists    = errors.New("user already exists")
	ErrUserNotFound  = errors.New("user not found")
	ErrEncryptFailed = errors.New("encrypting credential failed")
	ErrWriteFailed   = errors.New("writing credential file failed")
)

// Sealer encrypts and decrypts credential text. *secret.Cipher implements it.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// UserRecord is the stored form of one user account.
type UserRecord struct {
	PasswordHash string `json:"passwordHash"`
}

// Users maps usernames to their records.
type Users map[string]UserRecord

// Names returns the usernames in sorted order.
func (u Users) Names() []string {
	names := make([]string, 0, len(u))
	for name := range u {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CredentialStoreConfig locates the credential files.
type CredentialStoreConfig struct {
	MasterPath string
	UsersPath  string
}

// CredentialStore owns the master credential file and the users file.
// No other component reads or writes them.
type CredentialStore struct {
	masterPath string
	usersPath  string
	sealer     Sealer
	auditor    Auditor
	logger     *slog.Logger

	// mu guards both files; every read-modify-write holds it throughout.
	mu sync.Mutex
}

// NewCredentialStore creates a store. A nil auditor disables auditing of resets.
func NewCredentialStore(cfg CredentialStoreConfig, sealer Sealer, auditor Auditor, logger *slog.Logger) (*CredentialStore, error) {
	if cfg.MasterPath == "" || cfg.UsersPath == "" {
		return nil, errors.New("credential store needs both master and users paths")
	}
	if sealer == nil {
		return nil, errors.New("credential store needs a sealer")
	}
	if auditor == nil {
		auditor = NopAuditor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, p := range []string{cfg.MasterPath, cfg.UsersPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return nil, fmt.Errorf("creating credential directory: %w", err)
		}
	}
	return &CredentialStore{
		masterPath: cfg.MasterPath,
		usersPath:  cfg.UsersPath,
		sealer:     sealer,
		auditor:    auditor,
		logger:     logger.With("component", "credentials"),
	}, nil
}

// HasMaster reports whether the master record exists. Its absence means the
// gateway still needs first-run setup.
func (s *CredentialStore) HasMaster() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fileExists(s.masterPath)
}

// ReadMaster returns the encrypted master blob, or ErrMasterNotSet.
func (s *CredentialStore) ReadMaster() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.masterPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrMasterNotSet
	}
	if err != nil {
		return "", fmt.Errorf("reading master credential: %w", err)
	}
	blob := strings.TrimSpace(string(data))
	if blob == "" {
		return "", ErrMasterNotSet
	}
	return blob, nil
}

// WriteMaster encrypts the master password and replaces the master record.
func (s *CredentialStore) WriteMaster(password string) error {
	blob, err := s.sealer.Encrypt(password)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.masterPath, []byte(blob)); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	s.logger.Info("master credential written", "path", s.masterPath)
	return nil
}

// ClearMaster removes the master record, returning the gateway to setup mode.
// It is used when the record turns out to be unreadable.
func (s *CredentialStore) ClearMaster() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.masterPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing master credential: %w", err)
	}
	s.logger.Warn("master credential cleared", "path", s.masterPath)
	return nil
}

// UsersFileExists reports whether the users file is present. An empty user
// map and an absent file are different states.
func (s *CredentialStore) UsersFileExists() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fileExists(s.usersPath)
}

// EnsureUsersFile writes an empty user map if the users file is absent.
func (s *CredentialStore) EnsureUsersFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := fileExists(s.usersPath)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.writeUsersLocked(Users{})
}

// ReadUsers returns the user map. An absent file yields an empty map.
// A file that cannot be decrypted or parsed is backed up and reset to an
// empty map; only a filesystem read error is returned.
func (s *CredentialStore) ReadUsers() (Users, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readUsersLocked()
}

// WriteUsers replaces the whole user map.
func (s *CredentialStore) WriteUsers(users Users) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeUsersLocked(users)
}

// UpdateUsers runs fn over the current user map under the store lock and
// writes the result. If fn returns an error nothing is written.
func (s *CredentialStore) UpdateUsers(fn func(Users) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readUsersLocked()
	if err != nil {
		return err
	}
	if err := fn(users); err != nil {
		return err
	}
	return s.writeUsersLocked(users)
}

// AddUser stores a new user. Name validation belongs to the caller.
func (s *CredentialStore) AddUser(username, password string) error {
	return s.UpdateUsers(func(users Users) error {
		if _, ok := users[username]; ok {
			return ErrUserExists
		}
		blob, err := s.sealer.Encrypt(password)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEncryptFailed, err)
		}
		users[username] = UserRecord{PasswordHash: blob}
		return nil
	})
}

// DeleteUser removes a user. A missing user returns ErrUserNotFound and
// leaves the file untouched.
func (s *CredentialStore) DeleteUser(username string) error {
	return s.UpdateUsers(func(users Users) error {
		if _, ok := users[username]; !ok {
			return ErrUserNotFound
		}
		delete(users, username)
		return nil
	})
}

// SetUserPassword replaces an existing user's password.
func (s *CredentialStore) SetUserPassword(username, password string) error {
	return s.UpdateUsers(func(users Users) error {
		if _, ok := users[username]; !ok {
			return ErrUserNotFound
		}
		blob, err := s.sealer.Encrypt(password)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEncryptFailed, err)
		}
		users[username] = UserRecord{PasswordHash: blob}
		return nil
	})
}

func (s *CredentialStore) readUsersLocked() (Users, error) {
	data, err := os.ReadFile(s.usersPath)
	if errors.Is(err, os.ErrNotExist) {
		return Users{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading users file: %w", err)
	}

	plaintext, err := s.sealer.Decrypt(string(data))
	if err != nil {
		return s.resetCorruptUsers(data, err), nil
	}

	users := Users{}
	if err := json.Unmarshal([]byte(plaintext), &users); err != nil {
		return s.resetCorruptUsers(data, err), nil
	}
	if users == nil {
		// the file held JSON null
		users = Users{}
	}
	return users, nil
}

// resetCorruptUsers copies the unreadable file to <users>.corrupt-<unix>
// and replaces it with an empty map.
func (s *CredentialStore) resetCorruptUsers(data []byte, cause error) Users {
	backup := s.usersPath + ".corrupt-" + strconv.FormatInt(time.Now().Unix(), 10)

	logger := s.logger.With("path", s.usersPath, "error", cause)
	if err := os.WriteFile(backup, data, FileMode); err != nil {
		logger.Error("could not back up corrupt users file", "backup", backup, "backup_error", err)
		backup = ""
	}
	if err := s.writeUsersLocked(Users{}); err != nil {
		logger.Error("could not reset corrupt users file", "reset_error", err)
	} else {
		logger.Warn("users file was unreadable and has been reset to empty", "backup", backup)
	}

	entry := &AuditEntry{
		Actor:  ActorSystem,
		Action: AuditCredentialsReset,
		Target: filepath.Base(s.usersPath),
		Detail: map[string]any{"cause": cause.Error(), "backup": backup},
	}
	if err := s.auditor.AppendAuditLog(context.Background(), entry); err != nil {
		logger.Warn("failed to audit credentials reset", "audit_error", err)
	}
	return Users{}
}

func (s *CredentialStore) writeUsersLocked(users Users) error {
	if users == nil {
		users = Users{}
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding users: %w", err)
	}
	blob, err := s.sealer.Encrypt(string(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}
	if err := writeFileAtomic(s.usersPath, []byte(blob)); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	s.logger.Debug("users file written", "users", len(users))
	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking %s: %w", path, err)
}

// writeFileAtomic replaces path with data via a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(FileMode); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
