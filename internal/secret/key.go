// ABOUTME: Loads or generates the long-lived secret behind credential encryption
// ABOUTME: Derives the scrypt root key and HKDF subkeys from that secret

package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"
)

const (
	// SecretBytes is the amount of entropy in a generated secret (96 hex chars).
	SecretBytes = 48

	// MinSecretLength is the shortest secret text accepted without a warning.
	MinSecretLength = 64

	// KeySize is the size of the root key and of every subkey.
	KeySize = 32

	// SecretFileMode restricts the key file to its owner.
	SecretFileMode = os.FileMode(0600)

	// derivationSalt is fixed so the same secret always yields the same key.
	derivationSalt = "notegate/credential-store/v1"

	scryptN = 16384
	scryptR = 8
	scryptP = 1
)

// Subkey purposes passed to HKDF as the info parameter.
const (
	PurposeBlobEncryption = "notegate blob encryption"
	PurposeBlobMAC        = "notegate blob authentication"
	PurposeSessionSigning = "notegate session signing"
)

// ErrSecretFile wraps every failure to read, write, or permission the key file.
// The gateway cannot run safely without the secret, so callers treat it as fatal.
var ErrSecretFile = errors.New("secret key file unusable")

// LoadOrCreateSecret returns the secret text stored at path.
// If the file does not exist a new random secret is generated and written with
// owner-only permissions. A secret shorter than MinSecretLength is returned
// as-is with a warning.
func LoadOrCreateSecret(path string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err == nil {
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", fmt.Errorf("%w: %s is empty", ErrSecretFile, path)
		}
		if len(text) < MinSecretLength {
			logger.Warn("secret key is shorter than recommended",
				"path", path,
				"length", len(text),
				"recommended", MinSecretLength,
			)
		}
		logger.Info("loaded secret key", "path", path)
		return text, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: reading %s: %v", ErrSecretFile, path, err)
	}

	logger.Info("secret key not found, generating a new one", "path", path)

	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%w: generating secret: %v", ErrSecretFile, err)
	}
	text := hex.EncodeToString(raw)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("%w: creating directory for %s: %v", ErrSecretFile, path, err)
	}
	if err := os.WriteFile(path, []byte(text), SecretFileMode); err != nil {
		return "", fmt.Errorf("%w: writing %s: %v", ErrSecretFile, path, err)
	}
	// WriteFile honours umask; make the mode explicit.
	if err := os.Chmod(path, SecretFileMode); err != nil {
		return "", fmt.Errorf("%w: restricting permissions on %s: %v", ErrSecretFile, path, err)
	}

	logger.Warn("generated new secret key; back it up, losing it makes stored credentials unreadable", "path", path)
	return text, nil
}

// DeriveKey stretches the secret text into the 32-byte root key.
// The derivation is deterministic so the key never needs to be stored.
func DeriveKey(secretText string) ([]byte, error) {
	if secretText == "" {
		return nil, errors.New("secret text is empty")
	}
	key, err := scrypt.Key([]byte(secretText), []byte(derivationSalt), scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// Subkey expands the root key into an independent key for the given purpose.
func Subkey(rootKey []byte, purpose string) ([]byte, error) {
	if len(rootKey) != KeySize {
		return nil, fmt.Errorf("root key must be %d bytes, got %d", KeySize, len(rootKey))
	}
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, rootKey, nil, []byte(purpose)), out); err != nil {
		return nil, fmt.Errorf("expanding %q subkey: %w", purpose, err)
	}
	return out, nil
}
