// ABOUTME: Symmetric encryption of credential text into iv:ciphertext hex blobs
// ABOUTME: AES-256-CBC with an HMAC-SHA256 tag; decrypt fails closed on any defect

package secret

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const (
	// BlobSeparator splits the IV from the ciphertext in an encrypted blob.
	BlobSeparator = ":"

	ivSize  = aes.BlockSize
	tagSize = sha256.Size
)

// Decrypt errors. Callers treat both as "no valid credential".
var (
	ErrMalformedBlob = errors.New("malformed encrypted blob")
	ErrDecryptFailed = errors.New("decryption failed")
)

// Cipher encrypts and decrypts credential text under keys derived from the secret.
// It is safe for concurrent use.
type Cipher struct {
	encKey []byte
	macKey []byte
	logger *slog.Logger
}

// NewCipher builds a Cipher from a 32-byte root key (see DeriveKey).
func NewCipher(rootKey []byte, logger *slog.Logger) (*Cipher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	encKey, err := Subkey(rootKey, PurposeBlobEncryption)
	if err != nil {
		return nil, err
	}
	macKey, err := Subkey(rootKey, PurposeBlobMAC)
	if err != nil {
		return nil, err
	}
	return &Cipher{
		encKey: encKey,
		macKey: macKey,
		logger: logger.With("component", "cipher"),
	}, nil
}

// FromSecret derives the root key from secret text and builds a Cipher.
func FromSecret(secretText string, logger *slog.Logger) (*Cipher, error) {
	rootKey, err := DeriveKey(secretText)
	if err != nil {
		return nil, err
	}
	return NewCipher(rootKey, logger)
}

// Encrypt seals plaintext under a fresh random IV.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return "", fmt.Errorf("creating block cipher: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ct := make([]byte, len(padded), len(padded)+tagSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	ct = append(ct, c.tag(iv, ct)...)

	return hex.EncodeToString(iv) + BlobSeparator + hex.EncodeToString(ct), nil
}

// Decrypt opens a blob produced by Encrypt. Any defect (format, tag, padding)
// returns an error and is logged; the caller never sees partial plaintext.
func (c *Cipher) Decrypt(blob string) (string, error) {
	plaintext, err := c.open(strings.TrimSpace(blob))
	if err != nil {
		c.logger.Warn("credential decrypt failed", "error", err, "blob", truncate(blob, 20))
		return "", err
	}
	return plaintext, nil
}

func (c *Cipher) open(blob string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(blob, BlobSeparator)
	if !ok {
		return "", fmt.Errorf("%w: missing iv separator", ErrMalformedBlob)
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != ivSize {
		return "", fmt.Errorf("%w: invalid iv", ErrMalformedBlob)
	}

	body, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not hex", ErrMalformedBlob)
	}
	if len(body) < aes.BlockSize+tagSize || (len(body)-tagSize)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d", ErrMalformedBlob, len(body))
	}

	ct, tag := body[:len(body)-tagSize], body[len(body)-tagSize:]
	if !hmac.Equal(tag, c.tag(iv, ct)) {
		return "", fmt.Errorf("%w: authentication tag mismatch", ErrDecryptFailed)
	}

	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return "", fmt.Errorf("creating block cipher: %w", err)
	}
	padded := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ct)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return string(plaintext), nil
}

// tag authenticates iv || ciphertext.
func (c *Cipher) tag(iv, ct []byte) []byte {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(iv)
	mac.Write(ct)
	return mac.Sum(nil)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
