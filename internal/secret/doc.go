// Package secret owns the key material behind notegate's credential store.
//
// # Key File
//
// The gateway keeps one long-lived secret on disk (hex text, mode 0600).
// LoadOrCreateSecret reads it, or generates 48 random bytes on first run.
// Losing the file makes every stored credential unreadable, so operators
// must back it up.
//
// # Derived Keys
//
// The secret is stretched with scrypt under a fixed application salt into a
// 32-byte root key. HKDF-SHA256 expands the root key into purpose-specific
// subkeys (blob encryption, blob authentication, session signing), so the
// root key is never used directly.
//
// # Encrypted Blobs
//
// Cipher produces blobs of the form
//
//	<iv_hex>:<ciphertext_hex>
//
// where the ciphertext is AES-256-CBC with PKCS#7 padding followed by an
// HMAC-SHA256 tag over iv and ciphertext. Decrypt verifies the tag before
// touching the padding, so a tampered blob always fails.
package secret
