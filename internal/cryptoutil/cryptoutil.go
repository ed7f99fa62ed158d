// Package cryptoutil implements the wallet's key derivation and the on-disk
// AEAD blob codec.
//
// Blob layout is fixed: nonce(12) ‖ tag(16) ‖ body. There is exactly one
// layout version; anything shorter than 28 bytes is rejected as malformed.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"pkt.systems/walletd/internal/secret"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// SaltSize is the per-vault KDF salt length in bytes.
	SaltSize = 16
	// NonceSize is the AES-GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag length in bytes.
	TagSize = 16
)

var (
	// ErrMalformed reports a blob whose structure cannot be decoded.
	ErrMalformed = errors.New("cryptoutil: malformed blob")
	// ErrAuthentication reports an AEAD tag mismatch (wrong key or tampering).
	ErrAuthentication = errors.New("cryptoutil: authentication failed")
	// ErrKeySize reports key material that is not 32 bytes.
	ErrKeySize = errors.New("cryptoutil: key must be 32 bytes")
)

// KDFParams carries the Argon2id tunables persisted in the vault header.
type KDFParams struct {
	Time      uint32 `json:"time"`
	MemoryKiB uint32 `json:"memory_kib"`
	Threads   uint8  `json:"threads"`
}

// DefaultKDFParams returns the wallet's fixed derivation cost: time 3,
// memory 64 MiB, parallelism 4.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// GenerateSalt draws a fresh random KDF salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey stretches a passphrase into a sealed 256-bit master key.
// Argon2id is intentionally slow; callers must not hold the vault lock while
// deriving.
func DeriveKey(passphrase, salt []byte, params KDFParams) *secret.Buffer {
	key := argon2.IDKey(passphrase, salt, params.Time, params.MemoryKiB, params.Threads, KeySize)
	return secret.New(key)
}

// Seal encrypts plaintext under key with a fresh random nonce and returns the
// nonce‖tag‖body encoding.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	// Go's GCM appends the tag to the body; the disk layout wants it first.
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	body, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	blob := make([]byte, 0, NonceSize+TagSize+len(body))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, body...)
	return blob, nil
}

// Open decodes a nonce‖tag‖body blob and decrypts it under key. Structural
// problems return ErrMalformed; a tag mismatch returns ErrAuthentication.
func Open(key, blob []byte) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, ErrMalformed
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := blob[:NonceSize]
	tag := blob[NonceSize : NonceSize+TagSize]
	body := blob[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(body)+TagSize)
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
