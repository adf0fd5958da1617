package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/and161185/safe-folder/internal/errs"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sizes shared by every supported AEAD.
const (
	KeySize   = 32 // 256-bit keys
	NonceSize = 12 // 96-bit nonces
	TagSize   = 16 // 128-bit tags
)

// Algorithm names an AEAD construction. The name is persisted with each file.
type Algorithm string

// Supported algorithms.
const (
	AES256GCM        Algorithm = "AES-256-GCM"
	ChaCha20Poly1305 Algorithm = "ChaCha20-Poly1305"
)

// ParseAlgorithm validates a configured or persisted algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AES256GCM, ChaCha20Poly1305:
		return Algorithm(s), nil
	case "":
		return AES256GCM, nil
	}
	return "", fmt.Errorf("unknown algorithm %q: %w", s, errs.ErrInvalidArgument)
}

// NewAEAD builds the cipher for alg keyed with key.
func NewAEAD(alg Algorithm, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	switch alg {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	}
	return nil, fmt.Errorf("unknown algorithm %q: %w", alg, errs.ErrInvalidArgument)
}

// Seal encrypts plaintext under key with a fresh random nonce and returns the ciphertext with
// the tag detached.
func Seal(alg Algorithm, key, plaintext []byte) (ciphertext, nonce, tag []byte, err error) {
	aead, err := NewAEAD(alg, key)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce, err = RandBytes(NonceSize)
	if err != nil {
		return nil, nil, nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	n := len(sealed) - TagSize
	return sealed[:n:n], nonce, sealed[n:], nil
}

// Open verifies tag and decrypts. Any mismatch yields errs.ErrAuthenticationFailed and no plaintext.
func Open(alg Algorithm, key, nonce, ciphertext, tag []byte) ([]byte, error) {
	aead, err := NewAEAD(alg, key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize || len(tag) != TagSize {
		return nil, errs.ErrAuthenticationFailed
	}
	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	pt, err := aead.Open(sealed[:0], nonce, sealed, nil)
	if err != nil {
		return nil, errs.ErrAuthenticationFailed
	}
	return pt, nil
}
