package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// MinIterations is the floor for PBKDF2 rounds.
const MinIterations = 100_000

// DeriveKey stretches secret into a 256-bit key with PBKDF2-HMAC-SHA256.
// It is slow by design and meant to run once per process.
func DeriveKey(secret, salt []byte, iterations int) ([]byte, error) {
	if iterations < MinIterations {
		return nil, fmt.Errorf("pbkdf2: %d iterations below minimum %d", iterations, MinIterations)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("pbkdf2: empty secret")
	}
	return pbkdf2.Key(secret, salt, iterations, KeySize, sha256.New), nil
}

// DeriveSubkey expands secret into an independent 256-bit key bound to info (HKDF-SHA256).
func DeriveSubkey(secret []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
