// Package envelope wraps per-file data encryption keys (DEKs) under a process-wide master key.
package envelope

import (
	"fmt"

	pkgcrypto "github.com/and161185/safe-folder/internal/crypto"
	"github.com/and161185/safe-folder/internal/model"
)

// kekSalt is fixed: the master key must be reproducible from the configured secret alone.
var kekSalt = []byte("safe-folder/kek/v1")

// MasterKey is the key-encryption key. It is immutable after construction and never persisted.
type MasterKey struct{ k []byte }

// NewMasterKey copies raw 32-byte key material.
func NewMasterKey(raw []byte) (MasterKey, error) {
	if len(raw) != pkgcrypto.KeySize {
		return MasterKey{}, fmt.Errorf("master key must be %d bytes", pkgcrypto.KeySize)
	}
	return MasterKey{k: append([]byte(nil), raw...)}, nil
}

// MasterKeyFromSecret derives the master key from the application secret with PBKDF2.
func MasterKeyFromSecret(secret string, iterations int) (MasterKey, error) {
	raw, err := pkgcrypto.DeriveKey([]byte(secret), kekSalt, iterations)
	if err != nil {
		return MasterKey{}, fmt.Errorf("derive master key: %w", err)
	}
	return MasterKey{k: raw}, nil
}

// String hides key material from logs and %v.
func (MasterKey) String() string { return "MasterKey(redacted)" }

// Service wraps and unwraps DEKs. It owns the master key for the process lifetime.
type Service struct {
	master MasterKey
	alg    pkgcrypto.Algorithm
}

// New binds the service to master. Callers never pass the master key per call.
func New(master MasterKey, alg pkgcrypto.Algorithm) (*Service, error) {
	if len(master.k) != pkgcrypto.KeySize {
		return nil, fmt.Errorf("envelope: master key not initialized")
	}
	if _, err := pkgcrypto.NewAEAD(alg, master.k); err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	return &Service{master: master, alg: alg}, nil
}

// Algorithm reports the AEAD used for new wraps.
func (s *Service) Algorithm() pkgcrypto.Algorithm { return s.alg }

// GenerateDEK returns a fresh random 256-bit key.
func (s *Service) GenerateDEK() ([]byte, error) {
	return pkgcrypto.RandBytes(pkgcrypto.KeySize)
}

// Wrap encrypts dek under the master key.
func (s *Service) Wrap(dek []byte) (model.WrappedKey, error) {
	ct, nonce, tag, err := pkgcrypto.Seal(s.alg, s.master.k, dek)
	if err != nil {
		return model.WrappedKey{}, fmt.Errorf("wrap dek: %w", err)
	}
	return model.WrappedKey{Ciphertext: ct, Nonce: nonce, Tag: tag}, nil
}

// Unwrap decrypts a wrapped DEK using the algorithm it was wrapped with.
// A tag mismatch returns errs.ErrAuthenticationFailed.
func (s *Service) Unwrap(alg pkgcrypto.Algorithm, w model.WrappedKey) ([]byte, error) {
	dek, err := pkgcrypto.Open(alg, s.master.k, w.Nonce, w.Ciphertext, w.Tag)
	if err != nil {
		return nil, fmt.Errorf("unwrap dek: %w", err)
	}
	if len(dek) != pkgcrypto.KeySize {
		return nil, fmt.Errorf("unwrap dek: unexpected key length %d", len(dek))
	}
	return dek, nil
}
