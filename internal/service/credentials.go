// Package service contains the authentication flows and the encrypted file service.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgcrypto "github.com/and161185/safe-folder/internal/crypto"
	"github.com/and161185/safe-folder/internal/errs"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/and161185/safe-folder/internal/repository"
)

// Backup code batch shape.
const (
	BackupCodeCount  = 5
	BackupCodeLength = 10
)

// CredentialLedger verifies passwords and manages one-time backup codes. Methods take the
// repositories to run on so callers can compose them into one transaction.
type CredentialLedger interface {
	// Verify returns the user if the password matches. Unknown users and wrong passwords
	// both yield errs.ErrInvalidCredentials.
	Verify(ctx context.Context, r repository.Repos, username, password string) (*model.User, error)
	// GenerateBackupCodes replaces the user's unused codes and returns the new plaintext batch.
	GenerateBackupCodes(ctx context.Context, r repository.Repos, userID int64) ([]string, error)
	// ConsumeBackupCode marks the matching unused code as used, or fails with errs.ErrChallengeInvalid.
	// r must be bound to a transaction for the row locks to hold.
	ConsumeBackupCode(ctx context.Context, r repository.Repos, userID int64, candidate string) error
}

type CredentialLedgerImpl struct {
	hasher    pkgcrypto.PasswordHasher
	dummyHash string
	now       func() time.Time
}

// NewCredentialLedger constructs a ledger. It hashes a throwaway password once so lookups of
// unknown users cost the same as a real verification.
func NewCredentialLedger(hasher pkgcrypto.PasswordHasher) (*CredentialLedgerImpl, error) {
	dummy, err := hasher.Hash("safe-folder-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	return &CredentialLedgerImpl{hasher: hasher, dummyHash: dummy, now: time.Now}, nil
}

// WithClock replaces the time source; used by tests.
func (l *CredentialLedgerImpl) WithClock(now func() time.Time) *CredentialLedgerImpl {
	l.now = now
	return l
}

// HashPassword hashes a new account password.
func (l *CredentialLedgerImpl) HashPassword(password string) (string, error) {
	return l.hasher.Hash(password)
}

// Verify checks username and password.
func (l *CredentialLedgerImpl) Verify(ctx context.Context, r repository.Repos, username, password string) (*model.User, error) {
	u, err := r.Users().GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			l.hasher.Verify(password, l.dummyHash)
			return nil, errs.ErrInvalidCredentials
		}
		return nil, err
	}
	if !l.hasher.Verify(password, u.PasswordHash) {
		return nil, errs.ErrInvalidCredentials
	}
	return u, nil
}

// GenerateBackupCodes deletes the unused batch and stores hashes of a fresh one. It holds the
// user row lock so two regenerations cannot both leave a batch behind.
func (l *CredentialLedgerImpl) GenerateBackupCodes(ctx context.Context, r repository.Repos, userID int64) ([]string, error) {
	codes := make([]string, BackupCodeCount)
	hashes := make([]string, BackupCodeCount)
	for i := range codes {
		code, err := pkgcrypto.BackupCode(BackupCodeLength)
		if err != nil {
			return nil, err
		}
		h, err := l.hasher.Hash(code)
		if err != nil {
			return nil, fmt.Errorf("hash backup code: %w", err)
		}
		codes[i], hashes[i] = code, h
	}

	if _, err := r.Users().LockByID(ctx, userID); err != nil {
		return nil, err
	}
	if err := r.BackupCodes().DeleteUnused(ctx, userID); err != nil {
		return nil, err
	}
	if err := r.BackupCodes().InsertBatch(ctx, userID, hashes, l.now()); err != nil {
		return nil, err
	}
	return codes, nil
}

// ConsumeBackupCode checks candidate against every unused code so the timing does not reveal
// the position of a match, then marks the first match used.
func (l *CredentialLedgerImpl) ConsumeBackupCode(ctx context.Context, r repository.Repos, userID int64, candidate string) error {
	candidate = strings.ToUpper(strings.TrimSpace(candidate))
	if candidate == "" {
		return errs.ErrChallengeInvalid
	}

	unused, err := r.BackupCodes().LockUnused(ctx, userID)
	if err != nil {
		return err
	}
	var match int64
	for _, c := range unused {
		if l.hasher.Verify(candidate, c.CodeHash) && match == 0 {
			match = c.ID
		}
	}
	if match == 0 {
		return errs.ErrChallengeInvalid
	}
	return r.BackupCodes().MarkUsed(ctx, match, l.now())
}
