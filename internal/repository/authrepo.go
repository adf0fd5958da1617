package repository

import (
	"context"
	"time"

	"github.com/and161185/safe-folder/internal/model"
)

// ChallengeRepository stores one live one-time code per (purpose, subject).
type ChallengeRepository interface {
	// Upsert inserts c or replaces the existing entry of the same subject.
	Upsert(ctx context.Context, c model.Challenge) error
	// PurgeExpired removes entries of purpose that expired before now.
	PurgeExpired(ctx context.Context, purpose model.Purpose, now time.Time) (int64, error)
	// Lock loads the subject's entry and holds a row lock on it. Absent entries yield errs.ErrNotFound.
	Lock(ctx context.Context, s model.Subject) (model.Challenge, error)
	// Delete removes the subject's entry. Deleting an absent entry is not an error.
	Delete(ctx context.Context, s model.Subject) error
}

// RefreshTokenRepository stores refresh token digests.
type RefreshTokenRepository interface {
	// DeleteByUser removes every token of the user.
	DeleteByUser(ctx context.Context, userID int64) error
	// Insert stores t and sets its ID.
	Insert(ctx context.Context, t *model.RefreshToken) error
	// PurgeExpired removes tokens that expired before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	// LockByHash loads a token by digest under a row lock. Absent tokens yield errs.ErrNotFound.
	LockByHash(ctx context.Context, hash []byte) (*model.RefreshToken, error)
	// DeleteByHash removes a token by digest and reports whether it existed.
	DeleteByHash(ctx context.Context, hash []byte) (bool, error)
}
