// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/safe-folder/internal/model"
)

// UserRepository provides access to confirmed accounts.
type UserRepository interface {
	// Create inserts a new user and sets its ID. A taken username or email yields errs.ErrAlreadyExists.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id int64) (*model.User, error)
	// LockByID loads a user by ID and row-locks it until the transaction ends.
	LockByID(ctx context.Context, id int64) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// GetByEmail loads a user by email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// Taken reports whether the username or the email is already registered.
	Taken(ctx context.Context, username, email string) (bool, error)
}

// BackupCodeRepository stores hashed recovery codes.
type BackupCodeRepository interface {
	// DeleteUnused removes every unused code of the user.
	DeleteUnused(ctx context.Context, userID int64) error
	// InsertBatch stores a new batch of code hashes.
	InsertBatch(ctx context.Context, userID int64, hashes []string, at time.Time) error
	// LockUnused returns the user's unused codes, row-locked until the transaction ends.
	LockUnused(ctx context.Context, userID int64) ([]model.BackupCode, error)
	// MarkUsed flags one code as consumed.
	MarkUsed(ctx context.Context, id int64, at time.Time) error
}
