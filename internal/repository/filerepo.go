package repository

import (
	"context"
	"time"

	"github.com/and161185/safe-folder/internal/model"
)

// FileRepository provides access to encrypted file metadata. Soft-deleted rows are invisible.
type FileRepository interface {
	// Create inserts f and sets its ID.
	Create(ctx context.Context, f *model.FileRecord) error
	// Get returns a live file owned by userID.
	Get(ctx context.Context, userID, id int64) (*model.FileRecord, error)
	// List returns one page of the user's live files and the total match count.
	List(ctx context.Context, userID int64, q model.FileQuery) (model.FilePage, error)
	// Touch records a download.
	Touch(ctx context.Context, userID, id int64, at time.Time) error
	// SoftDelete hides the file. Missing or already deleted files yield errs.ErrNotFound.
	SoftDelete(ctx context.Context, userID, id int64, at time.Time) error
}

// Repos bundles repositories that share one connection or transaction.
type Repos interface {
	Users() UserRepository
	BackupCodes() BackupCodeRepository
	Challenges() ChallengeRepository
	RefreshTokens() RefreshTokenRepository
	Files() FileRepository
}

// Store hands out autocommit repositories and runs transactional units of work.
type Store interface {
	Repos
	// InTx runs fn with repositories bound to one transaction. It commits when fn returns nil
	// and rolls back otherwise.
	InTx(ctx context.Context, fn func(Repos) error) error
}
