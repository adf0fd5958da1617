// Package blob stores encrypted file bodies by opaque key.
package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/and161185/safe-folder/internal/errs"
	"github.com/gofrs/uuid/v5"
)

// Store keeps ciphertext blobs. Keys are produced by NewKey and never derived from user input.
type Store interface {
	// Put writes r under key and returns the number of bytes stored.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	// Open returns a reader for key. Missing keys yield errs.ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// NewKey returns a fresh storage key for a user's blob.
func NewKey(userID int64) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("users/%d/%s.enc", userID, id), nil
}

// validKey rejects keys that could escape the storage root.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") || strings.Contains(key, `\`) {
		return fmt.Errorf("blob key %q: %w", key, errs.ErrInvalidArgument)
	}
	return nil
}
