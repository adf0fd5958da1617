// Package model defines domain entities used by services and repositories.
package model

import (
	"time"
)

// Tokens collects an issued access/refresh pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string    // always "bearer"
	ExpiresAt    time.Time // access token expiry (for diagnostics)
}

// User represents an account. The password is stored only as an opaque hash.
type User struct {
	ID           int64  // PK
	Username     string // unique
	Email        string // unique
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BackupCode is one hashed recovery code of a user's live batch.
type BackupCode struct {
	ID        int64
	UserID    int64
	CodeHash  string
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

// RefreshToken is a server-side refresh token row. Only a digest of the token is stored.
type RefreshToken struct {
	ID        int64
	UserID    int64
	TokenHash []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}

// WrappedKey is a DEK encrypted under the master key.
type WrappedKey struct {
	Ciphertext []byte
	Nonce      []byte // 12 bytes
	Tag        []byte // 16 bytes
}

// FileRecord is the metadata row of an encrypted file. The ciphertext lives in blob storage.
type FileRecord struct {
	ID           int64
	UserID       int64
	OriginalName string
	MimeType     string
	SizeBytes    int64  // size of the stored (encrypted) blob
	StorageKey   string // blob locator
	Algorithm    string // AEAD used for body and DEK
	BodyNonce    []byte
	BodyTag      []byte
	DEK          WrappedKey
	UploadedAt   time.Time
	AccessedAt   *time.Time
	DeletedAt    *time.Time // nil means live
}

// SortField enumerates the columns a file listing may be ordered by.
type SortField string

// Sortable file fields.
const (
	SortByUploadedAt SortField = "uploaded_at"
	SortByName       SortField = "original_filename"
	SortByMimeType   SortField = "mime_type"
	SortBySize       SortField = "size_bytes"
)

// ParseSortField maps user input to a known sort field, defaulting to upload time.
func ParseSortField(s string) (SortField, bool) {
	switch SortField(s) {
	case SortByUploadedAt, SortByName, SortByMimeType, SortBySize:
		return SortField(s), true
	case "":
		return SortByUploadedAt, true
	}
	return SortByUploadedAt, false
}

// FileQuery filters and pages a user's live files.
type FileQuery struct {
	Search   string // case-insensitive substring of filename or MIME type
	MimeType string // case-insensitive substring of MIME type
	From     *time.Time
	To       *time.Time
	SortBy   SortField
	Asc      bool
	Offset   int
	Limit    int
}

// FilePage is one page of a listing plus the total number of matches.
type FilePage struct {
	Files []FileRecord
	Total int
}

// Page size bounds for file listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging and fills the default sort field.
func (q FileQuery) Normalize() FileQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.SortBy == "" {
		q.SortBy = SortByUploadedAt
	}
	return q
}
