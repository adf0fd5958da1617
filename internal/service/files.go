package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/and161185/safe-folder/internal/blob"
	pkgcrypto "github.com/and161185/safe-folder/internal/crypto"
	"github.com/and161185/safe-folder/internal/crypto/envelope"
	"github.com/and161185/safe-folder/internal/crypto/filecipher"
	"github.com/and161185/safe-folder/internal/errs"
	"github.com/and161185/safe-folder/internal/metrics"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/and161185/safe-folder/internal/repository"
	"go.uber.org/zap"
)

const (
	maxFilenameLen  = 255
	defaultMimeType = "application/octet-stream"
)

// FileService stores and serves encrypted files.
type FileService interface {
	// Upload encrypts body under a fresh DEK and stores it.
	Upload(ctx context.Context, userID int64, filename, mimeType string, body io.Reader) (*model.FileRecord, error)
	// Get returns the metadata of a live file.
	Get(ctx context.Context, userID, fileID int64) (*model.FileRecord, error)
	// Download verifies and decrypts a file into sink. Nothing is written on integrity failure.
	Download(ctx context.Context, userID, fileID int64, sink io.Writer) (*model.FileRecord, error)
	// List returns one page of the user's files.
	List(ctx context.Context, userID int64, q model.FileQuery) (model.FilePage, error)
	// Delete soft-deletes a file.
	Delete(ctx context.Context, userID, fileID int64) error
}

type FileServiceImpl struct {
	files   repository.FileRepository
	blobs   blob.Store
	env     *envelope.Service
	maxSize int64
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewFileService constructs FileService. New files use the envelope service's algorithm.
func NewFileService(files repository.FileRepository, blobs blob.Store, env *envelope.Service, maxSize int64, log *zap.Logger, m *metrics.Metrics) *FileServiceImpl {
	if maxSize <= 0 {
		maxSize = filecipher.DefaultMaxSize
	}
	return &FileServiceImpl{files: files, blobs: blobs, env: env, maxSize: maxSize, now: time.Now, log: log, metrics: m}
}

// WithClock replaces the time source; used by tests.
func (s *FileServiceImpl) WithClock(now func() time.Time) *FileServiceImpl {
	s.now = now
	return s
}

// Upload implements FileService. The blob is removed again if the metadata cannot be stored.
func (s *FileServiceImpl) Upload(ctx context.Context, userID int64, filename, mimeType string, body io.Reader) (*model.FileRecord, error) {
	name, err := cleanFilename(filename)
	if err != nil {
		return nil, err
	}
	if mimeType = strings.TrimSpace(mimeType); mimeType == "" {
		mimeType = defaultMimeType
	}

	dek, err := s.env.GenerateDEK()
	if err != nil {
		return nil, err
	}
	defer clear(dek)

	alg := s.env.Algorithm()
	var ct bytes.Buffer
	res, err := filecipher.New(alg, s.maxSize).EncryptStream(body, &ct, dek)
	if err != nil {
		return nil, err
	}
	wrapped, err := s.env.Wrap(dek)
	if err != nil {
		return nil, err
	}

	key, err := blob.NewKey(userID)
	if err != nil {
		return nil, err
	}
	n, err := s.blobs.Put(ctx, key, &ct)
	if err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	rec := &model.FileRecord{
		UserID:       userID,
		OriginalName: name,
		MimeType:     mimeType,
		SizeBytes:    n,
		StorageKey:   key,
		Algorithm:    string(alg),
		BodyNonce:    res.Nonce,
		BodyTag:      res.Tag,
		DEK:          wrapped,
		UploadedAt:   s.now().UTC(),
	}
	if err := s.files.Create(ctx, rec); err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			s.log.Warn("orphan blob", zap.String("key", key), zap.Error(derr))
		}
		return nil, err
	}
	s.log.Info("file stored", zap.Int64("user_id", userID), zap.Int64("file_id", rec.ID), zap.Int64("size", n))
	return rec, nil
}

// Get implements FileService.
func (s *FileServiceImpl) Get(ctx context.Context, userID, fileID int64) (*model.FileRecord, error) {
	return s.files.Get(ctx, userID, fileID)
}

// Download implements FileService.
func (s *FileServiceImpl) Download(ctx context.Context, userID, fileID int64, sink io.Writer) (*model.FileRecord, error) {
	rec, err := s.files.Get(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	alg, err := pkgcrypto.ParseAlgorithm(rec.Algorithm)
	if err != nil {
		return nil, err
	}

	dek, err := s.env.Unwrap(alg, rec.DEK)
	if err != nil {
		s.integrityFailure("dek", rec, err)
		return nil, err
	}
	defer clear(dek)

	rc, err := s.blobs.Open(ctx, rec.StorageKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	// bounded by the recorded size so lowering the upload cap keeps older files readable
	limit := max(rec.SizeBytes-pkgcrypto.NonceSize, 1)
	if _, err := filecipher.New(alg, limit).DecryptStream(rc, sink, dek, rec.BodyTag, rec.BodyNonce); err != nil {
		if errors.Is(err, errs.ErrTooLarge) {
			err = fmt.Errorf("blob longer than recorded: %w", errs.ErrAuthenticationFailed)
		}
		s.integrityFailure("body", rec, err)
		return nil, err
	}

	if err := s.files.Touch(ctx, userID, fileID, s.now().UTC()); err != nil {
		s.log.Warn("touch file", zap.Int64("file_id", fileID), zap.Error(err))
	}
	return rec, nil
}

// List implements FileService.
func (s *FileServiceImpl) List(ctx context.Context, userID int64, q model.FileQuery) (model.FilePage, error) {
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return model.FilePage{}, fmt.Errorf("date range: %w", errs.ErrInvalidArgument)
	}
	return s.files.List(ctx, userID, q.Normalize())
}

// Delete implements FileService. The blob is kept; only the metadata is hidden.
func (s *FileServiceImpl) Delete(ctx context.Context, userID, fileID int64) error {
	return s.files.SoftDelete(ctx, userID, fileID, s.now().UTC())
}

func (s *FileServiceImpl) integrityFailure(kind string, rec *model.FileRecord, err error) {
	if !errors.Is(err, errs.ErrAuthenticationFailed) {
		return
	}
	s.metrics.IntegrityFailure(kind)
	s.log.Error("integrity check failed",
		zap.String("kind", kind), zap.Int64("file_id", rec.ID), zap.Int64("user_id", rec.UserID))
}

func cleanFilename(name string) (string, error) {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("filename required: %w", errs.ErrInvalidArgument)
	}
	if len(name) > maxFilenameLen {
		return "", fmt.Errorf("filename longer than %d bytes: %w", maxFilenameLen, errs.ErrInvalidArgument)
	}
	return name, nil
}
