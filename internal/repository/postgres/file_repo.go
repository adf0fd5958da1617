package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/safe-folder/internal/errs"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/jackc/pgx/v5"
)

// FileRepo implements FileRepository using PostgreSQL.
type FileRepo struct{ q Querier }

// NewFileRepo constructs a file repository.
func NewFileRepo(q Querier) *FileRepo { return &FileRepo{q: q} }

const fileCols = `id, user_id, original_filename, mime_type, size_bytes, storage_key, algorithm,
body_nonce, body_tag, wrapped_dek, dek_nonce, dek_tag, uploaded_at, accessed_at, deleted_at`

// Create inserts file metadata.
func (r *FileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	const q = `
INSERT INTO files (user_id, original_filename, mime_type, size_bytes, storage_key, algorithm,
                   body_nonce, body_tag, wrapped_dek, dek_nonce, dek_tag, uploaded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`
	err := r.q.QueryRow(ctx, q,
		f.UserID, f.OriginalName, f.MimeType, f.SizeBytes, f.StorageKey, f.Algorithm,
		f.BodyNonce, f.BodyTag, f.DEK.Ciphertext, f.DEK.Nonce, f.DEK.Tag, f.UploadedAt,
	).Scan(&f.ID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get returns a live file of the user.
func (r *FileRepo) Get(ctx context.Context, userID, id int64) (*model.FileRecord, error) {
	q := `SELECT ` + fileCols + ` FROM files WHERE user_id=$1 AND id=$2 AND deleted_at IS NULL`
	f, err := scanFile(r.q.QueryRow(ctx, q, userID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// List pages through the user's live files.
func (r *FileRepo) List(ctx context.Context, userID int64, fq model.FileQuery) (model.FilePage, error) {
	fq = fq.Normalize()
	where, args := fileFilter(userID, fq)

	var page model.FilePage
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM files WHERE `+where, args...).Scan(&page.Total); err != nil {
		return model.FilePage{}, err
	}

	dir := "DESC"
	if fq.Asc {
		dir = "ASC"
	}
	q := fmt.Sprintf(`SELECT %s FROM files WHERE %s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d`,
		fileCols, where, sortColumn(fq.SortBy), dir, dir, len(args)+1, len(args)+2)
	rows, err := r.q.Query(ctx, q, append(args, fq.Limit, fq.Offset)...)
	if err != nil {
		return model.FilePage{}, err
	}
	defer rows.Close()

	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return model.FilePage{}, err
		}
		page.Files = append(page.Files, *f)
	}
	return page, rows.Err()
}

// Touch sets accessed_at.
func (r *FileRepo) Touch(ctx context.Context, userID, id int64, at time.Time) error {
	_, err := r.q.Exec(ctx, `UPDATE files SET accessed_at=$3 WHERE user_id=$1 AND id=$2`, userID, id, at)
	return err
}

// SoftDelete sets deleted_at on a live file.
func (r *FileRepo) SoftDelete(ctx context.Context, userID, id int64, at time.Time) error {
	const q = `UPDATE files SET deleted_at=$3 WHERE user_id=$1 AND id=$2 AND deleted_at IS NULL`
	tag, err := r.q.Exec(ctx, q, userID, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// fileFilter renders the WHERE clause for a listing; placeholders start at $1.
func fileFilter(userID int64, fq model.FileQuery) (string, []any) {
	conds := []string{"user_id=$1", "deleted_at IS NULL"}
	args := []any{userID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if fq.Search != "" {
		add("(original_filename ILIKE ? OR mime_type ILIKE ?)", likePattern(fq.Search))
	}
	if fq.MimeType != "" {
		add("mime_type ILIKE ?", likePattern(fq.MimeType))
	}
	if fq.From != nil {
		add("uploaded_at >= ?", *fq.From)
	}
	if fq.To != nil {
		add("uploaded_at <= ?", *fq.To)
	}
	return strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string { return "%" + likeEscaper.Replace(s) + "%" }

// sortColumn maps the enumerated sort field to a column; the value is never taken from input verbatim.
func sortColumn(f model.SortField) string {
	switch f {
	case model.SortByName:
		return "original_filename"
	case model.SortByMimeType:
		return "mime_type"
	case model.SortBySize:
		return "size_bytes"
	default:
		return "uploaded_at"
	}
}

func scanFile(row pgx.Row) (*model.FileRecord, error) {
	var f model.FileRecord
	err := row.Scan(
		&f.ID, &f.UserID, &f.OriginalName, &f.MimeType, &f.SizeBytes, &f.StorageKey, &f.Algorithm,
		&f.BodyNonce, &f.BodyTag, &f.DEK.Ciphertext, &f.DEK.Nonce, &f.DEK.Tag,
		&f.UploadedAt, &f.AccessedAt, &f.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
