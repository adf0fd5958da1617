package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/safe-folder/internal/errs"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ q Querier }

// NewUserRepo constructs a user repository.
func NewUserRepo(q Querier) *UserRepo { return &UserRepo{q: q} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (username, email, password_hash)
VALUES ($1, $2, $3)
RETURNING id, created_at, updated_at`
	err := r.q.QueryRow(ctx, q, u.Username, u.Email, u.PasswordHash).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

const userCols = `id, username, email, password_hash, created_at, updated_at`

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id)
}

// LockByID selects a user by ID FOR UPDATE. Writers of per-user singletons take it first.
func (r *UserRepo) LockByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userCols+` FROM users WHERE id=$1 FOR UPDATE`, id)
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userCols+` FROM users WHERE username=$1`, username)
}

// GetByEmail selects a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userCols+` FROM users WHERE email=$1`, email)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*model.User, error) {
	var u model.User
	err := r.q.QueryRow(ctx, q, arg).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Taken reports whether username or email already belongs to a user.
func (r *UserRepo) Taken(ctx context.Context, username, email string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE username=$1 OR email=$2)`
	var taken bool
	if err := r.q.QueryRow(ctx, q, username, email).Scan(&taken); err != nil {
		return false, err
	}
	return taken, nil
}

// BackupCodeRepo implements BackupCodeRepository using PostgreSQL.
type BackupCodeRepo struct{ q Querier }

// NewBackupCodeRepo constructs a backup code repository.
func NewBackupCodeRepo(q Querier) *BackupCodeRepo { return &BackupCodeRepo{q: q} }

// DeleteUnused drops the user's unused batch.
func (r *BackupCodeRepo) DeleteUnused(ctx context.Context, userID int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM backup_codes WHERE user_id=$1 AND NOT used`, userID)
	return err
}

// InsertBatch stores hashes in one statement.
func (r *BackupCodeRepo) InsertBatch(ctx context.Context, userID int64, hashes []string, at time.Time) error {
	const q = `
INSERT INTO backup_codes (user_id, code_hash, created_at)
SELECT $1, h, $3 FROM unnest($2::text[]) AS h`
	_, err := r.q.Exec(ctx, q, userID, hashes, at)
	return err
}

// LockUnused selects the unused codes FOR UPDATE.
func (r *BackupCodeRepo) LockUnused(ctx context.Context, userID int64) ([]model.BackupCode, error) {
	const q = `
SELECT id, user_id, code_hash, created_at
FROM backup_codes
WHERE user_id=$1 AND NOT used
ORDER BY id
FOR UPDATE`
	rows, err := r.q.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BackupCode
	for rows.Next() {
		var c model.BackupCode
		if err = rows.Scan(&c.ID, &c.UserID, &c.CodeHash, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkUsed consumes one code. A code that is already used yields errs.ErrNotFound.
func (r *BackupCodeRepo) MarkUsed(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE backup_codes SET used=true, used_at=$2 WHERE id=$1 AND NOT used`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
