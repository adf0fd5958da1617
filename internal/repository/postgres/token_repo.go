package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/safe-folder/internal/errs"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/jackc/pgx/v5"
)

// RefreshTokenRepo implements RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepo struct{ q Querier }

// NewRefreshTokenRepo constructs a refresh token repository.
func NewRefreshTokenRepo(q Querier) *RefreshTokenRepo { return &RefreshTokenRepo{q: q} }

// DeleteByUser revokes every token of the user.
func (r *RefreshTokenRepo) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id=$1`, userID)
	return err
}

// Insert stores a token digest.
func (r *RefreshTokenRepo) Insert(ctx context.Context, t *model.RefreshToken) error {
	const q = `
INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id`
	err := r.q.QueryRow(ctx, q, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt).Scan(&t.ID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// PurgeExpired deletes tokens past their expiry.
func (r *RefreshTokenRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LockByHash selects a token FOR UPDATE.
func (r *RefreshTokenRepo) LockByHash(ctx context.Context, hash []byte) (*model.RefreshToken, error) {
	const q = `
SELECT id, user_id, token_hash, expires_at, created_at
FROM refresh_tokens
WHERE token_hash=$1
FOR UPDATE`
	var t model.RefreshToken
	if err := r.q.QueryRow(ctx, q, hash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// DeleteByHash removes one token.
func (r *RefreshTokenRepo) DeleteByHash(ctx context.Context, hash []byte) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash=$1`, hash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
