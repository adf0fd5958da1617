package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/safe-folder/internal/errs"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/jackc/pgx/v5"
)

// ChallengeRepo implements ChallengeRepository using PostgreSQL.
// Both challenge kinds share one table; purpose selects which nullable columns are set.
type ChallengeRepo struct{ q Querier }

// NewChallengeRepo constructs a challenge repository.
func NewChallengeRepo(q Querier) *ChallengeRepo { return &ChallengeRepo{q: q} }

// Upsert replaces the subject's entry in a single statement.
func (r *ChallengeRepo) Upsert(ctx context.Context, c model.Challenge) error {
	const q = `
INSERT INTO challenges (purpose, subject, code, expires_at, user_id, email, username, password_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (purpose, subject) DO UPDATE
SET code=EXCLUDED.code,
    expires_at=EXCLUDED.expires_at,
    user_id=EXCLUDED.user_id,
    email=EXCLUDED.email,
    username=EXCLUDED.username,
    password_hash=EXCLUDED.password_hash,
    created_at=now()`

	var (
		userID                *int64
		email, name, passHash *string
	)
	switch v := c.(type) {
	case *model.PendingRegistration:
		email, name, passHash = &v.Email, &v.Username, &v.PasswordHash
	case *model.LoginChallenge:
		userID = &v.UserID
	default:
		return fmt.Errorf("unsupported challenge %T", c)
	}
	s := c.Subject()
	_, err := r.q.Exec(ctx, q, string(s.Purpose), s.Key, c.Code(), c.ExpiresAt(), userID, email, name, passHash)
	return err
}

// PurgeExpired deletes expired entries of one purpose.
func (r *ChallengeRepo) PurgeExpired(ctx context.Context, purpose model.Purpose, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM challenges WHERE purpose=$1 AND expires_at < $2`, string(purpose), now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Lock selects the subject's entry FOR UPDATE and maps it to its concrete kind.
func (r *ChallengeRepo) Lock(ctx context.Context, s model.Subject) (model.Challenge, error) {
	const q = `
SELECT id, code, expires_at, user_id, email, username, password_hash
FROM challenges
WHERE purpose=$1 AND subject=$2
FOR UPDATE`
	var (
		id                    int64
		code                  string
		expires               time.Time
		userID                *int64
		email, name, passHash *string
	)
	err := r.q.QueryRow(ctx, q, string(s.Purpose), s.Key).Scan(&id, &code, &expires, &userID, &email, &name, &passHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	switch s.Purpose {
	case model.PurposeRegistration:
		if email == nil || name == nil || passHash == nil {
			return nil, fmt.Errorf("challenge %d: registration columns missing", id)
		}
		return &model.PendingRegistration{
			ID: id, Email: *email, Username: *name, PasswordHash: *passHash,
			OneTimeCode: code, Expires: expires,
		}, nil
	case model.PurposeLogin:
		if userID == nil {
			return nil, fmt.Errorf("challenge %d: user_id missing", id)
		}
		return &model.LoginChallenge{ID: id, UserID: *userID, OneTimeCode: code, Expires: expires}, nil
	}
	return nil, fmt.Errorf("challenge %d: unknown purpose %q", id, s.Purpose)
}

// Delete removes the subject's entry.
func (r *ChallengeRepo) Delete(ctx context.Context, s model.Subject) error {
	_, err := r.q.Exec(ctx, `DELETE FROM challenges WHERE purpose=$1 AND subject=$2`, string(s.Purpose), s.Key)
	return err
}
