package postgres

import (
	"context"

	"github.com/and161185/safe-folder/internal/repository"
	"github.com/jackc/pgx/v5"
)

// Store implements repository.Store on a pgx pool.
type Store struct {
	db *DB
	repos
}

var _ repository.Store = (*Store)(nil)

// NewStore returns a store whose plain repositories run in autocommit mode.
func NewStore(db *DB) *Store { return &Store{db: db, repos: repos{q: db.Pool}} }

// InTx runs fn with repositories bound to a single read-committed transaction.
func (s *Store) InTx(ctx context.Context, fn func(repository.Repos) error) (err error) {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	return fn(repos{q: tx})
}

// repos binds every repository to one Querier.
type repos struct{ q Querier }

func (r repos) Users() repository.UserRepository             { return &UserRepo{q: r.q} }
func (r repos) BackupCodes() repository.BackupCodeRepository { return &BackupCodeRepo{q: r.q} }
func (r repos) Challenges() repository.ChallengeRepository   { return &ChallengeRepo{q: r.q} }
func (r repos) RefreshTokens() repository.RefreshTokenRepository {
	return &RefreshTokenRepo{q: r.q}
}
func (r repos) Files() repository.FileRepository { return &FileRepo{q: r.q} }
