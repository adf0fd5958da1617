package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/and161185/safe-folder/internal/repository"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestStore_InTx_Commit(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE user_id=\$1`).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(r repository.Repos) error {
		return r.RefreshTokens().DeleteByUser(context.Background(), 7)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InTx_RollbackOnError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.InTx(context.Background(), func(repository.Repos) error { return boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InTx_CommitError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)

	commitErr := errors.New("serialization failure")
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(commitErr)

	err := s.InTx(context.Background(), func(repository.Repos) error { return nil })
	require.ErrorIs(t, err, commitErr)
}

func TestStore_InTx_BeginError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)

	mock.ExpectBegin().WillReturnError(errors.New("no conn"))
	called := false
	err := s.InTx(context.Background(), func(repository.Repos) error { called = true; return nil })
	require.Error(t, err)
	require.False(t, called)
}
