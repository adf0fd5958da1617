// Package memory implements repository.Store in process memory.
//
// Transactions are serialized: InTx holds the store lock, runs against a copy of the state and
// swaps it in on success. This gives the same isolation the Postgres store gets from row locks.
package memory

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/and161185/safe-folder/internal/errs"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/and161185/safe-folder/internal/repository"
)

type state struct {
	nextID     int64
	users      map[int64]model.User
	codes      map[int64]model.BackupCode
	challenges map[model.Subject]model.Challenge
	tokens     map[int64]model.RefreshToken
	files      map[int64]model.FileRecord
}

func newState() *state {
	return &state{
		users:      map[int64]model.User{},
		codes:      map[int64]model.BackupCode{},
		challenges: map[model.Subject]model.Challenge{},
		tokens:     map[int64]model.RefreshToken{},
		files:      map[int64]model.FileRecord{},
	}
}

// clone copies the maps. Values are treated as immutable once stored.
func (s *state) clone() *state {
	c := &state{
		nextID:     s.nextID,
		users:      make(map[int64]model.User, len(s.users)),
		codes:      make(map[int64]model.BackupCode, len(s.codes)),
		challenges: make(map[model.Subject]model.Challenge, len(s.challenges)),
		tokens:     make(map[int64]model.RefreshToken, len(s.tokens)),
		files:      make(map[int64]model.FileRecord, len(s.files)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.codes {
		c.codes[k] = v
	}
	for k, v := range s.challenges {
		c.challenges[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.files {
		c.files[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store is an in-memory repository.Store.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store { return &Store{st: newState()} }

// InTx runs fn against a snapshot and commits it only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(repository.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snap := s.st.clone()
	if err := fn(repos{run: func(f func(*state) error) error { return f(snap) }}); err != nil {
		return err
	}
	s.st = snap
	return nil
}

// autocommit runs a single operation under the store lock.
func (s *Store) autocommit(f func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f(s.st)
}

func (s *Store) repos() repos { return repos{run: s.autocommit} }

// Users implements repository.Repos.
func (s *Store) Users() repository.UserRepository { return s.repos().Users() }

// BackupCodes implements repository.Repos.
func (s *Store) BackupCodes() repository.BackupCodeRepository { return s.repos().BackupCodes() }

// Challenges implements repository.Repos.
func (s *Store) Challenges() repository.ChallengeRepository { return s.repos().Challenges() }

// RefreshTokens implements repository.Repos.
func (s *Store) RefreshTokens() repository.RefreshTokenRepository { return s.repos().RefreshTokens() }

// Files implements repository.Repos.
func (s *Store) Files() repository.FileRepository { return s.repos().Files() }

type repos struct {
	run func(func(*state) error) error
}

func (r repos) Users() repository.UserRepository                 { return users(r) }
func (r repos) BackupCodes() repository.BackupCodeRepository     { return backupCodes(r) }
func (r repos) Challenges() repository.ChallengeRepository       { return challenges(r) }
func (r repos) RefreshTokens() repository.RefreshTokenRepository { return tokens(r) }
func (r repos) Files() repository.FileRepository                 { return files(r) }

/************ users ************/

type users repos

func (r users) Create(_ context.Context, u *model.User) error {
	return r.run(func(st *state) error {
		for _, v := range st.users {
			if v.Username == u.Username || v.Email == u.Email {
				return errs.ErrAlreadyExists
			}
		}
		u.ID = st.id()
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now()
		}
		u.UpdatedAt = u.CreatedAt
		st.users[u.ID] = *u
		return nil
	})
}

func (r users) find(match func(model.User) bool) (*model.User, error) {
	var out *model.User
	err := r.run(func(st *state) error {
		for _, v := range st.users {
			if match(v) {
				u := v
				out = &u
				return nil
			}
		}
		return errs.ErrNotFound
	})
	return out, err
}

func (r users) GetByID(_ context.Context, id int64) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.ID == id })
}

// LockByID is GetByID: transactions are already serialized.
func (r users) LockByID(ctx context.Context, id int64) (*model.User, error) {
	return r.GetByID(ctx, id)
}

func (r users) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.Username == username })
}

func (r users) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u model.User) bool { return u.Email == email })
}

func (r users) Taken(_ context.Context, username, email string) (bool, error) {
	_, err := r.find(func(u model.User) bool { return u.Username == username || u.Email == email })
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

/************ backup codes ************/

type backupCodes repos

func (r backupCodes) DeleteUnused(_ context.Context, userID int64) error {
	return r.run(func(st *state) error {
		for id, c := range st.codes {
			if c.UserID == userID && !c.Used {
				delete(st.codes, id)
			}
		}
		return nil
	})
}

func (r backupCodes) InsertBatch(_ context.Context, userID int64, hashes []string, at time.Time) error {
	return r.run(func(st *state) error {
		for _, h := range hashes {
			id := st.id()
			st.codes[id] = model.BackupCode{ID: id, UserID: userID, CodeHash: h, CreatedAt: at}
		}
		return nil
	})
}

func (r backupCodes) LockUnused(_ context.Context, userID int64) ([]model.BackupCode, error) {
	var out []model.BackupCode
	err := r.run(func(st *state) error {
		for _, c := range st.codes {
			if c.UserID == userID && !c.Used {
				out = append(out, c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r backupCodes) MarkUsed(_ context.Context, id int64, at time.Time) error {
	return r.run(func(st *state) error {
		c, ok := st.codes[id]
		if !ok || c.Used {
			return errs.ErrNotFound
		}
		c.Used = true
		c.UsedAt = &at
		st.codes[id] = c
		return nil
	})
}

/************ challenges ************/

type challenges repos

func (r challenges) Upsert(_ context.Context, c model.Challenge) error {
	return r.run(func(st *state) error {
		var stored model.Challenge
		switch v := c.(type) {
		case *model.PendingRegistration:
			cp := *v
			cp.ID = st.id()
			stored = &cp
		case *model.LoginChallenge:
			cp := *v
			cp.ID = st.id()
			stored = &cp
		default:
			return errs.ErrInvalidArgument
		}
		st.challenges[c.Subject()] = stored
		return nil
	})
}

func (r challenges) PurgeExpired(_ context.Context, purpose model.Purpose, now time.Time) (int64, error) {
	var n int64
	err := r.run(func(st *state) error {
		for s, c := range st.challenges {
			if s.Purpose == purpose && c.ExpiresAt().Before(now) {
				delete(st.challenges, s)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r challenges) Lock(_ context.Context, s model.Subject) (model.Challenge, error) {
	var out model.Challenge
	err := r.run(func(st *state) error {
		c, ok := st.challenges[s]
		if !ok {
			return errs.ErrNotFound
		}
		switch v := c.(type) {
		case *model.PendingRegistration:
			cp := *v
			out = &cp
		case *model.LoginChallenge:
			cp := *v
			out = &cp
		}
		return nil
	})
	return out, err
}

func (r challenges) Delete(_ context.Context, s model.Subject) error {
	return r.run(func(st *state) error {
		delete(st.challenges, s)
		return nil
	})
}

/************ refresh tokens ************/

type tokens repos

func (r tokens) DeleteByUser(_ context.Context, userID int64) error {
	return r.run(func(st *state) error {
		for id, t := range st.tokens {
			if t.UserID == userID {
				delete(st.tokens, id)
			}
		}
		return nil
	})
}

func (r tokens) Insert(_ context.Context, t *model.RefreshToken) error {
	return r.run(func(st *state) error {
		for _, v := range st.tokens {
			if bytes.Equal(v.TokenHash, t.TokenHash) {
				return errs.ErrAlreadyExists
			}
		}
		t.ID = st.id()
		cp := *t
		cp.TokenHash = bytes.Clone(t.TokenHash)
		st.tokens[t.ID] = cp
		return nil
	})
}

func (r tokens) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.run(func(st *state) error {
		for id, t := range st.tokens {
			if t.ExpiresAt.Before(now) {
				delete(st.tokens, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r tokens) LockByHash(_ context.Context, hash []byte) (*model.RefreshToken, error) {
	var out *model.RefreshToken
	err := r.run(func(st *state) error {
		for _, t := range st.tokens {
			if bytes.Equal(t.TokenHash, hash) {
				cp := t
				out = &cp
				return nil
			}
		}
		return errs.ErrNotFound
	})
	return out, err
}

func (r tokens) DeleteByHash(_ context.Context, hash []byte) (bool, error) {
	var found bool
	err := r.run(func(st *state) error {
		for id, t := range st.tokens {
			if bytes.Equal(t.TokenHash, hash) {
				delete(st.tokens, id)
				found = true
			}
		}
		return nil
	})
	return found, err
}

/************ files ************/

type files repos

func (r files) Create(_ context.Context, f *model.FileRecord) error {
	return r.run(func(st *state) error {
		for _, v := range st.files {
			if v.StorageKey == f.StorageKey {
				return errs.ErrAlreadyExists
			}
		}
		f.ID = st.id()
		st.files[f.ID] = *f
		return nil
	})
}

func (r files) Get(_ context.Context, userID, id int64) (*model.FileRecord, error) {
	var out *model.FileRecord
	err := r.run(func(st *state) error {
		f, ok := st.files[id]
		if !ok || f.UserID != userID || f.DeletedAt != nil {
			return errs.ErrNotFound
		}
		out = &f
		return nil
	})
	return out, err
}

func (r files) List(_ context.Context, userID int64, q model.FileQuery) (model.FilePage, error) {
	q = q.Normalize()
	var matched []model.FileRecord
	err := r.run(func(st *state) error {
		for _, f := range st.files {
			if f.UserID == userID && f.DeletedAt == nil && matches(f, q) {
				matched = append(matched, f)
			}
		}
		return nil
	})
	if err != nil {
		return model.FilePage{}, err
	}

	sort.Slice(matched, func(i, j int) bool {
		c := compareFiles(matched[i], matched[j], q.SortBy)
		if c == 0 {
			c = cmpInt64(matched[i].ID, matched[j].ID)
		}
		if q.Asc {
			return c < 0
		}
		return c > 0
	})

	page := model.FilePage{Total: len(matched)}
	if q.Offset < len(matched) {
		end := min(q.Offset+q.Limit, len(matched))
		page.Files = matched[q.Offset:end]
	}
	return page, nil
}

func matches(f model.FileRecord, q model.FileQuery) bool {
	if s := strings.ToLower(q.Search); s != "" &&
		!strings.Contains(strings.ToLower(f.OriginalName), s) && !strings.Contains(strings.ToLower(f.MimeType), s) {
		return false
	}
	if m := strings.ToLower(q.MimeType); m != "" && !strings.Contains(strings.ToLower(f.MimeType), m) {
		return false
	}
	if q.From != nil && f.UploadedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && f.UploadedAt.After(*q.To) {
		return false
	}
	return true
}

func compareFiles(a, b model.FileRecord, by model.SortField) int {
	switch by {
	case model.SortByName:
		return strings.Compare(a.OriginalName, b.OriginalName)
	case model.SortByMimeType:
		return strings.Compare(a.MimeType, b.MimeType)
	case model.SortBySize:
		return cmpInt64(a.SizeBytes, b.SizeBytes)
	default:
		return a.UploadedAt.Compare(b.UploadedAt)
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (r files) Touch(_ context.Context, userID, id int64, at time.Time) error {
	return r.run(func(st *state) error {
		f, ok := st.files[id]
		if !ok || f.UserID != userID {
			return nil
		}
		f.AccessedAt = &at
		st.files[id] = f
		return nil
	})
}

func (r files) SoftDelete(_ context.Context, userID, id int64, at time.Time) error {
	return r.run(func(st *state) error {
		f, ok := st.files[id]
		if !ok || f.UserID != userID || f.DeletedAt != nil {
			return errs.ErrNotFound
		}
		f.DeletedAt = &at
		st.files[id] = f
		return nil
	})
}
