package service

import (
	"context"
	"errors"

	"github.com/and161185/safe-folder/internal/errs"
	"github.com/and161185/safe-folder/internal/limiter"
	"github.com/and161185/safe-folder/internal/mail"
	"github.com/and161185/safe-folder/internal/metrics"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/and161185/safe-folder/internal/repository"
	"go.uber.org/zap"
)

// Registration is the result of a confirmed registration. BackupCodes are shown once.
type Registration struct {
	User        model.User
	BackupCodes []string
}

// AuthService defines the registration, login and session flows.
type AuthService interface {
	// InitiateRegistration stores a pending account and emails a confirmation code.
	InitiateRegistration(ctx context.Context, email, username, password string) error
	// ConfirmRegistration creates the account if the code matches.
	ConfirmRegistration(ctx context.Context, email, code, ip string) (Registration, error)
	// RequestLoginCode checks the password and emails a second-factor code. It returns the
	// address the code was sent to.
	RequestLoginCode(ctx context.Context, username, password, ip string) (string, error)
	// VerifyLoginCode completes a login with the emailed code.
	VerifyLoginCode(ctx context.Context, email, code, ip string) (model.Tokens, error)
	// VerifyBackupCode completes a login with a backup code instead of the emailed one.
	VerifyBackupCode(ctx context.Context, email, code, ip string) (model.Tokens, error)
	// Refresh rotates a refresh token.
	Refresh(ctx context.Context, refreshToken string) (model.Tokens, error)
	// Logout revokes a refresh token.
	Logout(ctx context.Context, refreshToken string) error
	// RegenerateBackupCodes replaces the user's unused backup codes.
	RegenerateBackupCodes(ctx context.Context, userID int64) ([]string, error)
	// Authenticate validates an access token.
	Authenticate(token string) (*Claims, error)
}

type AuthServiceImpl struct {
	store      repository.Store
	creds      *CredentialLedgerImpl
	challenges *ChallengeManagerImpl
	sessions   *SessionIssuerImpl
	lim        limiter.Limiter
	mailer     mail.Mailer
	log        *zap.Logger
	metrics    *metrics.Metrics
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(
	store repository.Store,
	creds *CredentialLedgerImpl,
	challenges *ChallengeManagerImpl,
	sessions *SessionIssuerImpl,
	lim limiter.Limiter,
	mailer mail.Mailer,
	log *zap.Logger,
	m *metrics.Metrics,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		store: store, creds: creds, challenges: challenges, sessions: sessions,
		lim: lim, mailer: mailer, log: log, metrics: m,
	}
}

// InitiateRegistration rejects taken usernames and emails. The code is mailed inside the
// transaction, so a delivery failure leaves no pending entry behind.
func (s *AuthServiceImpl) InitiateRegistration(ctx context.Context, email, username, password string) error {
	email = NormalizeEmail(email)
	if err := ValidateRegistration(email, username, password); err != nil {
		return err
	}
	hash, err := s.creds.HashPassword(password)
	if err != nil {
		return err
	}

	return s.store.InTx(ctx, func(r repository.Repos) error {
		taken, err := r.Users().Taken(ctx, username, email)
		if err != nil {
			return err
		}
		if taken {
			return errs.ErrAlreadyExists
		}
		p, err := s.challenges.IssueRegistration(ctx, r, email, username, hash)
		if err != nil {
			return err
		}
		return s.sendCode(ctx, email, p.OneTimeCode, model.PurposeRegistration)
	})
}

// ConfirmRegistration redeems the code, creates the user and the first backup code batch.
// A username or email taken in the meantime discards the pending entry.
func (s *AuthServiceImpl) ConfirmRegistration(ctx context.Context, email, code, ip string) (Registration, error) {
	email = NormalizeEmail(email)
	subject := model.RegistrationSubject(email)
	key, ipHash := limiter.CodeKey(email), limiter.HashIP(ip)
	if err := s.allow(ctx, key, ipHash); err != nil {
		return Registration{}, err
	}
	s.purge(ctx, model.PurposeRegistration)

	var out Registration
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		ch, err := s.challenges.Redeem(ctx, r, subject, code)
		if err != nil {
			return err
		}
		p, ok := ch.(*model.PendingRegistration)
		if !ok {
			return errs.ErrChallengeInvalid
		}
		if err := r.Challenges().Delete(ctx, subject); err != nil {
			return err
		}
		taken, err := r.Users().Taken(ctx, p.Username, p.Email)
		if err != nil {
			return err
		}
		if taken {
			return errs.ErrRegistrationConflict
		}

		u := &model.User{Username: p.Username, Email: p.Email, PasswordHash: p.PasswordHash}
		if err := r.Users().Create(ctx, u); err != nil {
			if errors.Is(err, errs.ErrAlreadyExists) {
				return errs.ErrRegistrationConflict
			}
			return err
		}
		codes, err := s.creds.GenerateBackupCodes(ctx, r, u.ID)
		if err != nil {
			return err
		}
		out = Registration{User: *u, BackupCodes: codes}
		return nil
	})

	switch {
	case err == nil:
		_ = s.lim.Success(ctx, key, ipHash)
		s.log.Info("registration confirmed", zap.Int64("user_id", out.User.ID))
		return out, nil
	case errors.Is(err, errs.ErrRegistrationConflict):
		if derr := s.store.Challenges().Delete(ctx, subject); derr != nil {
			s.log.Warn("discard pending registration", zap.Error(derr))
		}
		return Registration{}, err
	case errors.Is(err, errs.ErrChallengeInvalid):
		return Registration{}, s.failure(ctx, key, ipHash, err)
	default:
		return Registration{}, err
	}
}

// RequestLoginCode applies rate limiting by (username, ip) to the password check.
func (s *AuthServiceImpl) RequestLoginCode(ctx context.Context, username, password, ip string) (string, error) {
	key, ipHash := limiter.LoginKey(username), limiter.HashIP(ip)
	if err := s.allow(ctx, key, ipHash); err != nil {
		return "", err
	}

	u, err := s.creds.Verify(ctx, s.store, username, password)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidCredentials) {
			return "", s.failure(ctx, key, ipHash, err)
		}
		return "", err
	}
	_ = s.lim.Success(ctx, key, ipHash)

	err = s.store.InTx(ctx, func(r repository.Repos) error {
		c, err := s.challenges.IssueLogin(ctx, r, u.ID)
		if err != nil {
			return err
		}
		return s.sendCode(ctx, u.Email, c.OneTimeCode, model.PurposeLogin)
	})
	if err != nil {
		return "", err
	}
	return u.Email, nil
}

// VerifyLoginCode redeems the login challenge and issues a token pair.
func (s *AuthServiceImpl) VerifyLoginCode(ctx context.Context, email, code, ip string) (model.Tokens, error) {
	s.purge(ctx, model.PurposeLogin)
	return s.secondFactor(ctx, email, ip, func(r repository.Repos, u *model.User) error {
		subject := model.LoginSubject(u.ID)
		if _, err := s.challenges.Redeem(ctx, r, subject, code); err != nil {
			return err
		}
		return r.Challenges().Delete(ctx, subject)
	})
}

// VerifyBackupCode consumes a backup code and issues a token pair.
func (s *AuthServiceImpl) VerifyBackupCode(ctx context.Context, email, code, ip string) (model.Tokens, error) {
	return s.secondFactor(ctx, email, ip, func(r repository.Repos, u *model.User) error {
		return s.creds.ConsumeBackupCode(ctx, r, u.ID, code)
	})
}

// secondFactor runs check and the token issuance in one transaction. Unknown emails are
// reported like wrong codes.
func (s *AuthServiceImpl) secondFactor(ctx context.Context, email, ip string, check func(repository.Repos, *model.User) error) (model.Tokens, error) {
	email = NormalizeEmail(email)
	key, ipHash := limiter.CodeKey(email), limiter.HashIP(ip)
	if err := s.allow(ctx, key, ipHash); err != nil {
		return model.Tokens{}, err
	}

	var tokens model.Tokens
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		u, err := r.Users().GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return errs.ErrChallengeInvalid
			}
			return err
		}
		if err := check(r, u); err != nil {
			return err
		}
		tokens, err = s.sessions.IssuePair(ctx, r, *u)
		return err
	})
	if err != nil {
		if errors.Is(err, errs.ErrChallengeInvalid) {
			return model.Tokens{}, s.failure(ctx, key, ipHash, err)
		}
		return model.Tokens{}, err
	}
	_ = s.lim.Success(ctx, key, ipHash)
	return tokens, nil
}

// Refresh rotates the token inside one transaction so a replayed token finds no row.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (model.Tokens, error) {
	if err := s.sessions.Purge(ctx, s.store); err != nil {
		s.log.Warn("purge expired refresh tokens", zap.Error(err))
	}
	var tokens model.Tokens
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		tokens, err = s.sessions.Redeem(ctx, r, refreshToken)
		return err
	})
	if err != nil {
		if errors.Is(err, errs.ErrTokenInvalid) {
			s.metrics.Refresh("rejected")
		}
		return model.Tokens{}, err
	}
	s.metrics.Refresh("rotated")
	return tokens, nil
}

// Logout revokes the refresh token.
func (s *AuthServiceImpl) Logout(ctx context.Context, refreshToken string) error {
	return s.sessions.Revoke(ctx, s.store, refreshToken)
}

// RegenerateBackupCodes replaces the unused batch of an existing user.
func (s *AuthServiceImpl) RegenerateBackupCodes(ctx context.Context, userID int64) ([]string, error) {
	var codes []string
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		codes, err = s.creds.GenerateBackupCodes(ctx, r, userID)
		return err
	})
	return codes, err
}

// Authenticate implements AuthService.
func (s *AuthServiceImpl) Authenticate(token string) (*Claims, error) {
	return s.sessions.ParseAccessToken(token)
}

func (s *AuthServiceImpl) sendCode(ctx context.Context, to, code string, p model.Purpose) error {
	ttl := int(s.challenges.TTL(p).Minutes())
	if err := s.mailer.Send(ctx, to, mail.CodeSubject, mail.CodeBody(code, ttl)); err != nil {
		s.log.Warn("send one-time code", zap.String("purpose", string(p)), zap.Error(err))
		return err
	}
	return nil
}

// purge drops expired challenges of p in autocommit mode. Failures only cost storage.
func (s *AuthServiceImpl) purge(ctx context.Context, p model.Purpose) {
	if err := s.challenges.Purge(ctx, s.store, p); err != nil {
		s.log.Warn("purge expired challenges", zap.String("purpose", string(p)), zap.Error(err))
	}
}

func (s *AuthServiceImpl) allow(ctx context.Context, key string, ipHash []byte) error {
	allowed, _, err := s.lim.Allow(ctx, key, ipHash)
	if err != nil {
		return err
	}
	if !allowed {
		return errs.ErrRateLimited
	}
	return nil
}

// failure records a failed attempt and upgrades cause to errs.ErrRateLimited at the threshold.
func (s *AuthServiceImpl) failure(ctx context.Context, key string, ipHash []byte, cause error) error {
	blocked, _, err := s.lim.Failure(ctx, key, ipHash)
	if err != nil {
		s.log.Warn("record failed attempt", zap.Error(err))
		return cause
	}
	if blocked {
		return errs.ErrRateLimited
	}
	return cause
}
