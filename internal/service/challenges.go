package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	pkgcrypto "github.com/and161185/safe-folder/internal/crypto"
	"github.com/and161185/safe-folder/internal/errs"
	"github.com/and161185/safe-folder/internal/metrics"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/and161185/safe-folder/internal/repository"
)

// OneTimeCodeLength is the number of digits in emailed codes.
const OneTimeCodeLength = 6

// ChallengeManager issues and redeems short-lived one-time codes.
type ChallengeManager interface {
	// IssueRegistration stores a pending registration, replacing any earlier one for the email.
	IssueRegistration(ctx context.Context, r repository.Repos, email, username, passwordHash string) (*model.PendingRegistration, error)
	// IssueLogin stores a login challenge, replacing any earlier one for the user.
	IssueLogin(ctx context.Context, r repository.Repos, userID int64) (*model.LoginChallenge, error)
	// Redeem returns the subject's live challenge if candidate matches. The caller deletes it
	// in the same transaction. Absent, expired and mismatched codes all yield errs.ErrChallengeInvalid.
	Redeem(ctx context.Context, r repository.Repos, s model.Subject, candidate string) (model.Challenge, error)
	// Purge drops expired entries of purpose. Run it outside the redeeming transaction so a
	// failed redeem does not roll the cleanup back.
	Purge(ctx context.Context, r repository.Repos, purpose model.Purpose) error
}

type ChallengeManagerImpl struct {
	registrationTTL time.Duration
	loginTTL        time.Duration
	now             func() time.Time
	metrics         *metrics.Metrics
}

// NewChallengeManager constructs a manager with per-purpose TTLs.
func NewChallengeManager(registrationTTL, loginTTL time.Duration, m *metrics.Metrics) *ChallengeManagerImpl {
	return &ChallengeManagerImpl{registrationTTL: registrationTTL, loginTTL: loginTTL, now: time.Now, metrics: m}
}

// WithClock replaces the time source; used by tests.
func (m *ChallengeManagerImpl) WithClock(now func() time.Time) *ChallengeManagerImpl {
	m.now = now
	return m
}

// TTL returns the lifetime of codes of the given purpose.
func (m *ChallengeManagerImpl) TTL(p model.Purpose) time.Duration {
	if p == model.PurposeRegistration {
		return m.registrationTTL
	}
	return m.loginTTL
}

// IssueRegistration implements ChallengeManager.
func (m *ChallengeManagerImpl) IssueRegistration(ctx context.Context, r repository.Repos, email, username, passwordHash string) (*model.PendingRegistration, error) {
	code, err := pkgcrypto.NumericCode(OneTimeCodeLength)
	if err != nil {
		return nil, err
	}
	p := &model.PendingRegistration{
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		OneTimeCode:  code,
		Expires:      m.now().Add(m.registrationTTL),
	}
	if err := r.Challenges().Upsert(ctx, p); err != nil {
		return nil, err
	}
	m.metrics.Challenge(string(model.PurposeRegistration), "issued")
	return p, nil
}

// IssueLogin implements ChallengeManager.
func (m *ChallengeManagerImpl) IssueLogin(ctx context.Context, r repository.Repos, userID int64) (*model.LoginChallenge, error) {
	code, err := pkgcrypto.NumericCode(OneTimeCodeLength)
	if err != nil {
		return nil, err
	}
	c := &model.LoginChallenge{UserID: userID, OneTimeCode: code, Expires: m.now().Add(m.loginTTL)}
	if err := r.Challenges().Upsert(ctx, c); err != nil {
		return nil, err
	}
	m.metrics.Challenge(string(model.PurposeLogin), "issued")
	return c, nil
}

// Purge implements ChallengeManager.
func (m *ChallengeManagerImpl) Purge(ctx context.Context, r repository.Repos, purpose model.Purpose) error {
	_, err := r.Challenges().PurgeExpired(ctx, purpose, m.now())
	return err
}

// Redeem implements ChallengeManager.
func (m *ChallengeManagerImpl) Redeem(ctx context.Context, r repository.Repos, s model.Subject, candidate string) (model.Challenge, error) {
	now := m.now()
	c, err := r.Challenges().Lock(ctx, s)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			m.metrics.Challenge(string(s.Purpose), "rejected")
			return nil, errs.ErrChallengeInvalid
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(c.Code()), []byte(candidate)) != 1 || model.Expired(c, now) {
		m.metrics.Challenge(string(s.Purpose), "rejected")
		return nil, errs.ErrChallengeInvalid
	}
	m.metrics.Challenge(string(s.Purpose), "redeemed")
	return c, nil
}
