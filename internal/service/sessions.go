package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	pkgcrypto "github.com/and161185/safe-folder/internal/crypto"
	"github.com/and161185/safe-folder/internal/errs"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/and161185/safe-folder/internal/repository"
	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeBearer is reported with every issued pair.
const TokenTypeBearer = "bearer"

const accessLeeway = 30 * time.Second

// Claims is the access token payload: sub is the username.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// SessionIssuer mints access tokens and rotates refresh tokens.
type SessionIssuer interface {
	// IssueAccessToken signs a short-lived HS256 JWT for u.
	IssueAccessToken(u model.User) (string, time.Time, error)
	// ParseAccessToken validates signature, algorithm and expiry.
	ParseAccessToken(token string) (*Claims, error)
	// IssueRefreshToken revokes every token of the user and stores a new one.
	IssueRefreshToken(ctx context.Context, r repository.Repos, userID int64) (string, error)
	// IssuePair mints an access token and a refresh token.
	IssuePair(ctx context.Context, r repository.Repos, u model.User) (model.Tokens, error)
	// Redeem consumes a refresh token and mints a new pair. r must be bound to a transaction.
	Redeem(ctx context.Context, r repository.Repos, token string) (model.Tokens, error)
	// Revoke deletes a refresh token. Unknown tokens are ignored.
	Revoke(ctx context.Context, r repository.Repos, token string) error
	// Purge drops expired refresh tokens. It runs outside the redeeming transaction.
	Purge(ctx context.Context, r repository.Repos) error
}

type SessionIssuerImpl struct {
	signKey    []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewSessionIssuer constructs an issuer. signKey should be derived from the application secret.
func NewSessionIssuer(signKey []byte, accessTTL, refreshTTL time.Duration) *SessionIssuerImpl {
	return &SessionIssuerImpl{signKey: signKey, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (s *SessionIssuerImpl) WithClock(now func() time.Time) *SessionIssuerImpl {
	s.now = now
	return s
}

// IssueAccessToken implements SessionIssuer.
func (s *SessionIssuerImpl) IssueAccessToken(u model.User) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := Claims{
		UserID: u.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

// ParseAccessToken implements SessionIssuer. Every failure is errs.ErrTokenInvalid.
func (s *SessionIssuerImpl) ParseAccessToken(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return s.signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(accessLeeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTokenInvalid, err)
	}
	if claims.UserID <= 0 || claims.Subject == "" {
		return nil, errs.ErrTokenInvalid
	}
	return &claims, nil
}

// IssueRefreshToken implements SessionIssuer. The user row is locked first so concurrent
// issuers for one user queue up and at most one token stays live.
func (s *SessionIssuerImpl) IssueRefreshToken(ctx context.Context, r repository.Repos, userID int64) (string, error) {
	plain, err := pkgcrypto.RefreshToken()
	if err != nil {
		return "", err
	}
	if _, err := r.Users().LockByID(ctx, userID); err != nil {
		return "", err
	}
	if err := r.RefreshTokens().DeleteByUser(ctx, userID); err != nil {
		return "", err
	}
	now := s.now()
	t := &model.RefreshToken{UserID: userID, TokenHash: tokenDigest(plain), ExpiresAt: now.Add(s.refreshTTL), CreatedAt: now}
	if err := r.RefreshTokens().Insert(ctx, t); err != nil {
		return "", err
	}
	return plain, nil
}

// IssuePair implements SessionIssuer.
func (s *SessionIssuerImpl) IssuePair(ctx context.Context, r repository.Repos, u model.User) (model.Tokens, error) {
	access, exp, err := s.IssueAccessToken(u)
	if err != nil {
		return model.Tokens{}, err
	}
	refresh, err := s.IssueRefreshToken(ctx, r, u.ID)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: access, RefreshToken: refresh, TokenType: TokenTypeBearer, ExpiresAt: exp}, nil
}

// Redeem implements SessionIssuer. Expired, unknown and already rotated tokens all yield
// errs.ErrTokenInvalid.
func (s *SessionIssuerImpl) Redeem(ctx context.Context, r repository.Repos, token string) (model.Tokens, error) {
	if token == "" {
		return model.Tokens{}, errs.ErrTokenInvalid
	}
	digest := tokenDigest(token)
	row, err := r.RefreshTokens().LockByHash(ctx, digest)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Tokens{}, errs.ErrTokenInvalid
		}
		return model.Tokens{}, err
	}
	if row.ExpiresAt.Before(s.now()) {
		return model.Tokens{}, errs.ErrTokenInvalid
	}
	if _, err := r.RefreshTokens().DeleteByHash(ctx, digest); err != nil {
		return model.Tokens{}, err
	}
	u, err := r.Users().GetByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Tokens{}, errs.ErrTokenInvalid
		}
		return model.Tokens{}, err
	}
	return s.IssuePair(ctx, r, *u)
}

// Purge implements SessionIssuer.
func (s *SessionIssuerImpl) Purge(ctx context.Context, r repository.Repos) error {
	_, err := r.RefreshTokens().PurgeExpired(ctx, s.now())
	return err
}

// Revoke implements SessionIssuer.
func (s *SessionIssuerImpl) Revoke(ctx context.Context, r repository.Repos, token string) error {
	if token == "" {
		return nil
	}
	_, err := r.RefreshTokens().DeleteByHash(ctx, tokenDigest(token))
	return err
}

func tokenDigest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}
