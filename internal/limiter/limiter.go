// Package limiter defines interfaces and implementations for authentication rate limiting.
//
// Keys are scoped strings such as "login:alice" or "code:a@x.com", so one limiter guards
// password checks and one-time code checks independently.
package limiter

import (
	"context"
	"time"
)

// Limiter controls authentication attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and optional retry-after.
	Allow(ctx context.Context, key string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful attempt.
	Success(ctx context.Context, key string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, key string, ipHash []byte) (bool, time.Duration, error)
}

// LoginKey scopes password attempts for a username.
func LoginKey(username string) string { return "login:" + username }

// CodeKey scopes one-time and backup code attempts for a subject.
func CodeKey(subject string) string { return "code:" + subject }
