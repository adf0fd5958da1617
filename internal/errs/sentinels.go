// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates a missing or invalid access token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidArgument indicates malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTooLarge indicates a file body above the configured limit.
	ErrTooLarge = errors.New("file too large")
)

// Authentication flow outcomes. Callers recover by retrying with correct input or restarting the flow.
var (
	// ErrInvalidCredentials indicates a wrong username or password. It never says which.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrChallengeInvalid indicates a one-time or backup code that is absent, wrong, used or expired.
	ErrChallengeInvalid = errors.New("invalid or expired code")

	// ErrTokenInvalid indicates a refresh token that is unknown or expired.
	ErrTokenInvalid = errors.New("invalid or expired token")

	// ErrRegistrationConflict indicates the email or username was claimed between code issuance and confirmation.
	ErrRegistrationConflict = errors.New("registration conflict")

	// ErrEmailUnavailable indicates outbound email is not configured or failed.
	ErrEmailUnavailable = errors.New("email delivery unavailable")
)

// ErrAuthenticationFailed is cryptographic: an AEAD tag did not verify. It is evidence of
// tampering or a wrong key and must never be retried or masked.
var ErrAuthenticationFailed = errors.New("message authentication failed")
