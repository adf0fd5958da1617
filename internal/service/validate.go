package service

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/and161185/safe-folder/internal/errs"
)

var usernameRE = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)

// ValidateRegistration checks the account fields of a new registration.
func ValidateRegistration(email, username, password string) error {
	if !usernameRE.MatchString(username) {
		return fmt.Errorf("username must be 3-50 letters, digits or underscores: %w", errs.ErrInvalidArgument)
	}
	if err := validateEmail(email); err != nil {
		return err
	}
	return validatePassword(password)
}

// NormalizeEmail trims and lower-cases an address. Accounts, pending registrations and
// limiter keys are all keyed by the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return fmt.Errorf("malformed email: %w", errs.ErrInvalidArgument)
	}
	return nil
}

func validatePassword(p string) error {
	if len(p) < 8 || len(p) > 100 {
		return fmt.Errorf("password must be 8-100 characters: %w", errs.ErrInvalidArgument)
	}
	var upper, lower, digit bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return fmt.Errorf("password needs an uppercase letter, a lowercase letter and a digit: %w", errs.ErrInvalidArgument)
	}
	return nil
}
