package model

import (
	"strconv"
	"time"
)

// Purpose tags what a one-time code authorizes.
type Purpose string

// Challenge purposes.
const (
	PurposeRegistration Purpose = "registration_verify"
	PurposeLogin        Purpose = "login_2fa"
)

// Subject identifies the owner of a challenge within a purpose.
type Subject struct {
	Purpose Purpose
	Key     string // email for registration, decimal user id for login
}

// RegistrationSubject keys a pending registration by email.
func RegistrationSubject(email string) Subject {
	return Subject{Purpose: PurposeRegistration, Key: email}
}

// LoginSubject keys a login challenge by user id.
func LoginSubject(userID int64) Subject {
	return Subject{Purpose: PurposeLogin, Key: strconv.FormatInt(userID, 10)}
}

// Challenge is a short-lived one-time code. It is either a *PendingRegistration or a *LoginChallenge.
type Challenge interface {
	Subject() Subject
	Code() string
	ExpiresAt() time.Time
	isChallenge()
}

// Expired reports whether c is no longer redeemable at now.
func Expired(c Challenge, now time.Time) bool { return now.After(c.ExpiresAt()) }

// PendingRegistration carries the candidate account until the emailed code is confirmed.
// No user row exists before that.
type PendingRegistration struct {
	ID           int64
	Email        string
	Username     string
	PasswordHash string
	OneTimeCode  string
	Expires      time.Time
}

// Subject implements Challenge.
func (p *PendingRegistration) Subject() Subject { return RegistrationSubject(p.Email) }

// Code implements Challenge.
func (p *PendingRegistration) Code() string { return p.OneTimeCode }

// ExpiresAt implements Challenge.
func (p *PendingRegistration) ExpiresAt() time.Time { return p.Expires }

func (*PendingRegistration) isChallenge() {}

// LoginChallenge is the second factor of a login that already passed the password check.
type LoginChallenge struct {
	ID          int64
	UserID      int64
	OneTimeCode string
	Expires     time.Time
}

// Subject implements Challenge.
func (l *LoginChallenge) Subject() Subject { return LoginSubject(l.UserID) }

// Code implements Challenge.
func (l *LoginChallenge) Code() string { return l.OneTimeCode }

// ExpiresAt implements Challenge.
func (l *LoginChallenge) ExpiresAt() time.Time { return l.Expires }

func (*LoginChallenge) isChallenge() {}
