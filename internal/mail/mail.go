// Package mail delivers one-time codes to users.
package mail

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/and161185/safe-folder/internal/errs"
	"go.uber.org/zap"
)

// Mailer sends a plain-text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string // also used as the From address
	Password string
}

// SMTP sends mail through an authenticated relay. STARTTLS is used when the server offers it.
type SMTP struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP constructs an SMTP mailer.
func NewSMTP(cfg SMTPConfig) *SMTP { return &SMTP{cfg: cfg, send: smtp.SendMail} }

// Configured reports whether credentials are present.
func (m *SMTP) Configured() bool { return m.cfg.User != "" && m.cfg.Password != "" && m.cfg.Host != "" }

// Send delivers one message. Missing credentials and relay failures yield errs.ErrEmailUnavailable.
func (m *SMTP) Send(ctx context.Context, to, subject, body string) error {
	if !m.Configured() {
		return fmt.Errorf("smtp credentials not configured: %w", errs.ErrEmailUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("header injection: %w", errs.ErrInvalidArgument)
	}

	msg := "From: " + m.cfg.User + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=\"utf-8\"\r\n" +
		"\r\n" + body + "\r\n"

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	if err := m.send(addr, auth, m.cfg.User, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %v: %w", err, errs.ErrEmailUnavailable)
	}
	return nil
}

// Log writes messages to the logger instead of sending them. Development only: codes end up in logs.
type Log struct{ log *zap.Logger }

// NewLog constructs a logging mailer.
func NewLog(log *zap.Logger) *Log { return &Log{log: log} }

// Send logs the message.
func (m *Log) Send(_ context.Context, to, subject, body string) error {
	m.log.Info("mail (not sent)", zap.String("to", to), zap.String("subject", subject), zap.String("body", body))
	return nil
}

// Code message texts.
const (
	CodeSubject = "Safe Folder verification code"
	codeBody    = "Your one-time Safe Folder code: %s\nIt expires in %d minutes."
)

// CodeBody renders the one-time code message.
func CodeBody(code string, ttlMinutes int) string { return fmt.Sprintf(codeBody, code, ttlMinutes) }
