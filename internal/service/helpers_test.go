package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	pkgcrypto "github.com/and161185/safe-folder/internal/crypto"
	"github.com/and161185/safe-folder/internal/limiter"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/and161185/safe-folder/internal/repository/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var cheapArgon2 = pkgcrypto.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

type sentMail struct{ to, subject, body string }

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

var codeRE = regexp.MustCompile(`code: (\d{6})`)

// lastCode returns the code of the most recent mail to addr.
func (m *captureMailer) lastCode(t *testing.T, addr string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].to == addr {
			match := codeRE.FindStringSubmatch(m.sent[i].body)
			require.Len(t, match, 2, "no code in %q", m.sent[i].body)
			return match[1]
		}
	}
	t.Fatalf("no mail to %s", addr)
	return ""
}

// otherCode returns a six-digit code different from c.
func otherCode(c string) string {
	b := []byte(c)
	b[0] = '0' + (b[0]-'0'+1)%10
	return string(b)
}

type fixture struct {
	store  *memory.Store
	mailer *captureMailer
	auth   *AuthServiceImpl
	now    time.Time
}

const testIP = "10.0.0.1"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		mailer: &captureMailer{},
		now:    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	creds, err := NewCredentialLedger(pkgcrypto.NewArgon2Hasher(cheapArgon2))
	require.NoError(t, err)
	creds.WithClock(clock)
	challenges := NewChallengeManager(15*time.Minute, 5*time.Minute, nil).WithClock(clock)
	sessions := NewSessionIssuer([]byte("0123456789abcdef0123456789abcdef"), 30*time.Minute, 7*24*time.Hour).WithClock(clock)
	lim := limiter.NewMemory(15*time.Minute, 5, 15*time.Minute).WithClock(clock)

	f.auth = NewAuthService(f.store, creds, challenges, sessions, lim, f.mailer, zaptest.NewLogger(t), nil)
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// register runs the full registration of alice and returns her backup codes.
func (f *fixture) register(t *testing.T) Registration {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.auth.InitiateRegistration(ctx, "a@x.com", "alice", "Passw0rd"))
	reg, err := f.auth.ConfirmRegistration(ctx, "a@x.com", f.mailer.lastCode(t, "a@x.com"), testIP)
	require.NoError(t, err)
	return reg
}

// login runs the password and emailed code steps for alice.
func (f *fixture) login(t *testing.T) model.Tokens {
	t.Helper()
	ctx := context.Background()
	_, err := f.auth.RequestLoginCode(ctx, "alice", "Passw0rd", testIP)
	require.NoError(t, err)
	tokens, err := f.auth.VerifyLoginCode(ctx, "a@x.com", f.mailer.lastCode(t, "a@x.com"), testIP)
	require.NoError(t, err)
	return tokens
}
