package grpcserver

import (
	"bytes"
	"context"
	"net"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/and161185/safe-folder/internal/blob"
	"github.com/and161185/safe-folder/internal/client"
	pkgcrypto "github.com/and161185/safe-folder/internal/crypto"
	"github.com/and161185/safe-folder/internal/crypto/envelope"
	"github.com/and161185/safe-folder/internal/limiter"
	"github.com/and161185/safe-folder/internal/metrics"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/and161185/safe-folder/internal/repository/memory"
	"github.com/and161185/safe-folder/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1 << 20

type mailbox struct {
	mu   sync.Mutex
	last map[string]string
}

var codeRE = regexp.MustCompile(`code: (\d{6})`)

func (m *mailbox) Send(_ context.Context, to, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if match := codeRE.FindStringSubmatch(body); len(match) == 2 {
		m.last[to] = match[1]
	}
	return nil
}

func (m *mailbox) code(t *testing.T, to string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.last[to]
	require.True(t, ok, "no code mailed to %s", to)
	return c
}

type testEnv struct {
	client *client.Client
	mail   *mailbox
	reg    *prometheus.Registry
}

func startServer(t *testing.T) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mb := &mailbox{last: map[string]string{}}
	store := memory.New()

	creds, err := service.NewCredentialLedger(pkgcrypto.NewArgon2Hasher(pkgcrypto.Argon2Params{
		Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16,
	}))
	require.NoError(t, err)
	sessions := service.NewSessionIssuer([]byte("0123456789abcdef0123456789abcdef"), 30*time.Minute, 7*24*time.Hour)
	auth := service.NewAuthService(store, creds,
		service.NewChallengeManager(15*time.Minute, 5*time.Minute, m),
		sessions,
		limiter.NewMemory(15*time.Minute, 5, 15*time.Minute),
		mb, log, m)

	master, err := envelope.NewMasterKey(bytes.Repeat([]byte{7}, pkgcrypto.KeySize))
	require.NoError(t, err)
	env, err := envelope.New(master, pkgcrypto.AES256GCM)
	require.NoError(t, err)
	blobs, err := blob.NewFS(t.TempDir())
	require.NoError(t, err)
	files := service.NewFileService(store.Files(), blobs, env, 1<<20, log, m)

	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log), MetricsUnary(m), AuthUnary(auth)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log), MetricsStream(m), AuthStream(auth)),
	)
	Register(s, New(auth, files, log))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testEnv{client: client.New(conn), mail: mb, reg: reg}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, status.Code(err), "err: %v", err)
}

// signUp registers alice and logs her in.
func (e *testEnv) signUp(t *testing.T) ([]string, model.Tokens) {
	t.Helper()
	ctx := testCtx(t)
	_, err := e.client.InitiateRegistration(ctx, "a@x.com", "alice", "Passw0rd")
	require.NoError(t, err)
	u, backup, err := e.client.ConfirmRegistration(ctx, "a@x.com", e.mail.code(t, "a@x.com"))
	require.NoError(t, err)
	require.Equal(t, "alice", u.Username)
	require.Positive(t, u.ID)
	require.Len(t, backup, service.BackupCodeCount)

	email, msg, err := e.client.RequestLoginCode(ctx, "alice", "Passw0rd")
	require.NoError(t, err)
	require.Equal(t, "a@x.com", email)
	require.Contains(t, msg, "a@x.com")
	tokens, err := e.client.VerifyLoginCode(ctx, "a@x.com", e.mail.code(t, "a@x.com"))
	require.NoError(t, err)
	require.Equal(t, service.TokenTypeBearer, tokens.TokenType)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	return backup, tokens
}

func TestServer_UploadListDownloadDelete(t *testing.T) {
	e := startServer(t)
	_, tokens := e.signUp(t)
	ctx := client.WithBearer(testCtx(t), tokens.AccessToken)

	body := bytes.Repeat([]byte("secret payload "), 5000) // spans several chunks
	rec, err := e.client.Upload(ctx, "отчёт.txt", "text/plain", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, "отчёт.txt", rec.OriginalName)
	require.Equal(t, int64(pkgcrypto.NonceSize+len(body)), rec.SizeBytes) // stored size
	require.Equal(t, string(pkgcrypto.AES256GCM), rec.Algorithm)

	page, err := e.client.ListFiles(ctx, model.FileQuery{Search: "отчёт"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, rec.ID, page.Files[0].ID)

	var got bytes.Buffer
	name, mime, err := e.client.Download(ctx, rec.ID, &got)
	require.NoError(t, err)
	require.Equal(t, "отчёт.txt", name)
	require.Equal(t, "text/plain", mime)
	require.Equal(t, body, got.Bytes())

	require.NoError(t, e.client.DeleteFile(ctx, rec.ID))
	requireCode(t, e.client.DeleteFile(ctx, rec.ID), codes.NotFound)
	_, _, err = e.client.Download(ctx, rec.ID, &bytes.Buffer{})
	requireCode(t, err, codes.NotFound)

	n, err := testutil.GatherAndCount(e.reg, "safefolder_rpc_total")
	require.NoError(t, err)
	require.Positive(t, n)
}

func TestServer_EmptyUpload(t *testing.T) {
	e := startServer(t)
	_, tokens := e.signUp(t)
	ctx := client.WithBearer(testCtx(t), tokens.AccessToken)

	rec, err := e.client.Upload(ctx, "empty.bin", "", strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, int64(pkgcrypto.NonceSize), rec.SizeBytes)
	require.Equal(t, "application/octet-stream", rec.MimeType)

	var got bytes.Buffer
	_, _, err = e.client.Download(ctx, rec.ID, &got)
	require.NoError(t, err)
	require.Zero(t, got.Len())
}

func TestServer_ProtectedMethodsNeedToken(t *testing.T) {
	e := startServer(t)
	e.signUp(t)
	ctx := testCtx(t)

	_, err := e.client.ListFiles(ctx, model.FileQuery{})
	requireCode(t, err, codes.Unauthenticated)
	_, err = e.client.RegenerateBackupCodes(ctx)
	requireCode(t, err, codes.Unauthenticated)
	_, err = e.client.Upload(ctx, "a.txt", "text/plain", strings.NewReader("x"))
	requireCode(t, err, codes.Unauthenticated)

	bad := client.WithBearer(ctx, "not-a-jwt")
	_, _, err = e.client.Download(bad, 1, &bytes.Buffer{})
	requireCode(t, err, codes.Unauthenticated)
	requireCode(t, e.client.DeleteFile(bad, 1), codes.Unauthenticated)
}

func TestServer_ErrorCodes(t *testing.T) {
	e := startServer(t)
	ctx := testCtx(t)

	_, err := e.client.InitiateRegistration(ctx, "not-an-email", "alice", "Passw0rd")
	requireCode(t, err, codes.InvalidArgument)
	_, err = e.client.InitiateRegistration(ctx, "a@x.com", "alice", "weak")
	requireCode(t, err, codes.InvalidArgument)
	_, _, err = e.client.ConfirmRegistration(ctx, "nobody@x.com", "123456")
	requireCode(t, err, codes.InvalidArgument)

	e.signUp(t)
	_, err = e.client.InitiateRegistration(ctx, "a@x.com", "alice2", "Passw0rd")
	requireCode(t, err, codes.AlreadyExists)
	_, _, err = e.client.RequestLoginCode(ctx, "alice", "Wrong0000")
	requireCode(t, err, codes.Unauthenticated)
	_, _, err = e.client.RequestLoginCode(ctx, "ghost", "Passw0rd")
	requireCode(t, err, codes.Unauthenticated)
	_, err = e.client.Refresh(ctx, "bogus")
	requireCode(t, err, codes.Unauthenticated)
}

func TestServer_LoginCodeLockout(t *testing.T) {
	e := startServer(t)
	e.signUp(t)
	ctx := testCtx(t)

	_, _, err := e.client.RequestLoginCode(ctx, "alice", "Passw0rd")
	require.NoError(t, err)
	good := e.mail.code(t, "a@x.com")
	wrong := []byte(good)
	wrong[0] = '0' + (wrong[0]-'0'+1)%10

	for i := 0; i < 4; i++ {
		_, err = e.client.VerifyLoginCode(ctx, "a@x.com", string(wrong))
		requireCode(t, err, codes.InvalidArgument)
	}
	_, err = e.client.VerifyLoginCode(ctx, "a@x.com", string(wrong))
	requireCode(t, err, codes.ResourceExhausted)
	_, err = e.client.VerifyLoginCode(ctx, "a@x.com", good)
	requireCode(t, err, codes.ResourceExhausted)
}

func TestServer_BackupCodeRefreshLogout(t *testing.T) {
	e := startServer(t)
	backup, tokens := e.signUp(t)
	ctx := testCtx(t)

	viaBackup, err := e.client.VerifyBackupCode(ctx, "a@x.com", strings.ToLower(backup[0]))
	require.NoError(t, err)
	_, err = e.client.VerifyBackupCode(ctx, "a@x.com", backup[0])
	requireCode(t, err, codes.InvalidArgument)

	// backup login issued a new pair, so the earlier refresh token is gone
	_, err = e.client.Refresh(ctx, tokens.RefreshToken)
	requireCode(t, err, codes.Unauthenticated)

	rotated, err := e.client.Refresh(ctx, viaBackup.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, viaBackup.RefreshToken, rotated.RefreshToken)
	_, err = e.client.Refresh(ctx, viaBackup.RefreshToken)
	requireCode(t, err, codes.Unauthenticated)

	fresh, err := e.client.RegenerateBackupCodes(client.WithBearer(ctx, rotated.AccessToken))
	require.NoError(t, err)
	require.Len(t, fresh, service.BackupCodeCount)
	_, err = e.client.VerifyBackupCode(ctx, "a@x.com", backup[1])
	requireCode(t, err, codes.InvalidArgument)

	require.NoError(t, e.client.Logout(ctx, rotated.RefreshToken))
	_, err = e.client.Refresh(ctx, rotated.RefreshToken)
	requireCode(t, err, codes.Unauthenticated)
}
