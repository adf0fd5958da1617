package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/safe-folder/internal/api"
	"github.com/and161185/safe-folder/internal/errs"
	"github.com/and161185/safe-folder/internal/metrics"
	"github.com/and161185/safe-folder/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

type fakeAuthenticator struct{ want string }

func (f fakeAuthenticator) Authenticate(token string) (*service.Claims, error) {
	if token != f.want {
		return nil, errs.ErrTokenInvalid
	}
	return &service.Claims{UserID: 7}, nil
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeServerStream) Context() context.Context { return s.ctx }

func withBearer(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(api.MDAuthorization, token))
}

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	ic := LoggingUnary(zaptest.NewLogger(t))
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/Method"}

	resp, err := ic(ctx, "req", info, func(context.Context, any) (any, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", resp)

	wantErr := errors.New("boom")
	_, err = ic(ctx, "req", info, func(context.Context, any) (any, error) { return nil, wantErr })
	require.ErrorIs(t, err, wantErr)
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/Panic"}

	_, err := ic(context.Background(), "req", info, func(context.Context, any) (any, error) { panic("oh no") })
	require.Equal(t, codes.Internal, status.Code(err))

	resp, err := ic(context.Background(), "req", info, func(context.Context, any) (any, error) { return 42, nil })
	require.NoError(t, err)
	require.Equal(t, 42, resp)
}

func TestRecoverStream_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverStream(zaptest.NewLogger(t))
	err := ic(nil, fakeServerStream{ctx: context.Background()}, &grpc.StreamServerInfo{FullMethod: "/svc/S"},
		func(any, grpc.ServerStream) error { panic("stream") })
	require.Equal(t, codes.Internal, status.Code(err))
}

func TestLoggingUnary_DurationFieldDoesNotBlock(t *testing.T) {
	t.Parallel()

	ic := LoggingUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/Sleep"}

	start := time.Now()
	resp, err := ic(context.Background(), "req", info, func(context.Context, any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "done", nil
	})
	require.NoError(t, err)
	require.Equal(t, "done", resp)
	require.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestAuthUnary(t *testing.T) {
	t.Parallel()

	ic := AuthUnary(fakeAuthenticator{want: "good"})
	var seen int64
	h := func(ctx context.Context, _ any) (any, error) {
		seen, _ = UserIDFromCtx(ctx)
		return "ok", nil
	}
	protected := &grpc.UnaryServerInfo{FullMethod: api.FullMethod(api.ListFiles)}
	open := &grpc.UnaryServerInfo{FullMethod: api.FullMethod(api.RequestLoginCode)}

	_, err := ic(context.Background(), nil, open, h)
	require.NoError(t, err, "public methods need no token")
	require.Zero(t, seen)

	for _, tc := range []struct {
		name string
		ctx  context.Context
	}{
		{"no metadata", context.Background()},
		{"no scheme", withBearer("good")},
		{"empty token", withBearer("Bearer   ")},
		{"wrong token", withBearer("Bearer bad")},
	} {
		_, err := ic(tc.ctx, nil, protected, h)
		require.Equal(t, codes.Unauthenticated, status.Code(err), tc.name)
	}

	_, err = ic(withBearer("bearer good"), nil, protected, h)
	require.NoError(t, err)
	require.Equal(t, int64(7), seen)
}

func TestAuthStream_ReplacesContext(t *testing.T) {
	t.Parallel()

	ic := AuthStream(fakeAuthenticator{want: "good"})
	info := &grpc.StreamServerInfo{FullMethod: api.FullMethod(api.DownloadFile)}

	err := ic(nil, fakeServerStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error { return nil })
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	var seen int64
	err = ic(nil, fakeServerStream{ctx: withBearer("Bearer good")}, info, func(_ any, ss grpc.ServerStream) error {
		seen, _ = UserIDFromCtx(ss.Context())
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), seen)
}

func TestMetricsUnary_CountsByMethodAndCode(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	ic := MetricsUnary(metrics.New(reg))
	info := &grpc.UnaryServerInfo{FullMethod: api.FullMethod(api.Logout)}

	_, _ = ic(context.Background(), nil, info, func(context.Context, any) (any, error) { return nil, nil })
	_, _ = ic(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "x")
	})

	n, err := testutil.GatherAndCount(reg, "safefolder_rpc_total")
	require.NoError(t, err)
	require.Equal(t, 2, n, "one series per code")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	ic := MetricsUnary(nil)
	resp, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/M"},
		func(context.Context, any) (any, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", resp)
}
