package grpcserver

import (
	"context"
	"errors"

	"github.com/and161185/safe-folder/internal/errs"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var statusTable = []struct {
	err  error
	code codes.Code
	msg  string
}{
	{errs.ErrInvalidCredentials, codes.Unauthenticated, "incorrect username or password"},
	{errs.ErrTokenInvalid, codes.Unauthenticated, "invalid or expired token"},
	{errs.ErrUnauthorized, codes.Unauthenticated, "unauthenticated"},
	{errs.ErrChallengeInvalid, codes.InvalidArgument, "invalid or expired code"},
	{errs.ErrRegistrationConflict, codes.AlreadyExists, "email or username was taken meanwhile, register again"},
	{errs.ErrAlreadyExists, codes.AlreadyExists, "email or username already registered"},
	{errs.ErrEmailUnavailable, codes.Unavailable, "email service unavailable"},
	{errs.ErrRateLimited, codes.ResourceExhausted, "too many attempts, try later"},
	{errs.ErrTooLarge, codes.ResourceExhausted, "file too large"},
	{errs.ErrNotFound, codes.NotFound, "not found"},
}

// toStatus maps a service error to a gRPC status. Unknown errors and integrity failures become
// a generic Internal status and are logged with full detail.
func toStatus(ctx context.Context, log *zap.Logger, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, errs.ErrInvalidArgument) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return status.Error(e.code, e.msg)
		}
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, "canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}

	method, _ := grpc.Method(ctx)
	log.Error("request failed", zap.String("method", method), zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}
