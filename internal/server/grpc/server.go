// Package grpcserver exposes the Safe Folder gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/and161185/safe-folder/internal/api"
	"github.com/and161185/safe-folder/internal/convert"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/and161185/safe-folder/internal/service"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server wires services into gRPC handlers.
type Server struct {
	auth  service.AuthService
	files service.FileService
	log   *zap.Logger
}

var _ API = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(auth service.AuthService, files service.FileService, log *zap.Logger) *Server {
	return &Server{auth: auth, files: files, log: log}
}

func (s *Server) fail(ctx context.Context, err error) error { return toStatus(ctx, s.log, err) }

// remoteIP returns the peer host without the port, so limits apply per address.
func remoteIP(ctx context.Context) string {
	addr := peerAddr(ctx)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func userID(ctx context.Context) (int64, error) {
	id, ok := UserIDFromCtx(ctx)
	if !ok {
		return 0, status.Error(codes.Unauthenticated, "no auth")
	}
	return id, nil
}

func (s *Server) tokens(ctx context.Context, t model.Tokens, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.ToProtoTokens(t)
}

// --- Registration ---

// InitiateRegistration emails a confirmation code for a new account.
func (s *Server) InitiateRegistration(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	email := convert.Str(req, api.FieldEmail)
	err := s.auth.InitiateRegistration(ctx, email, convert.Str(req, api.FieldUsername), convert.Str(req, api.FieldPassword))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.Message(fmt.Sprintf("Verification code sent to %s. Use it to confirm your registration.", email)), nil
}

// ConfirmRegistration creates the account and returns its backup codes.
func (s *Server) ConfirmRegistration(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	reg, err := s.auth.ConfirmRegistration(ctx, convert.Str(req, api.FieldEmail), convert.Str(req, api.FieldCode), remoteIP(ctx))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.ToProtoRegistration(reg.User, reg.BackupCodes)
}

// --- Login ---

// RequestLoginCode checks the password and emails a second-factor code.
func (s *Server) RequestLoginCode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	email, err := s.auth.RequestLoginCode(ctx, convert.Str(req, api.FieldUsername), convert.Str(req, api.FieldPassword), remoteIP(ctx))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	out := convert.Message(fmt.Sprintf("2FA code sent to %s.", email))
	out.Fields[api.FieldEmail] = structpb.NewStringValue(email)
	return out, nil
}

// VerifyLoginCode exchanges the emailed code for tokens.
func (s *Server) VerifyLoginCode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	t, err := s.auth.VerifyLoginCode(ctx, convert.Str(req, api.FieldEmail), convert.Str(req, api.FieldCode), remoteIP(ctx))
	return s.tokens(ctx, t, err)
}

// VerifyBackupCode exchanges a backup code for tokens.
func (s *Server) VerifyBackupCode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	t, err := s.auth.VerifyBackupCode(ctx, convert.Str(req, api.FieldEmail), convert.Str(req, api.FieldBackupCode), remoteIP(ctx))
	return s.tokens(ctx, t, err)
}

// RefreshToken rotates a refresh token.
func (s *Server) RefreshToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	t, err := s.auth.Refresh(ctx, convert.Str(req, api.FieldRefreshToken))
	return s.tokens(ctx, t, err)
}

// Logout revokes a refresh token.
func (s *Server) Logout(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.auth.Logout(ctx, convert.Str(req, api.FieldRefreshToken)); err != nil {
		return nil, s.fail(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

// RegenerateBackupCodes replaces the caller's unused backup codes.
func (s *Server) RegenerateBackupCodes(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	id, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	codes, err := s.auth.RegenerateBackupCodes(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.ToProtoBackupCodes(codes)
}

// --- Files ---

// ListFiles returns one page of the caller's files.
func (s *Server) ListFiles(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	q, err := convert.FromProtoFileQuery(req)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	page, err := s.files.List(ctx, id, q)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return convert.ToProtoFilePage(page)
}

// DeleteFile soft-deletes one of the caller's files.
func (s *Server) DeleteFile(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	fileID, err := convert.Int(req, api.FieldFileID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	if err := s.files.Delete(ctx, id, fileID); err != nil {
		return nil, s.fail(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

// UploadFile encrypts and stores the streamed body.
func (s *Server) UploadFile(stream grpc.ClientStreamingServer[wrapperspb.BytesValue, structpb.Struct]) error {
	ctx := stream.Context()
	id, err := userID(ctx)
	if err != nil {
		return err
	}
	md, _ := metadata.FromIncomingContext(ctx)
	rec, err := s.files.Upload(ctx, id, first(md, api.MDFilename), first(md, api.MDMimeType), &chunkReader{recv: stream.Recv})
	if err != nil {
		return s.fail(ctx, err)
	}
	out, err := convert.ToProtoFile(*rec)
	if err != nil {
		return s.fail(ctx, err)
	}
	return stream.SendAndClose(out)
}

// DownloadFile streams the decrypted body after its tag verified.
func (s *Server) DownloadFile(req *structpb.Struct, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	ctx := stream.Context()
	id, err := userID(ctx)
	if err != nil {
		return err
	}
	fileID, err := convert.Int(req, api.FieldFileID)
	if err != nil {
		return s.fail(ctx, err)
	}
	rec, err := s.files.Get(ctx, id, fileID)
	if err != nil {
		return s.fail(ctx, err)
	}
	if err := stream.SetHeader(metadata.Pairs(api.MDFilename, rec.OriginalName, api.MDMimeType, rec.MimeType)); err != nil {
		return err
	}
	if _, err := s.files.Download(ctx, id, fileID, &chunkWriter{send: stream.Send}); err != nil {
		return s.fail(ctx, err)
	}
	return nil
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// chunkReader adapts a stream of BytesValue messages to io.Reader.
type chunkReader struct {
	recv func() (*wrapperspb.BytesValue, error)
	buf  []byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		msg, err := r.recv()
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		r.buf = msg.GetValue()
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// chunkWriter sends every Write as one BytesValue message.
type chunkWriter struct {
	send func(*wrapperspb.BytesValue) error
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if err := w.send(wrapperspb.Bytes(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
