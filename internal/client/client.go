// Package client is a typed client for the safefolder.v1.SafeFolder service.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/and161185/safe-folder/internal/api"
	"github.com/and161185/safe-folder/internal/convert"
	"github.com/and161185/safe-folder/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ChunkSize is the payload size of upload messages.
const ChunkSize = 32 << 10

// Client calls the service over cc.
type Client struct{ cc grpc.ClientConnInterface }

// New wraps a connection.
func New(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// WithBearer attaches an access token to calls made with the returned context.
func WithBearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, api.MDAuthorization, "Bearer "+token)
}

func (c *Client) invoke(ctx context.Context, method string, in, out proto.Message) error {
	return c.cc.Invoke(ctx, api.FullMethod(method), in, out)
}

func fields(m map[string]any) *structpb.Struct {
	s, err := structpb.NewStruct(m)
	if err != nil {
		// callers pass strings and integers only
		panic(err)
	}
	return s
}

func (c *Client) call(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, method, fields(in), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) tokens(ctx context.Context, method string, in map[string]any) (model.Tokens, error) {
	out, err := c.call(ctx, method, in)
	if err != nil {
		return model.Tokens{}, err
	}
	return convert.FromProtoTokens(out)
}

// InitiateRegistration asks for a confirmation code and returns the server message.
func (c *Client) InitiateRegistration(ctx context.Context, email, username, password string) (string, error) {
	out, err := c.call(ctx, api.InitiateRegistration, map[string]any{
		api.FieldEmail: email, api.FieldUsername: username, api.FieldPassword: password,
	})
	if err != nil {
		return "", err
	}
	return convert.Str(out, api.FieldMessage), nil
}

// ConfirmRegistration completes a registration and returns the account and its backup codes.
func (c *Client) ConfirmRegistration(ctx context.Context, email, code string) (model.User, []string, error) {
	out, err := c.call(ctx, api.ConfirmRegistration, map[string]any{api.FieldEmail: email, api.FieldCode: code})
	if err != nil {
		return model.User{}, nil, err
	}
	id, err := convert.Int(out, api.FieldUserID)
	if err != nil {
		return model.User{}, nil, err
	}
	u := model.User{ID: id, Username: convert.Str(out, api.FieldUsername), Email: convert.Str(out, api.FieldEmail)}
	return u, convert.Strings(out, api.FieldBackupCodes), nil
}

// RequestLoginCode checks the password and returns the address the code went to and the server message.
func (c *Client) RequestLoginCode(ctx context.Context, username, password string) (email, message string, err error) {
	out, err := c.call(ctx, api.RequestLoginCode, map[string]any{api.FieldUsername: username, api.FieldPassword: password})
	if err != nil {
		return "", "", err
	}
	return convert.Str(out, api.FieldEmail), convert.Str(out, api.FieldMessage), nil
}

// VerifyLoginCode exchanges an emailed code for tokens.
func (c *Client) VerifyLoginCode(ctx context.Context, email, code string) (model.Tokens, error) {
	return c.tokens(ctx, api.VerifyLoginCode, map[string]any{api.FieldEmail: email, api.FieldCode: code})
}

// VerifyBackupCode exchanges a backup code for tokens.
func (c *Client) VerifyBackupCode(ctx context.Context, email, code string) (model.Tokens, error) {
	return c.tokens(ctx, api.VerifyBackupCode, map[string]any{api.FieldEmail: email, api.FieldBackupCode: code})
}

// Refresh rotates a refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.Tokens, error) {
	return c.tokens(ctx, api.RefreshToken, map[string]any{api.FieldRefreshToken: refreshToken})
}

// Logout revokes a refresh token.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.invoke(ctx, api.Logout, fields(map[string]any{api.FieldRefreshToken: refreshToken}), new(emptypb.Empty))
}

// RegenerateBackupCodes replaces the caller's unused backup codes.
func (c *Client) RegenerateBackupCodes(ctx context.Context) ([]string, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, api.RegenerateBackupCodes, new(emptypb.Empty), out); err != nil {
		return nil, err
	}
	return convert.Strings(out, api.FieldBackupCodes), nil
}

// ListFiles returns one page of the caller's files.
func (c *Client) ListFiles(ctx context.Context, q model.FileQuery) (model.FilePage, error) {
	in, err := convert.ToProtoFileQuery(q)
	if err != nil {
		return model.FilePage{}, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, api.ListFiles, in, out); err != nil {
		return model.FilePage{}, err
	}
	return convert.FromProtoFilePage(out)
}

// DeleteFile removes one of the caller's files.
func (c *Client) DeleteFile(ctx context.Context, id int64) error {
	return c.invoke(ctx, api.DeleteFile, fields(map[string]any{api.FieldFileID: id}), new(emptypb.Empty))
}

// Upload streams r to the server in ChunkSize messages.
func (c *Client) Upload(ctx context.Context, filename, mimeType string, r io.Reader) (model.FileRecord, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, api.MDFilename, filename, api.MDMimeType, mimeType)
	cs, err := c.cc.NewStream(ctx, &api.UploadStream, api.FullMethod(api.UploadFile))
	if err != nil {
		return model.FileRecord{}, err
	}
	stream := &grpc.GenericClientStream[wrapperspb.BytesValue, structpb.Struct]{ClientStream: cs}

	buf := make([]byte, ChunkSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if err := stream.Send(wrapperspb.Bytes(buf[:n])); err != nil {
				// the server already ended the call; CloseAndRecv reports why
				if errors.Is(err, io.EOF) {
					break
				}
				return model.FileRecord{}, err
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return model.FileRecord{}, fmt.Errorf("read upload: %w", rerr)
		}
	}

	out, err := stream.CloseAndRecv()
	if err != nil {
		return model.FileRecord{}, err
	}
	return convert.FromProtoFile(out)
}

// Download writes the decrypted body of a file to w and returns its name and MIME type.
func (c *Client) Download(ctx context.Context, id int64, w io.Writer) (filename, mimeType string, err error) {
	cs, err := c.cc.NewStream(ctx, &api.DownloadStream, api.FullMethod(api.DownloadFile))
	if err != nil {
		return "", "", err
	}
	stream := &grpc.GenericClientStream[structpb.Struct, wrapperspb.BytesValue]{ClientStream: cs}
	if err := stream.Send(fields(map[string]any{api.FieldFileID: id})); err != nil {
		return "", "", err
	}
	if err := stream.CloseSend(); err != nil {
		return "", "", err
	}

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", "", err
		}
		if _, err := w.Write(msg.GetValue()); err != nil {
			return "", "", fmt.Errorf("write download: %w", err)
		}
	}

	md, err := stream.Header()
	if err != nil {
		return "", "", err
	}
	if v := md.Get(api.MDFilename); len(v) > 0 {
		filename = v[0]
	}
	if v := md.Get(api.MDMimeType); len(v) > 0 {
		mimeType = v[0]
	}
	return filename, mimeType, nil
}
