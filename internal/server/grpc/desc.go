package grpcserver

import (
	"context"

	"github.com/and161185/safe-folder/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// API is the server side of safefolder.v1.SafeFolder.
type API interface {
	InitiateRegistration(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmRegistration(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestLoginCode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyLoginCode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyBackupCode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RefreshToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	RegenerateBackupCodes(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListFiles(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteFile(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// UploadFile receives body chunks; filename and MIME type travel in request metadata.
	UploadFile(grpc.ClientStreamingServer[wrapperspb.BytesValue, structpb.Struct]) error
	// DownloadFile sends body chunks; filename and MIME type travel in header metadata.
	DownloadFile(*structpb.Struct, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv API) { s.RegisterService(&ServiceDesc, srv) }

func newStruct() *structpb.Struct { return new(structpb.Struct) }
func newEmpty() *emptypb.Empty    { return new(emptypb.Empty) }

// unary builds a method handler the way generated code does.
func unary[Req, Resp proto.Message](name string, newReq func() Req, call func(API, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(API), ctx, req.(Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: api.FullMethod(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes safefolder.v1.SafeFolder. Messages are protobuf well-known types.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: api.ServiceName,
	HandlerType: (*API)(nil),
	Methods: []grpc.MethodDesc{
		unary(api.InitiateRegistration, newStruct, API.InitiateRegistration),
		unary(api.ConfirmRegistration, newStruct, API.ConfirmRegistration),
		unary(api.RequestLoginCode, newStruct, API.RequestLoginCode),
		unary(api.VerifyLoginCode, newStruct, API.VerifyLoginCode),
		unary(api.VerifyBackupCode, newStruct, API.VerifyBackupCode),
		unary(api.RefreshToken, newStruct, API.RefreshToken),
		unary(api.Logout, newStruct, API.Logout),
		unary(api.RegenerateBackupCodes, newEmpty, API.RegenerateBackupCodes),
		unary(api.ListFiles, newStruct, API.ListFiles),
		unary(api.DeleteFile, newStruct, API.DeleteFile),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: api.UploadFile,
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(API).UploadFile(&grpc.GenericServerStream[wrapperspb.BytesValue, structpb.Struct]{ServerStream: stream})
			},
			ClientStreams: true,
		},
		{
			StreamName: api.DownloadFile,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(API).DownloadFile(in, &grpc.GenericServerStream[structpb.Struct, wrapperspb.BytesValue]{ServerStream: stream})
			},
			ServerStreams: true,
		},
	},
}
