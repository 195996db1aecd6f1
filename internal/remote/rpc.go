package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The file service is built from well-known protobuf types; the target
// path travels in request metadata under common.PathHeaderName.
const (
	FileChannelServiceName = "parrotkeeper.remote.FileChannel"

	methodExists = "/" + FileChannelServiceName + "/Exists"
	methodRead   = "/" + FileChannelServiceName + "/Read"
	methodWrite  = "/" + FileChannelServiceName + "/Write"
	methodRename = "/" + FileChannelServiceName + "/Rename"
	methodRemove = "/" + FileChannelServiceName + "/Remove"
)

// FileChannelServer is implemented by the parrotkeeper server.
type FileChannelServer interface {
	Exists(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error)
	Read(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	Write(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	// Rename moves the metadata path onto the target in the request.
	Rename(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Remove(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

func RegisterFileChannelServer(s grpc.ServiceRegistrar, srv FileChannelServer) {
	s.RegisterService(&fileChannelServiceDesc, srv)
}

func unaryHandler[In any, Out any](method string, call func(FileChannelServer, context.Context, *In) (*Out, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(In)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FileChannelServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(FileChannelServer), ctx, req.(*In))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var fileChannelServiceDesc = grpc.ServiceDesc{
	ServiceName: FileChannelServiceName,
	HandlerType: (*FileChannelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Exists", Handler: unaryHandler(methodExists, FileChannelServer.Exists)},
		{MethodName: "Read", Handler: unaryHandler(methodRead, FileChannelServer.Read)},
		{MethodName: "Write", Handler: unaryHandler(methodWrite, FileChannelServer.Write)},
		{MethodName: "Rename", Handler: unaryHandler(methodRename, FileChannelServer.Rename)},
		{MethodName: "Remove", Handler: unaryHandler(methodRemove, FileChannelServer.Remove)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "parrotkeeper/remote/file_channel",
}
