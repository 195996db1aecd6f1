package remote

import (
	"context"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// GRPCChannel talks to a parrotkeeper server.
type GRPCChannel struct {
	conn  *grpc.ClientConn
	token string
}

// DialGRPC connects to addr. token is sent as the access token with every
// call.
func DialGRPC(addr, token string, opts ...grpc.DialOption) (*GRPCChannel, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, transportError("dial", addr, err)
	}
	return &GRPCChannel{conn: conn, token: token}, nil
}

func (c *GRPCChannel) invoke(ctx context.Context, method, path string, in, out proto.Message) error {
	ctx = metadata.AppendToOutgoingContext(ctx,
		common.PathHeaderName, path,
		common.AccessTokenHeaderName, c.token)
	return c.conn.Invoke(ctx, method, in, out)
}

func mapStatus(op, path string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return notExist(op, path)
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.Unauthenticated:
		return transportError(op, path, common.ErrInvalidToken)
	default:
		return transportError(op, path, err)
	}
}

func (c *GRPCChannel) Exists(ctx context.Context, p string) (bool, error) {
	out := &wrapperspb.BoolValue{}
	if err := c.invoke(ctx, methodExists, p, &emptypb.Empty{}, out); err != nil {
		return false, mapStatus("exists", p, err)
	}
	return out.GetValue(), nil
}

func (c *GRPCChannel) Read(ctx context.Context, p string) ([]byte, error) {
	out := &wrapperspb.BytesValue{}
	if err := c.invoke(ctx, methodRead, p, &emptypb.Empty{}, out); err != nil {
		return nil, mapStatus("read", p, err)
	}
	return out.GetValue(), nil
}

func (c *GRPCChannel) Write(ctx context.Context, p string, data []byte) error {
	if err := c.invoke(ctx, methodWrite, p, wrapperspb.Bytes(data), &emptypb.Empty{}); err != nil {
		return mapStatus("write", p, err)
	}
	return nil
}

func (c *GRPCChannel) Rename(ctx context.Context, from, to string) error {
	if err := c.invoke(ctx, methodRename, from, wrapperspb.String(to), &emptypb.Empty{}); err != nil {
		return mapStatus("rename", from, err)
	}
	return nil
}

func (c *GRPCChannel) Remove(ctx context.Context, p string) error {
	if err := c.invoke(ctx, methodRemove, p, &emptypb.Empty{}, &emptypb.Empty{}); err != nil {
		return mapStatus("remove", p, err)
	}
	return nil
}

func (c *GRPCChannel) Close() error {
	return c.conn.Close()
}
