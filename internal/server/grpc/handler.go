package grpc

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// scoped maps a client path into the caller's namespace: every subject
// sees only files under its own directory.
func scoped(ctx context.Context, p string) (string, error) {
	subject, ok := subjectFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "no subject")
	}
	if strings.Contains(subject, "/") || subject == "." || subject == ".." {
		return "", status.Error(codes.PermissionDenied, "unusable subject")
	}
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if clean == "" {
		return "", status.Error(codes.InvalidArgument, "empty path")
	}
	return subject + "/" + clean, nil
}

func requestPath(ctx context.Context) (string, error) {
	var p string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.PathHeaderName); len(values) > 0 {
			p = values[0]
		}
	}
	return scoped(ctx, p)
}

func (s *GRPCServer) toStatus(ctx context.Context, op, p string, err error) error {
	switch {
	case remote.IsNotExist(err):
		return status.Error(codes.NotFound, "file not found")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.Error(ctx, "storage error", "op", op, "path", p, "error", err)
		return status.Error(codes.Internal, "storage error")
	}
}

func (s *GRPCServer) Exists(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	p, err := requestPath(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.Exists(ctx, p)
	if err != nil {
		return nil, s.toStatus(ctx, "exists", p, err)
	}
	return wrapperspb.Bool(ok), nil
}

func (s *GRPCServer) Read(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	p, err := requestPath(ctx)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Read(ctx, p)
	if err != nil {
		return nil, s.toStatus(ctx, "read", p, err)
	}
	return wrapperspb.Bytes(data), nil
}

func (s *GRPCServer) Write(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	p, err := requestPath(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.store.Write(ctx, p, in.GetValue()); err != nil {
		return nil, s.toStatus(ctx, "write", p, err)
	}
	s.logger.Debug(ctx, "file written", "path", p, "bytes", len(in.GetValue()))
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) Rename(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	from, err := requestPath(ctx)
	if err != nil {
		return nil, err
	}
	to, err := scoped(ctx, in.GetValue())
	if err != nil {
		return nil, err
	}
	if err := s.store.Rename(ctx, from, to); err != nil {
		return nil, s.toStatus(ctx, "rename", from, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) Remove(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	p, err := requestPath(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.store.Remove(ctx, p); err != nil {
		return nil, s.toStatus(ctx, "remove", p, err)
	}
	return &emptypb.Empty{}, nil
}
