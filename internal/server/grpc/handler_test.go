package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// brokenStore fails every call with a transport error.
type brokenStore struct{ remote.Channel }

func (brokenStore) Read(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func callCtx(subject, p string) context.Context {
	ctx := context.WithValue(context.Background(), subjectKey, subject)
	return metadata.NewIncomingContext(ctx, metadata.Pairs(common.PathHeaderName, p))
}

func TestScoped(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		path    string
		want    string
		code    codes.Code
	}{
		{name: "plain", subject: "alice", path: "home.pk", want: "alice/home.pk"},
		{name: "nested", subject: "alice", path: "/vaults/home.pk", want: "alice/vaults/home.pk"},
		{name: "dotdot stays inside", subject: "alice", path: "../../etc/passwd", want: "alice/etc/passwd"},
		{name: "empty path", subject: "alice", path: "", code: codes.InvalidArgument},
		{name: "root only", subject: "alice", path: "/", code: codes.InvalidArgument},
		{name: "no subject", subject: "", path: "x", code: codes.Unauthenticated},
		{name: "slash in subject", subject: "a/b", path: "x", code: codes.PermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.WithValue(context.Background(), subjectKey, tt.subject)
			got, err := scoped(ctx, tt.path)
			if tt.code != codes.OK {
				if status.Code(err) != tt.code {
					t.Fatalf("code = %v, want %v", status.Code(err), tt.code)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("scoped = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandlers_ReadWriteRenameRemove(t *testing.T) {
	s := NewGRPCServer("", nopLogger{}, newFSStore(t), testSecret)
	ctx := callCtx("alice", "home.pk")

	if _, err := s.Read(ctx, &emptypb.Empty{}); status.Code(err) != codes.NotFound {
		t.Fatalf("Read missing: got %v, want NotFound", err)
	}
	if _, err := s.Write(ctx, wrapperspb.Bytes([]byte("data"))); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	got, err := s.Read(ctx, &emptypb.Empty{})
	if err != nil || string(got.GetValue()) != "data" {
		t.Fatalf("Read = %q, %v", got.GetValue(), err)
	}
	if _, err := s.Rename(ctx, wrapperspb.String("home.pk.sync")); err != nil {
		t.Fatalf("Rename error: %v", err)
	}
	ok, err := s.Exists(callCtx("alice", "home.pk.sync"), &emptypb.Empty{})
	if err != nil || !ok.GetValue() {
		t.Fatalf("Exists after rename = %v, %v", ok.GetValue(), err)
	}
	if _, err := s.Remove(ctx, &emptypb.Empty{}); status.Code(err) != codes.NotFound {
		t.Fatalf("Remove missing: got %v, want NotFound", err)
	}
	if _, err := s.Rename(ctx, wrapperspb.String("")); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("Rename to empty: got %v, want InvalidArgument", err)
	}
}

func TestHandlers_StorageErrorIsInternal(t *testing.T) {
	s := NewGRPCServer("", nopLogger{}, brokenStore{}, testSecret)

	_, err := s.Read(callCtx("alice", "home.pk"), &emptypb.Empty{})
	st, _ := status.FromError(err)
	if st.Code() != codes.Internal || st.Message() != "storage error" {
		t.Fatalf("got %v, want Internal storage error", err)
	}
}
