package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func newTestServer(secret string) *GRPCServer {
	return &GRPCServer{
		logger:    nopLogger{},
		jwtSecret: []byte(secret),
	}
}

func fileMethod(name string) *grpc.UnaryServerInfo {
	return &grpc.UnaryServerInfo{FullMethod: fileChannelPrefix + name}
}

func TestInterceptor_OtherService_AllowsWithoutToken(t *testing.T) {
	s := newTestServer(testSecret)

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	handlerCalled := false

	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handlerCalled {
		t.Fatal("handler was not called")
	}
	if resp != "ok" {
		t.Fatalf("unexpected handler resp: %v", resp)
	}
}

func TestInterceptor_MissingToken(t *testing.T) {
	s := newTestServer(testSecret)

	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler should not be called when token missing")
		return nil, nil
	}

	for _, m := range []string{"Exists", "Read", "Write", "Rename", "Remove"} {
		_, err := s.accessTokenInterceptor(context.Background(), nil, fileMethod(m), h)
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("%s: expected Unauthenticated, got %v", m, err)
		}
	}
}

func TestInterceptor_InvalidAndExpiredTokens(t *testing.T) {
	s := newTestServer(testSecret)

	expired, err := auth.GenerateToken("alice", []byte(testSecret), -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	tests := []struct {
		name  string
		token string
		msg   string
	}{
		{name: "garbage", token: "nope", msg: "invalid token"},
		{name: "expired", token: expired, msg: "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := metadata.NewIncomingContext(context.Background(),
				metadata.Pairs(common.AccessTokenHeaderName, tt.token))
			h := func(ctx context.Context, req interface{}) (interface{}, error) {
				t.Fatal("handler should not be called")
				return nil, nil
			}
			_, err := s.accessTokenInterceptor(ctx, nil, fileMethod("Read"), h)
			st, _ := status.FromError(err)
			if st.Code() != codes.Unauthenticated || st.Message() != tt.msg {
				t.Fatalf("got %v, want Unauthenticated %q", err, tt.msg)
			}
		})
	}
}

func TestInterceptor_ValidToken_SetsSubject(t *testing.T) {
	s := newTestServer(testSecret)

	token, err := auth.GenerateToken("alice", []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	ctx := metadata.NewIncomingContext(context.Background(),
		metadata.Pairs(common.AccessTokenHeaderName, token))

	var got string
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		got, _ = subjectFromContext(ctx)
		return "ok", nil
	}

	if _, err := s.accessTokenInterceptor(ctx, nil, fileMethod("Write"), h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "alice" {
		t.Fatalf("subject = %q, want alice", got)
	}
}
