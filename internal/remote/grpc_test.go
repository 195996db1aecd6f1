package remote

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// memoryFileServer is a map-backed FileChannelServer that checks a fixed
// token.
type memoryFileServer struct {
	mu    sync.Mutex
	files map[string][]byte
	token string
}

func (s *memoryFileServer) path(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if v := md.Get(common.AccessTokenHeaderName); len(v) == 0 || v[0] != s.token {
		return "", status.Error(codes.Unauthenticated, "bad token")
	}
	v := md.Get(common.PathHeaderName)
	if len(v) == 0 {
		return "", status.Error(codes.InvalidArgument, "no path")
	}
	return v[0], nil
}

func (s *memoryFileServer) Exists(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	p, err := s.path(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[p]
	return wrapperspb.Bool(ok), nil
}

func (s *memoryFileServer) Read(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	p, err := s.path(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[p]
	if !ok {
		return nil, status.Error(codes.NotFound, p)
	}
	return wrapperspb.Bytes(data), nil
}

func (s *memoryFileServer) Write(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	p, err := s.path(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[p] = in.GetValue()
	return &emptypb.Empty{}, nil
}

func (s *memoryFileServer) Rename(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	p, err := s.path(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[p]
	if !ok {
		return nil, status.Error(codes.NotFound, p)
	}
	delete(s.files, p)
	s.files[in.GetValue()] = data
	return &emptypb.Empty{}, nil
}

func (s *memoryFileServer) Remove(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	p, err := s.path(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[p]; !ok {
		return nil, status.Error(codes.NotFound, p)
	}
	delete(s.files, p)
	return &emptypb.Empty{}, nil
}

func startBufServer(t *testing.T, srv FileChannelServer) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterFileChannelServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	return lis
}

func dialBuf(t *testing.T, lis *bufconn.Listener, token string) *GRPCChannel {
	t.Helper()
	ch, err := DialGRPC("passthrough:///bufnet", token,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	return ch
}

func TestGRPCChannel_Contract(t *testing.T) {
	lis := startBufServer(t, &memoryFileServer{files: map[string][]byte{}, token: "tok"})
	runChannelContract(t, dialBuf(t, lis, "tok"))
}

func TestGRPCChannel_Unauthenticated(t *testing.T) {
	lis := startBufServer(t, &memoryFileServer{files: map[string][]byte{}, token: "tok"})
	ch := dialBuf(t, lis, "wrong")
	defer ch.Close()

	_, err := ch.Exists(context.Background(), "db.pk")
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found", status.Error(codes.NotFound, "x"), ErrNotExist},
		{"canceled", status.Error(codes.Canceled, "x"), context.Canceled},
		{"deadline", status.Error(codes.DeadlineExceeded, "x"), context.DeadlineExceeded},
		{"unauthenticated", status.Error(codes.Unauthenticated, "x"), common.ErrInvalidToken},
		{"unavailable", status.Error(codes.Unavailable, "x"), ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapStatus("read", "p", tt.err), tt.want)
		})
	}
}
