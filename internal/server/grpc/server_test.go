package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/logging"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
	"github.com/dmitrijs2005/parrotkeeper/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type nopLogger struct{}

func (n nopLogger) Debug(context.Context, string, ...any) {}
func (n nopLogger) Info(context.Context, string, ...any)  {}
func (n nopLogger) Warn(context.Context, string, ...any)  {}
func (n nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger            { return n }

const testSecret = "secret"

func newFSStore(t *testing.T) *remote.FSChannel {
	t.Helper()
	store, err := remote.NewFSChannel(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSChannel error: %v", err)
	}
	return store
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:0", nopLogger{}, newFSStore(t), testSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:99999", nopLogger{}, newFSStore(t), testSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Run(ctx); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}

// dialClient starts the server on an in-memory listener and returns a
// client channel authenticated as subject.
func dialClient(t *testing.T, store remote.Channel, subject string) *remote.GRPCChannel {
	t.Helper()

	s := NewGRPCServer("bufnet", nopLogger{}, store, testSecret)
	lis := bufconn.Listen(1 << 20)
	srv := s.newServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	token, err := auth.GenerateToken(subject, []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	ch, err := remote.DialGRPC("passthrough:///bufnet", token,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("DialGRPC error: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func TestEndToEnd_ClientAgainstServer(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)
	ch := dialClient(t, store, "alice")

	if err := ch.Write(ctx, "home.pk", []byte("v1")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if err := ch.Rename(ctx, "home.pk", "home.pk.sync"); err != nil {
		t.Fatalf("Rename error: %v", err)
	}

	data, err := store.Read(ctx, "alice/home.pk.sync")
	if err != nil {
		t.Fatalf("file not stored under subject: %v", err)
	}
	if string(data) != "v1" {
		t.Fatalf("unexpected content %q", data)
	}

	if _, err := ch.Read(ctx, "home.pk"); !remote.IsNotExist(err) {
		t.Fatalf("expected not-exist after rename, got %v", err)
	}
	if err := ch.Remove(ctx, "home.pk.sync"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	ok, err := ch.Exists(ctx, "home.pk.sync")
	if err != nil || ok {
		t.Fatalf("Exists = %v, %v; want false, nil", ok, err)
	}
}

func TestEndToEnd_SubjectsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)
	alice := dialClient(t, store, "alice")
	bob := dialClient(t, store, "bob")

	if err := alice.Write(ctx, "../bob/home.pk", []byte("sneaky")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if ok, _ := bob.Exists(ctx, "home.pk"); ok {
		t.Fatal("alice wrote into bob's namespace")
	}
	if ok, _ := alice.Exists(ctx, "bob/home.pk"); !ok {
		t.Fatal("expected the path to stay inside alice's namespace")
	}
}
