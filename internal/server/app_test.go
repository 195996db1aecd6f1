package server

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
	"github.com/dmitrijs2005/parrotkeeper/internal/server/auth"
	"github.com/dmitrijs2005/parrotkeeper/internal/server/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	c.StorageDir = t.TempDir()
	c.EndpointAddrGRPC = "127.0.0.1:0"
	return c
}

func TestNewApp_OpensStore(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}
	if _, ok := app.store.(*remote.FSChannel); !ok {
		t.Fatalf("store = %T, want *remote.FSChannel", app.store)
	}
}

func TestNewApp_Errors(t *testing.T) {
	c := testConfig(t)
	c.Backend = remote.KindGRPC
	if _, err := NewApp(context.Background(), c); err == nil {
		t.Fatal("expected config error for grpc backend")
	}

	orig := dialStore
	t.Cleanup(func() { dialStore = orig })
	dialStore = func(context.Context, remote.Config) (remote.Channel, error) {
		return nil, errors.New("unreachable")
	}
	if _, err := NewApp(context.Background(), testConfig(t)); err == nil {
		t.Fatal("expected storage error")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop after cancel")
	}
}

func TestMintToken(t *testing.T) {
	c := testConfig(t)
	var buf bytes.Buffer
	if err := MintToken(&buf, c, "alice"); err != nil {
		t.Fatalf("MintToken error: %v", err)
	}

	subject, err := auth.SubjectFromToken(strings.TrimSpace(buf.String()), []byte(c.SecretKey))
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if subject != "alice" {
		t.Fatalf("subject = %q, want alice", subject)
	}
}
