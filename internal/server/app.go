// Package server initializes and runs the parrotkeeper remote host: it
// opens the configured storage backend, serves it over gRPC and shuts down
// gracefully on SIGINT/SIGTERM.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/parrotkeeper/internal/logging"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
	"github.com/dmitrijs2005/parrotkeeper/internal/server/auth"
	"github.com/dmitrijs2005/parrotkeeper/internal/server/config"

	gs "github.com/dmitrijs2005/parrotkeeper/internal/server/grpc"
)

type App struct {
	config *config.Config
	logger logging.Logger
	store  remote.Channel
}

// dialStore is a seam for tests.
var dialStore = remote.Dial

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	slog := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slog)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	store, err := dialStore(ctx, c.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	return &App{config: c, logger: logger, store: store}, nil
}

// MintToken writes a signed token for subject to w.
func MintToken(w io.Writer, c *config.Config, subject string) error {
	token, err := auth.GenerateToken(subject, []byte(c.SecretKey), c.TokenValidity)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.store, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "backend", string(app.config.Backend))

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.store.Close(); err != nil {
		app.logger.Error(ctx, "closing storage", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
}
