package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dmitrijs2005/parrotkeeper/internal/client/config"
	"github.com/dmitrijs2005/parrotkeeper/internal/client/journal"
	"github.com/dmitrijs2005/parrotkeeper/internal/client/services"
	"github.com/dmitrijs2005/parrotkeeper/internal/logging"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
	"github.com/dmitrijs2005/parrotkeeper/internal/syncer"
)

// App is one interactive CLI session.
type App struct {
	config      *config.Config
	logger      logging.Logger
	vault       *services.VaultService
	journal     journal.Repository
	coordinator *syncer.Coordinator
	dial        func(ctx context.Context, c remote.Config) (remote.Channel, error)
	reader      *bufio.Reader
	out         io.Writer
	closers     []func() error

	// syncWG tracks the goroutine that reports a background sync.
	syncWG sync.WaitGroup
}

// NewApp wires the vault service, the sync journal and the coordinator from c.
func NewApp(ctx context.Context, c *config.Config, l logging.Logger) (*App, error) {
	if l == nil {
		l = logging.NewNopLogger()
	}
	policy, err := c.BackupPolicy()
	if err != nil {
		return nil, err
	}

	j, err := journal.Open(ctx, c.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	coordinator := syncer.New(
		syncer.WithLogger(l),
		syncer.WithLockAttempts(c.LockAttempts),
		syncer.WithLockBackoff(c.LockBackoff),
		syncer.WithBackupPolicy(policy),
	)

	return &App{
		config:      c,
		logger:      l,
		vault:       services.NewVaultService(c.VaultPath, c.KDFRounds, c.AutosaveDelay, l),
		journal:     j,
		coordinator: coordinator,
		dial:        remote.Dial,
		reader:      bufio.NewReader(os.Stdin),
		out:         os.Stdout,
		closers:     []func() error{j.Close},
	}, nil
}

func (a *App) isOpen() bool {
	_, err := a.vault.DB()
	return err == nil
}

// status renders the prompt suffix: vault state, unsaved marker and a
// running sync.
func (a *App) status() string {
	s := " [locked]"
	if db, err := a.vault.DB(); err == nil {
		s = " [open]"
		if db.Dirty() {
			s = " [open*]"
		}
	}
	if st := a.coordinator.State(); st != syncer.StateIdle {
		s += " sync:" + st.String()
	}
	return s
}

// Run prints a greeting and blocks in the REPL until the user exits or
// input ends. The session is closed before Run returns.
func (a *App) Run(ctx context.Context) error {
	go a.watchVault(ctx, a.vault.Subscribe(16))

	printlnFn("parrotkeeper CLI (type 'help' for commands)")
	if a.vault.Exists() {
		printlnFn("Local vault found at", a.vault.Path(), "- type 'open' to unlock it")
	} else {
		printlnFn("No local vault at", a.vault.Path(), "- type 'init' or 'clone'")
	}
	if last, err := a.journal.Last(ctx, a.config.Profile); err == nil && last != nil {
		outcome := "succeeded"
		if !last.Success {
			outcome = "failed"
		}
		printlnFn("Last sync with", a.config.Profile, outcome, "at", last.Started.Local().Format("2006-01-02 15:04:05"))
	}

	runREPL(ctx, a, a.status, a.reader)
	return a.Shutdown(ctx)
}

// watchVault logs session notifications until ctx ends.
func (a *App) watchVault(ctx context.Context, notes <-chan services.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-notes:
			if n.Err != nil {
				a.logger.Warn(ctx, "vault "+n.Kind.String(), "path", n.Path, "error", n.Err)
				continue
			}
			a.logger.Debug(ctx, "vault "+n.Kind.String(), "path", n.Path)
		}
	}
}

// Shutdown aborts a running sync, closes the vault and releases the journal.
func (a *App) Shutdown(ctx context.Context) error {
	a.coordinator.Abort()
	a.syncWG.Wait()
	err := a.vault.Close(ctx)
	for _, c := range a.closers {
		if cerr := c(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
