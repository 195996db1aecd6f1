// Package services contains application services for the parrotkeeper client.
// VaultService owns the open vault of a CLI session: creating, opening,
// saving and closing it, autosaving after edits and changing its password.
package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/logging"
	"github.com/dmitrijs2005/parrotkeeper/internal/shared"
	"github.com/dmitrijs2005/parrotkeeper/internal/vault"
)

// Session notifications published by VaultService.
type NotificationKind int

const (
	VaultOpened NotificationKind = iota + 1
	VaultClosed
	VaultSaved
)

func (k NotificationKind) String() string {
	switch k {
	case VaultOpened:
		return "opened"
	case VaultClosed:
		return "closed"
	case VaultSaved:
		return "saved"
	default:
		return "unknown"
	}
}

type Notification struct {
	Kind NotificationKind
	Path string
	Err  error
}

// VaultService holds at most one open vault. All methods are safe for
// concurrent use; the vault itself serializes node operations.
type VaultService struct {
	path     string
	rounds   uint32
	autosave time.Duration
	logger   logging.Logger

	mu       sync.Mutex
	db       *vault.Database
	password []byte
	stop     func()
	wg       sync.WaitGroup

	subsMu sync.Mutex
	subs   []chan Notification
}

// NewVaultService returns a service for the vault stored at path. rounds is
// used for new vaults and password changes; autosave 0 disables autosave.
func NewVaultService(path string, rounds uint32, autosave time.Duration, l logging.Logger) *VaultService {
	if l == nil {
		l = logging.NewNopLogger()
	}
	return &VaultService{path: path, rounds: rounds, autosave: autosave, logger: l}
}

// Path returns the vault file location.
func (s *VaultService) Path() string { return s.path }

// Subscribe returns a channel of session notifications. Delivery is
// fire-and-forget: a full channel drops the notification.
func (s *VaultService) Subscribe(buffer int) <-chan Notification {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Notification, buffer)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *VaultService) notify(n Notification) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Exists reports whether a vault file is present at the service path.
func (s *VaultService) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Create makes a fresh vault, writes it and keeps it open. It refuses to
// overwrite an existing file.
func (s *VaultService) Create(ctx context.Context, password []byte) error {
	if s.Exists() {
		return fmt.Errorf("%s already exists: %w", s.path, common.ErrState)
	}
	db, err := vault.New(password, vault.WithRounds(s.rounds), vault.WithLogger(s.logger))
	if err != nil {
		return err
	}
	return s.Adopt(ctx, db, password)
}

// Open decrypts the vault file and makes it the session vault.
func (s *VaultService) Open(ctx context.Context, password []byte) error {
	db, err := vault.Open(ctx, s.path, password, vault.WithLogger(s.logger))
	if err != nil {
		return err
	}
	if err := s.attach(ctx, db, password); err != nil {
		db.Close()
		return err
	}
	return nil
}

// Adopt makes db the session vault and saves it to the service path. It is
// used for new vaults and for replicas downloaded from a remote.
func (s *VaultService) Adopt(ctx context.Context, db *vault.Database, password []byte) error {
	if _, err := s.DB(); err == nil {
		db.Close()
		return fmt.Errorf("a vault is already open: %w", common.ErrState)
	}
	if err := vault.Save(ctx, db, s.path); err != nil {
		db.Close()
		return err
	}
	if err := s.attach(ctx, db, password); err != nil {
		db.Close()
		return err
	}
	return nil
}

func (s *VaultService) attach(ctx context.Context, db *vault.Database, password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return fmt.Errorf("a vault is already open: %w", common.ErrState)
	}
	s.db = db
	s.password = shared.CloneBytes(password)
	s.startAutosave(db)
	s.logger.Info(ctx, "vault opened", "path", s.path, "nodes", db.Len())
	s.notify(Notification{Kind: VaultOpened, Path: s.path})
	return nil
}

// startAutosave saves the vault once it has stayed dirty for the autosave
// delay. Caller holds s.mu.
func (s *VaultService) startAutosave(db *vault.Database) {
	if s.autosave <= 0 {
		s.stop = func() {}
		return
	}
	events, unsubscribe := db.Subscribe(8)
	done := make(chan struct{})
	s.stop = func() {
		close(done)
		unsubscribe()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.autosave)
		timer.Stop()
		defer timer.Stop()
		for {
			select {
			case <-done:
				return
			case e, ok := <-events:
				if !ok || e.Kind == vault.EventClosed {
					return
				}
				if e.Dirty {
					timer.Reset(s.autosave)
				} else {
					timer.Stop()
				}
			case <-timer.C:
				ctx := context.Background()
				if err := s.saveIfDirty(ctx, db); err != nil {
					s.logger.Warn(ctx, "autosave failed", "path", s.path, "error", err)
				}
			}
		}
	}()
}

func (s *VaultService) saveIfDirty(ctx context.Context, db *vault.Database) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != db || !db.Dirty() {
		return nil
	}
	return s.saveLocked(ctx)
}

func (s *VaultService) saveLocked(ctx context.Context) error {
	err := vault.Save(ctx, s.db, s.path)
	s.notify(Notification{Kind: VaultSaved, Path: s.path, Err: err})
	return err
}

// DB returns the open vault or ErrState when none is open.
func (s *VaultService) DB() (*vault.Database, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("no vault open: %w", common.ErrState)
	}
	return s.db, nil
}

// Password returns a copy of the session password; wipe it after use.
func (s *VaultService) Password() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("no vault open: %w", common.ErrState)
	}
	return shared.CloneBytes(s.password), nil
}

// Save writes the open vault to disk.
func (s *VaultService) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("no vault open: %w", common.ErrState)
	}
	return s.saveLocked(ctx)
}

// ChangePassword re-derives both keys of the open vault from password and
// saves the result.
func (s *VaultService) ChangePassword(ctx context.Context, password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("no vault open: %w", common.ErrState)
	}
	if err := s.db.ChangePassword(ctx, password, s.rounds); err != nil {
		return err
	}
	shared.WipeByteArray(s.password)
	s.password = shared.CloneBytes(password)
	return s.saveLocked(ctx)
}

// Close saves a dirty vault and closes it. Closing without an open vault
// is a no-op.
func (s *VaultService) Close(ctx context.Context) error {
	s.mu.Lock()
	db := s.db
	if db == nil {
		s.mu.Unlock()
		return nil
	}
	var err error
	if db.Dirty() {
		err = s.saveLocked(ctx)
	}
	s.stop()
	s.db = nil
	shared.WipeByteArray(s.password)
	s.password = nil
	s.mu.Unlock()

	s.wg.Wait()
	db.Close()
	s.logger.Info(ctx, "vault closed", "path", s.path)
	s.notify(Notification{Kind: VaultClosed, Path: s.path})
	if err != nil {
		return fmt.Errorf("save before close: %w", err)
	}
	return nil
}
