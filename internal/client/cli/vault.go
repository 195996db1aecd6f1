package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/shared"
	"github.com/dmitrijs2005/parrotkeeper/internal/syncer"
	"github.com/dmitrijs2005/parrotkeeper/internal/vault"
)

// Init creates a new local vault protected by a freshly entered password.
func (a *App) Init(ctx context.Context, _ []string) error {
	if a.vault.Exists() {
		return fmt.Errorf("%s already exists, use 'open': %w", a.vault.Path(), common.ErrState)
	}
	pw, err := GetNewPassword(a.out)
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(pw)

	if err := a.vault.Create(ctx, pw); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Vault created at", a.vault.Path())
	return nil
}

// Open unlocks the local vault.
func (a *App) Open(ctx context.Context, _ []string) error {
	if a.isOpen() {
		return fmt.Errorf("vault is already open: %w", common.ErrState)
	}
	pw, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(pw)

	if err := a.vault.Open(ctx, pw); err != nil {
		return err
	}
	db, _ := a.vault.DB()
	fmt.Fprintf(a.out, "Vault opened, %d nodes\n", db.Len())
	return nil
}

// Clone downloads the remote vault and makes it the local one. It refuses
// to replace an existing local vault; use sync for that.
func (a *App) Clone(ctx context.Context, _ []string) error {
	if a.isOpen() || a.vault.Exists() {
		return fmt.Errorf("a local vault already exists, use 'sync': %w", common.ErrState)
	}
	pw, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(pw)

	ch, err := a.dial(ctx, a.config.Remote)
	if err != nil {
		return err
	}
	defer ch.Close()

	db, err := syncer.Download(ctx, ch, a.config.RemotePath, pw, vault.WithLogger(a.logger))
	if err != nil {
		return err
	}
	if err := a.vault.Adopt(ctx, db, pw); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Cloned %s from %s, %d nodes\n", a.config.RemotePath, a.config.Profile, db.Len())
	return nil
}

// Close saves and locks the vault. A running sync is aborted first.
func (a *App) Close(ctx context.Context, _ []string) error {
	if !a.isOpen() {
		return fmt.Errorf("no vault open: %w", common.ErrState)
	}
	a.coordinator.Abort()
	a.syncWG.Wait()
	if err := a.vault.Close(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Vault closed")
	return nil
}

func (a *App) Save(ctx context.Context, _ []string) error {
	if err := a.vault.Save(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Saved")
	return nil
}

// Passwd re-keys the open vault under a new password.
func (a *App) Passwd(ctx context.Context, _ []string) error {
	if !a.isOpen() {
		return fmt.Errorf("no vault open: %w", common.ErrState)
	}
	pw, err := GetNewPassword(a.out)
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(pw)

	if err := a.vault.ChangePassword(ctx, pw); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password changed")
	return nil
}
