package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/parrotkeeper/internal/client/journal"
	"github.com/dmitrijs2005/parrotkeeper/internal/shared"
	"github.com/dmitrijs2005/parrotkeeper/internal/syncer"
)

// Sync starts a background sync of the open vault with the configured
// remote. With -w it waits for the outcome.
func (a *App) Sync(ctx context.Context, args []string) error {
	db, err := a.vault.DB()
	if err != nil {
		return err
	}
	pw, err := a.vault.Password()
	if err != nil {
		return err
	}
	ch, err := a.dial(ctx, a.config.Remote)
	if err != nil {
		shared.WipeByteArray(pw)
		return err
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if a.config.SyncTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, a.config.SyncTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	err = a.coordinator.Start(runCtx, syncer.Request{
		Profile:  a.config.Profile,
		Channel:  ch,
		Path:     a.config.RemotePath,
		Database: db,
		Password: pw,
	})
	if err != nil {
		cancel()
		_ = ch.Close()
		shared.WipeByteArray(pw)
		return err
	}
	fmt.Fprintln(a.out, "Sync started, 'abort' cancels it")

	a.syncWG.Add(1)
	go func() {
		defer a.syncWG.Done()
		defer shared.WipeByteArray(pw)
		defer cancel()
		defer ch.Close()
		a.report(ctx, a.coordinator.Wait())
	}()

	if _, wait := splitFlag(args, "-w"); wait {
		a.syncWG.Wait()
	}
	return nil
}

// report journals a finished sync, saves merged changes and tells the user.
func (a *App) report(ctx context.Context, res *syncer.Result) {
	if res == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if _, err := a.journal.Append(ctx, journal.FromResult(res)); err != nil {
		a.logger.Warn(ctx, "journal append failed", "error", err)
	}

	if !res.Success {
		fmt.Fprintln(a.out, "Sync failed:", res.Err)
		return
	}
	if db, err := a.vault.DB(); err == nil && db.Dirty() {
		if err := a.vault.Save(ctx); err != nil {
			fmt.Fprintln(a.out, "Saving merged vault failed:", err)
		}
	}
	changes := 0
	if res.Merge != nil {
		changes = res.Merge.DestinationChanges()
	}
	msg := fmt.Sprintf("Sync done: %d remote changes merged", changes)
	if res.Uploaded {
		msg += ", remote updated"
	}
	if res.UnlockErr != nil {
		msg += ", remote lock left behind: " + res.UnlockErr.Error()
	}
	fmt.Fprintln(a.out, msg)
}

// Abort cancels a running sync and waits for it to clean up.
func (a *App) Abort(_ context.Context, _ []string) error {
	if a.coordinator.State() == syncer.StateIdle || a.coordinator.State() == syncer.StateFailed {
		fmt.Fprintln(a.out, "No sync running")
		return nil
	}
	a.coordinator.Abort()
	a.syncWG.Wait()
	return nil
}

// Journal prints the most recent syncs, newest first.
func (a *App) Journal(ctx context.Context, args []string) error {
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return usage("journal [n]")
		}
		limit = n
	}
	entries, err := a.journal.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "(no syncs yet)")
		return nil
	}
	for _, e := range entries {
		outcome := "ok"
		if !e.Success {
			outcome = "failed: " + e.Error
		}
		var flags []string
		if e.Uploaded {
			flags = append(flags, "uploaded")
		}
		if e.Changes > 0 {
			flags = append(flags, fmt.Sprintf("%d merged", e.Changes))
		}
		fmt.Fprintf(a.out, "%4d  %s  %-10s %s %s\n",
			e.ID, e.Started.Local().Format("2006-01-02 15:04:05"), e.Profile, outcome, strings.Join(flags, ","))
	}
	return nil
}
