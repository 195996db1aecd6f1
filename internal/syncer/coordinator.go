// Package syncer reconciles a local vault with a copy kept on a remote
// channel. One sync runs at a time per Coordinator: it takes a remote lock,
// repairs any interrupted upload, merges the remote copy into the local
// database and uploads the result through a rename-based swap.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/logging"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
	"github.com/dmitrijs2005/parrotkeeper/internal/vault"
)

const (
	DefaultLockAttempts  = 10
	DefaultLockBackoff   = time.Second
	DefaultUnlockTimeout = 10 * time.Second
)

// Request describes one sync.
type Request struct {
	// Profile names the remote in logs and the journal.
	Profile  string
	Channel  remote.Channel
	Path     string
	Database *vault.Database
	Password []byte
}

// Result is the outcome of a sync. Failures are reported here rather than
// as a returned error.
type Result struct {
	Profile  string
	Success  bool
	Err      error
	Uploaded bool
	// Merge is nil when the remote file did not exist.
	Merge *vault.MergeLog
	// UnlockErr is set when releasing the remote lock failed.
	UnlockErr error
	Started   time.Time
	Finished  time.Time
	Log       []string
}

type Option func(*Coordinator)

func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithLockAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.lockAttempts = n
		}
	}
}

func WithLockBackoff(d time.Duration) Option {
	return func(c *Coordinator) { c.lockBackoff = d }
}

func WithUnlockTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.unlockTimeout = d }
}

func WithBackupPolicy(p BackupPolicy) Option {
	return func(c *Coordinator) { c.backups = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator runs syncs one at a time.
type Coordinator struct {
	logger        logging.Logger
	lockAttempts  int
	lockBackoff   time.Duration
	unlockTimeout time.Duration
	backups       BackupPolicy
	now           func() time.Time

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *Result
}

func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:        logging.NewNopLogger(),
		lockAttempts:  DefaultLockAttempts,
		lockBackoff:   DefaultLockBackoff,
		unlockTimeout: DefaultUnlockTimeout,
		now:           time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

// begin claims the coordinator for one run.
func (c *Coordinator) begin(ctx context.Context) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return nil, common.ErrSyncInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	return ctx, nil
}

func (c *Coordinator) finish(res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
	c.cancel = nil
	c.last = res
	close(c.done)
	c.done = nil
}

// Run syncs in the calling goroutine. If another sync is in flight the
// result carries common.ErrSyncInProgress.
func (c *Coordinator) Run(ctx context.Context, req Request) *Result {
	ctx, err := c.begin(ctx)
	if err != nil {
		return &Result{Profile: req.Profile, Err: err, Started: c.now(), Finished: c.now()}
	}
	res := c.execute(ctx, req)
	c.finish(res)
	return res
}

// Start syncs in the background. Use Wait for the result.
func (c *Coordinator) Start(ctx context.Context, req Request) error {
	ctx, err := c.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		c.finish(c.execute(ctx, req))
	}()
	return nil
}

// Wait blocks until the in-flight sync, if any, is done and returns the
// most recent result. It returns nil if nothing has run yet.
func (c *Coordinator) Wait() *Result {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Abort cancels the in-flight sync and waits for its cleanup.
func (c *Coordinator) Abort() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
}

// run holds the state of one sync.
type run struct {
	c      *Coordinator
	req    Request
	res    *Result
	logger logging.Logger
}

func (r *run) logf(ctx context.Context, msg string, args ...any) {
	r.logger.Info(ctx, msg, args...)
	line := msg
	for i := 0; i+1 < len(args); i += 2 {
		line += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	r.res.Log = append(r.res.Log, line)
}

func (r *run) enter(ctx context.Context, s State) {
	r.c.setState(s)
	r.logf(ctx, "state", "state", s.String())
}

func (c *Coordinator) execute(ctx context.Context, req Request) (res *Result) {
	r := &run{
		c:      c,
		req:    req,
		res:    &Result{Profile: req.Profile, Started: c.now()},
		logger: c.logger.With("profile", req.Profile, "path", req.Path),
	}
	res = r.res
	defer func() {
		res.Finished = c.now()
		switch {
		case res.Err == nil:
			res.Success = true
			r.enter(ctx, StateIdle)
		case errors.Is(res.Err, context.Canceled):
			r.logger.Warn(ctx, "sync aborted")
			r.enter(ctx, StateIdle)
		default:
			r.logger.Error(ctx, "sync failed", "error", res.Err)
			r.res.Log = append(r.res.Log, "error: "+res.Err.Error())
			r.enter(ctx, StateFailed)
		}
	}()

	r.enter(ctx, StateConnecting)
	if err := validate(req); err != nil {
		res.Err = err
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	r.enter(ctx, StateLockPending)
	token, err := r.acquire(ctx)
	if err != nil {
		res.Err = err
		return res
	}

	defer func() {
		r.enter(ctx, StateUnlocking)
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.unlockTimeout)
		defer cancel()
		if err := r.release(uctx, token); err != nil {
			res.UnlockErr = err
			r.logger.Warn(ctx, "unlock failed", "error", err)
			r.res.Log = append(r.res.Log, "unlock failed: "+err.Error())
		}
	}()

	r.enter(ctx, StateSyncing)
	res.Err = r.sync(ctx)
	return res
}

func validate(req Request) error {
	switch {
	case req.Channel == nil:
		return fmt.Errorf("%w: no remote channel", common.ErrState)
	case req.Database == nil:
		return fmt.Errorf("%w: no database", common.ErrState)
	case strings.TrimSpace(req.Path) == "":
		return fmt.Errorf("%w: empty remote path", common.ErrState)
	}
	return nil
}

func (r *run) sync(ctx context.Context) error {
	ch, p := r.req.Channel, r.req.Path

	if err := r.repair(ctx); err != nil {
		return err
	}

	exists, err := ch.Exists(ctx, p)
	if err != nil {
		return err
	}
	if !exists {
		r.logf(ctx, "remote file missing, uploading local copy")
		return r.upload(ctx, false)
	}

	data, err := ch.Read(ctx, p)
	if err != nil {
		return err
	}
	remoteDB, err := vault.Unmarshal(ctx, data, r.req.Password,
		vault.WithEngine(r.req.Database.Engine()),
		vault.WithLogger(r.logger))
	if err != nil {
		return fmt.Errorf("remote %s: %w", p, err)
	}
	defer remoteDB.Close()

	if remoteDB.Root() != r.req.Database.Root() {
		return fmt.Errorf("%w: remote file holds a different vault", common.ErrState)
	}

	log, err := vault.Merge(ctx, remoteDB, r.req.Database, r.req.Password)
	if err != nil {
		return err
	}
	r.res.Merge = log
	r.logf(ctx, "merged remote copy", "changes", log.DestinationChanges(), "remote_stale", remoteDB.Dirty())

	if !remoteDB.Dirty() {
		return nil
	}
	return r.upload(ctx, true)
}

// repair restores a swap file left by an interrupted upload. The file it
// replaces is kept as a corrupted copy.
func (r *run) repair(ctx context.Context) error {
	ch, p := r.req.Channel, r.req.Path
	leftover, err := ch.Exists(ctx, swapPath(p))
	if err != nil || !leftover {
		return err
	}

	current, err := ch.Exists(ctx, p)
	if err != nil {
		return err
	}
	if current {
		aside := corruptedPath(p, r.c.now())
		if err := ch.Rename(ctx, p, aside); err != nil {
			return err
		}
		r.logf(ctx, "moved unfinished upload aside", "to", aside)
	}
	if err := ch.Rename(ctx, swapPath(p), p); err != nil {
		return err
	}
	r.logf(ctx, "restored previous remote file")
	return nil
}

// upload writes the local database to the remote path. An existing file is
// first renamed to the swap path so that it can be restored if the write
// does not complete.
func (r *run) upload(ctx context.Context, replace bool) error {
	ch, p := r.req.Channel, r.req.Path

	data, err := vault.Marshal(r.req.Database)
	if err != nil {
		return err
	}

	if replace {
		if err := ch.Rename(ctx, p, swapPath(p)); err != nil {
			return err
		}
	}
	if err := ch.Write(ctx, p, data); err != nil {
		if replace {
			r.restoreSwap(ctx)
		}
		return err
	}
	r.res.Uploaded = true
	r.logf(ctx, "uploaded", "bytes", len(data))

	if replace {
		r.retireSwap(ctx)
	}
	return nil
}

// retireSwap turns the swap file into a backup or drops it. The upload has
// already landed, so a failure here is only logged; the leftover swap file
// is restored by the next repair and the following merge converges again.
func (r *run) retireSwap(ctx context.Context) {
	ch, p := r.req.Channel, r.req.Path
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.c.unlockTimeout)
	defer cancel()

	switch r.c.backups {
	case TimestampedBackups:
		bp := backupPath(p, r.c.now())
		if err := ch.Rename(cctx, swapPath(p), bp); err != nil {
			r.logger.Warn(ctx, "keep backup after upload", "backup", bp, "error", err)
			return
		}
		r.logf(ctx, "kept backup", "backup", bp)
	default:
		if err := ch.Remove(cctx, swapPath(p)); err != nil {
			r.logger.Warn(ctx, "remove swap file after upload", "error", err)
		}
	}
}

// restoreSwap puts the previous file back after a failed write. If this
// fails too, the next sync recovers from the swap file.
func (r *run) restoreSwap(ctx context.Context) {
	ch, p := r.req.Channel, r.req.Path
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.c.unlockTimeout)
	defer cancel()

	if ok, _ := ch.Exists(cctx, p); ok {
		_ = ch.Remove(cctx, p)
	}
	if err := ch.Rename(cctx, swapPath(p), p); err != nil {
		r.logger.Warn(ctx, "restore after failed upload", "error", err)
		return
	}
	r.logf(ctx, "restored previous remote file")
}

// Download reads the remote vault without locking. It is used to create a
// local replica when none exists yet.
func Download(ctx context.Context, ch remote.Channel, path string, password []byte, opts ...vault.Option) (*vault.Database, error) {
	data, err := ch.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	d, err := vault.Unmarshal(ctx, data, password, opts...)
	if err != nil {
		return nil, err
	}
	d.SetDirty(true)
	return d, nil
}
