package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
	"github.com/google/uuid"
)

// lockToken is the content of a lock marker.
type lockToken struct {
	Owner    string    `json:"owner"`
	Host     string    `json:"host"`
	Acquired time.Time `json:"acquired"`
}

func newLockToken(now time.Time) ([]byte, error) {
	host, _ := os.Hostname()
	return json.Marshal(lockToken{Owner: uuid.NewString(), Host: host, Acquired: now.UTC()})
}

// acquire writes the lock marker for path, waiting while someone else holds
// it. The marker is read back after writing; if another writer raced us the
// attempt counts as failed.
//
// The lock is advisory. Channels have no create-if-absent write, so two
// clients whose check, write and read-back interleave exactly can both see
// their own token. The swap file and the merge keep such a collision from
// losing the local replicas' data, but the remote file may then hold only
// one of the two uploads until the next sync.
func (r *run) acquire(ctx context.Context) ([]byte, error) {
	lp := lockPath(r.req.Path)
	token, err := newLockToken(r.c.now())
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= r.c.lockAttempts; attempt++ {
		held, err := r.req.Channel.Exists(ctx, lp)
		if err != nil {
			return nil, err
		}
		if !held {
			if err := r.req.Channel.Write(ctx, lp, token); err != nil {
				return nil, err
			}
			got, err := r.req.Channel.Read(ctx, lp)
			if err != nil && !remote.IsNotExist(err) {
				return nil, err
			}
			if bytes.Equal(got, token) {
				r.logf(ctx, "lock acquired", "attempt", attempt)
				return token, nil
			}
		}

		r.logf(ctx, "lock busy", "attempt", attempt, "of", r.c.lockAttempts)
		if attempt == r.c.lockAttempts {
			break
		}
		t := time.NewTimer(r.c.lockBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("%s: %w", lp, common.ErrLockTimeout)
}

// release removes the marker if it is still ours.
func (r *run) release(ctx context.Context, token []byte) error {
	lp := lockPath(r.req.Path)
	got, err := r.req.Channel.Read(ctx, lp)
	if remote.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !bytes.Equal(got, token) {
		return fmt.Errorf("%s: lock taken over by another owner: %w", lp, common.ErrState)
	}
	return r.req.Channel.Remove(ctx, lp)
}
