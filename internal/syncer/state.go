package syncer

import "time"

// State is the coordinator's position in a sync run.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateLockPending
	StateSyncing
	StateUnlocking
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateLockPending:
		return "lock-pending"
	case StateSyncing:
		return "syncing"
	case StateUnlocking:
		return "unlocking"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// BackupPolicy decides what happens to the previous remote file after a
// successful upload.
type BackupPolicy int

const (
	// DiscardBackups deletes the previous file.
	DiscardBackups BackupPolicy = iota
	// TimestampedBackups keeps it as <path>.backup.<yyyyMMddHHmmss>.
	TimestampedBackups
)

const stampLayout = "20060102150405"

func lockPath(p string) string { return p + ".lock" }

func swapPath(p string) string { return p + ".sync" }

func stamp(t time.Time) string { return t.UTC().Format(stampLayout) }

func backupPath(p string, t time.Time) string { return p + ".backup." + stamp(t) }

func corruptedPath(p string, t time.Time) string { return p + ".corrupted." + stamp(t) }
