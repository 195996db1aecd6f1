package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
	"github.com/dmitrijs2005/parrotkeeper/internal/syncer"
)

// Config holds runtime settings for the parrotkeeper CLI.
//
// Fields:
//   - VaultPath: local vault file.
//   - JournalPath: sqlite file recording sync outcomes.
//   - Profile: name of the remote, used in logs and the journal.
//   - RemotePath: file name of the vault on the remote.
//   - Remote: backend selection, see remote.Config.
//   - KDFRounds: PBKDF2 rounds for new vaults and password changes.
//   - LockAttempts / LockBackoff: remote lock polling.
//   - SyncTimeout: upper bound for one sync, 0 for none.
//   - Backups: "discard" or "timestamped".
//   - AutosaveDelay: how long a dirty vault waits before it is saved, 0 disables autosave.
//   - Verbose: log at debug level.
type Config struct {
	VaultPath     string
	JournalPath   string
	Profile       string
	RemotePath    string
	Remote        remote.Config
	KDFRounds     uint32
	LockAttempts  int
	LockBackoff   time.Duration
	SyncTimeout   time.Duration
	Backups       string
	AutosaveDelay time.Duration
	Verbose       bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.VaultPath = "parrotkeeper.pk"
	c.JournalPath = "parrotkeeper-journal.db"
	c.Profile = "default"
	c.RemotePath = "parrotkeeper.pk"
	c.Remote = remote.Config{Kind: remote.KindFS, Root: "parrotkeeper-remote"}
	c.KDFRounds = common.DefaultKDFRounds
	c.LockAttempts = syncer.DefaultLockAttempts
	c.LockBackoff = syncer.DefaultLockBackoff
	c.SyncTimeout = 2 * time.Minute
	c.Backups = "discard"
	c.AutosaveDelay = 2 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// the config file (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg)
	parseFlags(cfg)
	return cfg
}

// BackupPolicy maps Backups onto the sync coordinator's policy.
func (c *Config) BackupPolicy() (syncer.BackupPolicy, error) {
	switch c.Backups {
	case "", "discard":
		return syncer.DiscardBackups, nil
	case "timestamped":
		return syncer.TimestampedBackups, nil
	default:
		return 0, fmt.Errorf("unknown backup policy %q", c.Backups)
	}
}
