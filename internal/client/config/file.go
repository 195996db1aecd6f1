package config

import (
	"os"

	"github.com/dmitrijs2005/parrotkeeper/internal/flagx"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
	"github.com/dmitrijs2005/parrotkeeper/internal/timex"
)

// FileConfig is the on-disk shape of Config. Zero values leave the current
// setting untouched.
type FileConfig struct {
	VaultPath     string          `json:"vault_path" toml:"vault_path"`
	JournalPath   string          `json:"journal_path" toml:"journal_path"`
	Profile       string          `json:"profile" toml:"profile"`
	RemotePath    string          `json:"remote_path" toml:"remote_path"`
	Remote        *remote.Config  `json:"remote" toml:"remote"`
	KDFRounds     uint32          `json:"kdf_rounds" toml:"kdf_rounds"`
	LockAttempts  int             `json:"lock_attempts" toml:"lock_attempts"`
	LockBackoff   *timex.Duration `json:"lock_backoff" toml:"lock_backoff"`
	SyncTimeout   *timex.Duration `json:"sync_timeout" toml:"sync_timeout"`
	Backups       string          `json:"backups" toml:"backups"`
	AutosaveDelay *timex.Duration `json:"autosave_delay" toml:"autosave_delay"`
	Verbose       bool            `json:"verbose" toml:"verbose"`
}

// parseFile loads the file named by -c/-config, if any. A file that cannot
// be read or decoded panics.
func parseFile(config *Config) {
	path := flagx.ConfigFileFlag(os.Args[1:])

	// nothing to load
	if path == "" {
		return
	}

	c := &FileConfig{}
	if err := flagx.DecodeConfigFile(path, c); err != nil {
		panic(err)
	}
	c.apply(config)
}

func (c *FileConfig) apply(config *Config) {
	setString(&config.VaultPath, c.VaultPath)
	setString(&config.JournalPath, c.JournalPath)
	setString(&config.Profile, c.Profile)
	setString(&config.RemotePath, c.RemotePath)
	if c.Remote != nil {
		config.Remote = *c.Remote
	}
	if c.KDFRounds != 0 {
		config.KDFRounds = c.KDFRounds
	}
	if c.LockAttempts != 0 {
		config.LockAttempts = c.LockAttempts
	}
	// Explicit zero durations are meaningful (no timeout, no autosave).
	if c.LockBackoff != nil {
		config.LockBackoff = c.LockBackoff.Duration
	}
	if c.SyncTimeout != nil {
		config.SyncTimeout = c.SyncTimeout.Duration
	}
	setString(&config.Backups, c.Backups)
	if c.AutosaveDelay != nil {
		config.AutosaveDelay = c.AutosaveDelay.Duration
	}
	config.Verbose = config.Verbose || c.Verbose
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
