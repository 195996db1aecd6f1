package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
	"github.com/dmitrijs2005/parrotkeeper/internal/syncer"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	orig := os.Args
	t.Cleanup(func() { os.Args = orig })
	os.Args = append([]string{"testbin"}, args...)
}

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "parrotkeeper.pk", c.VaultPath)
	assert.Equal(t, remote.KindFS, c.Remote.Kind)
	assert.Equal(t, uint32(common.DefaultKDFRounds), c.KDFRounds)
	assert.Equal(t, syncer.DefaultLockAttempts, c.LockAttempts)
	assert.Equal(t, time.Second, c.LockBackoff)
	assert.Equal(t, 2*time.Second, c.AutosaveDelay)

	p, err := c.BackupPolicy()
	require.NoError(t, err)
	assert.Equal(t, syncer.DiscardBackups, p)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	withArgs(t)
	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	var want Config
	want.LoadDefaults()
	assert.Empty(t, cmp.Diff(&want, cfg))
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "grpc remote", args: []string{
			"-v", "/tmp/v.pk", "-profile", "work", "-remote", "grpc", "-a", "host:1", "-token", "tok",
			"-rounds", "5", "-lock-attempts", "3", "-lock-backoff", "250ms", "-timeout", "0s",
			"-backups", "timestamped", "-autosave", "0s", "-debug",
		},
			expected: &Config{
				VaultPath:    "/tmp/v.pk",
				Profile:      "work",
				Remote:       remote.Config{Kind: remote.KindGRPC, Address: "host:1", Token: "tok"},
				KDFRounds:    5,
				LockAttempts: 3,
				LockBackoff:  250 * time.Millisecond,
				Backups:      "timestamped",
				Verbose:      true,
			}},
		{name: "bad duration", args: []string{"-lock-backoff", "soon"}, expectPanic: true, expected: &Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withArgs(t, tt.args...)
			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	t.Run("toml with remote table", func(t *testing.T) {
		p := writeTemp(t, "cli.toml", `
vault_path = "/data/home.pk"
profile = "home"
lock_backoff = "2s"
sync_timeout = "0s"
backups = "timestamped"

[remote]
kind = "s3"
bucket = "vaults"
region = "eu-central-1"
`)
		withArgs(t, "-c", p)

		var cfg Config
		cfg.LoadDefaults()
		parseFile(&cfg)

		assert.Equal(t, "/data/home.pk", cfg.VaultPath)
		assert.Equal(t, "home", cfg.Profile)
		assert.Equal(t, 2*time.Second, cfg.LockBackoff)
		assert.Zero(t, cfg.SyncTimeout, "explicit zero disables the timeout")
		assert.Equal(t, remote.Config{Kind: remote.KindS3, Bucket: "vaults", Region: "eu-central-1"}, cfg.Remote)
		assert.Equal(t, 2*time.Second, cfg.AutosaveDelay, "absent keys keep defaults")
	})

	t.Run("json", func(t *testing.T) {
		p := writeTemp(t, "cli.json", `{"remote": {"kind": "postgres", "dsn": "postgres://x"}, "lock_attempts": 4}`)
		withArgs(t, "-config", p)

		var cfg Config
		cfg.LoadDefaults()
		parseFile(&cfg)

		assert.Equal(t, remote.KindPostgres, cfg.Remote.Kind)
		assert.Equal(t, "postgres://x", cfg.Remote.DSN)
		assert.Equal(t, 4, cfg.LockAttempts)
	})

	t.Run("no config flag leaves config unchanged", func(t *testing.T) {
		withArgs(t)
		cfg := &Config{VaultPath: "keep.pk"}
		parseFile(cfg)
		assert.Equal(t, "keep.pk", cfg.VaultPath)
	})

	t.Run("invalid file panics", func(t *testing.T) {
		withArgs(t, "-config", writeTemp(t, "bad.json", `{ this is not valid json`))
		require.Panics(t, func() { parseFile(&Config{}) })
	})
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	p := writeTemp(t, "cli.toml", "profile = \"from-file\"\n\n[remote]\nkind = \"fs\"\nroot = \"/file\"\n")
	withArgs(t, "-c", p, "-dir", "/flag")

	c := LoadConfig()
	assert.Equal(t, "from-file", c.Profile)
	assert.Equal(t, "/flag", c.Remote.Root)
}

func TestBackupPolicy_Unknown(t *testing.T) {
	c := Config{Backups: "forever"}
	_, err := c.BackupPolicy()
	assert.Error(t, err)
}
