package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/parrotkeeper/internal/flagx"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-v string          local vault file
//	-j string          sync journal file
//	-profile string    remote profile name
//	-rp string         vault file name on the remote
//	-remote string     remote kind: fs, s3, grpc or postgres
//	-dir string        fs remote root
//	-a string          grpc remote address
//	-token string      grpc remote access token
//	-b string          s3 bucket
//	-g string          s3 region
//	-e string          s3 endpoint
//	-dsn string        postgres DSN
//	-rounds uint       PBKDF2 rounds
//	-lock-attempts int remote lock attempts
//	-lock-backoff dur  pause between lock attempts
//	-timeout dur       sync timeout
//	-backups string    discard or timestamped
//	-autosave dur      autosave delay, 0 disables
//	-debug             debug logging
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-v", "-j", "-profile", "-rp", "-remote", "-dir", "-a", "-token", "-b", "-g", "-e", "-dsn",
		"-rounds", "-lock-attempts", "-lock-backoff", "-timeout", "-backups", "-autosave", "-debug",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.VaultPath, "v", config.VaultPath, "local vault file")
	fs.StringVar(&config.JournalPath, "j", config.JournalPath, "sync journal file")
	fs.StringVar(&config.Profile, "profile", config.Profile, "remote profile name")
	fs.StringVar(&config.RemotePath, "rp", config.RemotePath, "vault file name on the remote")

	kind := fs.String("remote", string(config.Remote.Kind), "remote kind (fs, s3, grpc, postgres)")
	fs.StringVar(&config.Remote.Root, "dir", config.Remote.Root, "fs remote root")
	fs.StringVar(&config.Remote.Address, "a", config.Remote.Address, "grpc remote address")
	fs.StringVar(&config.Remote.Token, "token", config.Remote.Token, "grpc remote access token")
	fs.StringVar(&config.Remote.Bucket, "b", config.Remote.Bucket, "s3 bucket")
	fs.StringVar(&config.Remote.Region, "g", config.Remote.Region, "s3 region")
	fs.StringVar(&config.Remote.Endpoint, "e", config.Remote.Endpoint, "s3 endpoint")
	fs.StringVar(&config.Remote.DSN, "dsn", config.Remote.DSN, "postgres DSN")

	rounds := fs.Uint("rounds", uint(config.KDFRounds), "PBKDF2 rounds")
	fs.IntVar(&config.LockAttempts, "lock-attempts", config.LockAttempts, "remote lock attempts")
	fs.DurationVar(&config.LockBackoff, "lock-backoff", config.LockBackoff, "pause between lock attempts")
	fs.DurationVar(&config.SyncTimeout, "timeout", config.SyncTimeout, "sync timeout, 0 for none")
	fs.StringVar(&config.Backups, "backups", config.Backups, "backup policy (discard, timestamped)")
	fs.DurationVar(&config.AutosaveDelay, "autosave", config.AutosaveDelay, "autosave delay, 0 disables")
	fs.BoolVar(&config.Verbose, "debug", config.Verbose, "debug logging")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.Remote.Kind = remote.Kind(*kind)
	config.KDFRounds = uint32(*rounds)
}
