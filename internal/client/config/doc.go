// Package config loads runtime configuration for the parrotkeeper CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file selected with -c or -config. Files ending in
//     .toml are read as TOML, anything else as JSON.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # File schema
//
// Durations use timex.Duration, so they may be strings like "3s" or integer
// nanoseconds. The remote table follows remote.Config:
//
//	vault_path = "~/.parrotkeeper/home.pk"
//	profile = "home"
//	lock_attempts = 10
//	lock_backoff = "1s"
//	backups = "timestamped"
//
//	[remote]
//	kind = "s3"
//	bucket = "vaults"
//	region = "eu-central-1"
//
// Note: This package does not read environment variables directly; use the
// config file or flags to configure values.
package config
