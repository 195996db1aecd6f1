package config

import (
	"os"

	"github.com/dmitrijs2005/parrotkeeper/internal/flagx"
	"github.com/dmitrijs2005/parrotkeeper/internal/remote"
	"github.com/dmitrijs2005/parrotkeeper/internal/timex"
)

// FileConfig is the on-disk shape of the server configuration. It uses
// timex.Duration so that durations may be written as "24h" or as integer
// nanoseconds. Empty fields leave the current value untouched.
type FileConfig struct {
	EndpointAddrGRPC string         `json:"endpoint_addr_grpc" toml:"endpoint_addr_grpc"`
	Backend          string         `json:"backend" toml:"backend"`
	StorageDir       string         `json:"storage_dir" toml:"storage_dir"`
	DatabaseDSN      string         `json:"database_dsn" toml:"database_dsn"`
	SecretKey        string         `json:"secret_key" toml:"secret_key"`
	TokenValidity    timex.Duration `json:"token_validity" toml:"token_validity"`
	S3RootUser       string         `json:"s3_root_user" toml:"s3_root_user"`
	S3RootPassword   string         `json:"s3_root_password" toml:"s3_root_password"`
	S3Bucket         string         `json:"s3_bucket" toml:"s3_bucket"`
	S3Region         string         `json:"s3_region" toml:"s3_region"`
	S3BaseEndpoint   string         `json:"s3_base_endpoint" toml:"s3_base_endpoint"`
	S3Prefix         string         `json:"s3_prefix" toml:"s3_prefix"`
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

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	if c.Backend != "" {
		config.Backend = remote.Kind(c.Backend)
	}
	setString(&config.StorageDir, c.StorageDir)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	if c.TokenValidity.Duration != 0 {
		config.TokenValidity = c.TokenValidity.Duration
	}
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3Prefix, c.S3Prefix)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
