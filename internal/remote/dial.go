package remote

import (
	"context"
	"fmt"
)

type Kind string

const (
	KindFS       Kind = "fs"
	KindS3       Kind = "s3"
	KindGRPC     Kind = "grpc"
	KindPostgres Kind = "postgres"
)

// Config selects and configures one backend. Only the fields of the
// chosen kind are read.
type Config struct {
	Kind Kind `json:"kind" toml:"kind"`

	// fs
	Root string `json:"root,omitempty" toml:"root,omitempty"`

	// s3
	Bucket    string `json:"bucket,omitempty" toml:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty" toml:"prefix,omitempty"`
	Region    string `json:"region,omitempty" toml:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty" toml:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty" toml:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty" toml:"secret_key,omitempty"`

	// grpc
	Address string `json:"address,omitempty" toml:"address,omitempty"`
	Token   string `json:"token,omitempty" toml:"token,omitempty"`

	// postgres
	DSN string `json:"dsn,omitempty" toml:"dsn,omitempty"`
}

// Dial opens the backend described by c.
func Dial(ctx context.Context, c Config) (Channel, error) {
	switch c.Kind {
	case KindFS, "":
		return NewFSChannel(c.Root)
	case KindS3:
		return NewS3Channel(ctx, S3Config{
			Bucket:    c.Bucket,
			Prefix:    c.Prefix,
			Region:    c.Region,
			Endpoint:  c.Endpoint,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
		})
	case KindGRPC:
		return DialGRPC(c.Address, c.Token)
	case KindPostgres:
		return OpenPostgres(ctx, c.DSN)
	default:
		return nil, fmt.Errorf("unknown remote kind %q", c.Kind)
	}
}
