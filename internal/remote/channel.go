// Package remote abstracts the file store a vault is synchronised with.
// Backends are a local directory, an S3 bucket, a parrotkeeper server over
// gRPC and a PostgreSQL table; the sync coordinator only sees Channel.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
)

var (
	// ErrNotExist reports a missing remote file. It matches common.ErrNotFound.
	ErrNotExist = fmt.Errorf("remote file %w", common.ErrNotFound)
	// ErrTransport reports a backend failure unrelated to file presence.
	ErrTransport = common.ErrTransport
)

// Channel is a flat namespace of small files addressed by slash-separated
// paths.
type Channel interface {
	Exists(ctx context.Context, path string) (bool, error)
	// Read returns ErrNotExist when the file is missing.
	Read(ctx context.Context, path string) ([]byte, error)
	// Write creates or replaces the file.
	Write(ctx context.Context, path string, data []byte) error
	// Rename moves from onto to, replacing to if present. It returns
	// ErrNotExist when from is missing.
	Rename(ctx context.Context, from, to string) error
	// Remove returns ErrNotExist when the file is missing.
	Remove(ctx context.Context, path string) error
	Close() error
}

// IsNotExist reports whether err means the remote file is absent.
func IsNotExist(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}

func transportError(op, path string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, path, ErrTransport, err)
}

func notExist(op, path string) error {
	return fmt.Errorf("%s %s: %w", op, path, ErrNotExist)
}
