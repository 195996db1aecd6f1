package remote

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/dmitrijs2005/parrotkeeper/internal/filex"
)

// FSChannel stores files under a local root directory. Paths cannot escape
// the root.
type FSChannel struct {
	root string
}

func NewFSChannel(root string) (*FSChannel, error) {
	abs, err := filex.EnsureDir(root)
	if err != nil {
		return nil, transportError("open", root, err)
	}
	return &FSChannel{root: abs}, nil
}

func (c *FSChannel) resolve(p string) string {
	return filepath.Join(c.root, filepath.FromSlash(path.Clean("/"+p)))
}

func (c *FSChannel) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := filex.Exists(c.resolve(p))
	if err != nil {
		return false, transportError("exists", p, err)
	}
	return ok, nil
}

func (c *FSChannel) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.resolve(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notExist("read", p)
	}
	if err != nil {
		return nil, transportError("read", p, err)
	}
	return data, nil
}

func (c *FSChannel) Write(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := filex.WriteFileAtomic(c.resolve(p), data, 0o600); err != nil {
		return transportError("write", p, err)
	}
	return nil
}

func (c *FSChannel) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Rename(c.resolve(from), c.resolve(to))
	if errors.Is(err, fs.ErrNotExist) {
		return notExist("rename", from)
	}
	if err != nil {
		return transportError("rename", from, err)
	}
	return nil
}

func (c *FSChannel) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(c.resolve(p))
	if errors.Is(err, fs.ErrNotExist) {
		return notExist("remove", p)
	}
	if err != nil {
		return transportError("remove", p, err)
	}
	return nil
}

func (c *FSChannel) Close() error { return nil }
