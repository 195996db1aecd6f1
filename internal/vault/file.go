package vault

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/filex"
)

const filePerm = 0o600

// Open reads and decrypts the vault at path.
func Open(ctx context.Context, path string, password []byte, opts ...Option) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open %s: %w", path, common.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return Unmarshal(ctx, data, password, opts...)
}

// Save writes the vault to path atomically and clears the dirty flag. The
// database stays locked until the file is in place.
func Save(ctx context.Context, d *Database, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := d.marshalLocked()
	if err != nil {
		return err
	}
	if err := filex.WriteFileAtomic(path, data, filePerm); err != nil {
		return err
	}
	d.setDirtyLocked(false)
	d.logger.Debug(ctx, "vault saved", "path", path, "bytes", len(data))
	return nil
}
