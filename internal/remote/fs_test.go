package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSChannel_Contract(t *testing.T) {
	ch, err := NewFSChannel(filepath.Join(t.TempDir(), "remote"))
	require.NoError(t, err)
	runChannelContract(t, ch)
}

func TestFSChannel_PathsStayUnderRoot(t *testing.T) {
	base := t.TempDir()
	ch, err := NewFSChannel(filepath.Join(base, "root"))
	require.NoError(t, err)

	require.NoError(t, ch.Write(context.Background(), "../../escape.pk", []byte("x")))

	_, err = os.Stat(filepath.Join(base, "escape.pk"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(base, "root", "escape.pk"))
	assert.NoError(t, err)
}

func TestFSChannel_CanceledContext(t *testing.T) {
	ch, err := NewFSChannel(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = ch.Read(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, ch.Write(ctx, "x", nil), context.Canceled)
}
