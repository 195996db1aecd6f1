package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runChannelContract checks the behaviour every backend must share.
func runChannelContract(t *testing.T, ch Channel) {
	t.Helper()
	ctx := context.Background()

	ok, err := ch.Exists(ctx, "vault.pk")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ch.Read(ctx, "vault.pk")
	assert.ErrorIs(t, err, ErrNotExist)
	assert.True(t, IsNotExist(err))

	require.NoError(t, ch.Write(ctx, "vault.pk", []byte("v1")))
	ok, err = ch.Exists(ctx, "vault.pk")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ch.Write(ctx, "vault.pk", []byte("v2")))
	data, err := ch.Read(ctx, "vault.pk")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	require.NoError(t, ch.Write(ctx, "vault.pk.sync", []byte("old")))
	require.NoError(t, ch.Rename(ctx, "vault.pk", "vault.pk.sync"))
	ok, err = ch.Exists(ctx, "vault.pk")
	require.NoError(t, err)
	assert.False(t, ok)
	data, err = ch.Read(ctx, "vault.pk.sync")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data), "rename replaces the target")

	assert.ErrorIs(t, ch.Rename(ctx, "missing", "other"), ErrNotExist)

	require.NoError(t, ch.Remove(ctx, "vault.pk.sync"))
	assert.ErrorIs(t, ch.Remove(ctx, "vault.pk.sync"), ErrNotExist)

	require.NoError(t, ch.Close())
}
