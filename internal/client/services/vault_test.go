package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPassword = []byte("hunter2")

func newService(t *testing.T, autosave time.Duration) *VaultService {
	t.Helper()
	s := NewVaultService(filepath.Join(t.TempDir(), "vault.pk"), 1, autosave, nil)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestVaultService_CreateOpenClose(t *testing.T) {
	ctx := context.Background()
	s := newService(t, 0)
	notes := s.Subscribe(8)

	_, err := s.DB()
	require.ErrorIs(t, err, common.ErrState)

	require.NoError(t, s.Create(ctx, testPassword))
	assert.True(t, s.Exists())
	assert.Equal(t, VaultOpened, (<-notes).Kind)

	db, err := s.DB()
	require.NoError(t, err)
	id, err := db.AddNode(db.Root(), "mail", []byte("secret"))
	require.NoError(t, err)

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, VaultSaved, (<-notes).Kind, "dirty vault is saved on close")
	assert.Equal(t, VaultClosed, (<-notes).Kind)
	require.NoError(t, s.Close(ctx), "second close is a no-op")

	require.NoError(t, s.Open(ctx, testPassword))
	db, err = s.DB()
	require.NoError(t, err)
	got, err := db.Secret(id)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(got))
}

func TestVaultService_CreateRefusesExisting(t *testing.T) {
	ctx := context.Background()
	s := newService(t, 0)
	require.NoError(t, s.Create(ctx, testPassword))
	require.NoError(t, s.Close(ctx))

	err := s.Create(ctx, testPassword)
	require.ErrorIs(t, err, common.ErrState)
}

func TestVaultService_OpenFailures(t *testing.T) {
	ctx := context.Background()
	s := newService(t, 0)

	err := s.Open(ctx, testPassword)
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, s.Create(ctx, testPassword))
	err = s.Open(ctx, testPassword)
	require.ErrorIs(t, err, common.ErrState, "already open")

	require.NoError(t, s.Close(ctx))
	err = s.Open(ctx, []byte("wrong"))
	require.ErrorIs(t, err, common.ErrCorruptedOrWrongPassword)
}

func TestVaultService_AdoptWritesReplica(t *testing.T) {
	ctx := context.Background()
	s := newService(t, 0)

	db, err := vault.New(testPassword, vault.WithRounds(1))
	require.NoError(t, err)
	_, err = db.AddNode(db.Root(), "x", nil)
	require.NoError(t, err)
	db.SetDirty(true)

	require.NoError(t, s.Adopt(ctx, db, testPassword))
	assert.False(t, db.Dirty())
	assert.True(t, s.Exists())

	pw, err := s.Password()
	require.NoError(t, err)
	assert.Equal(t, testPassword, pw)
}

func TestVaultService_Autosave(t *testing.T) {
	ctx := context.Background()
	s := newService(t, 10*time.Millisecond)
	notes := s.Subscribe(8)
	require.NoError(t, s.Create(ctx, testPassword))
	<-notes

	db, err := s.DB()
	require.NoError(t, err)
	_, err = db.AddNode(db.Root(), "x", []byte("y"))
	require.NoError(t, err)
	require.True(t, db.Dirty())

	select {
	case n := <-notes:
		assert.Equal(t, VaultSaved, n.Kind)
		assert.NoError(t, n.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("autosave did not run")
	}
	assert.False(t, db.Dirty())
}

func TestVaultService_ChangePassword(t *testing.T) {
	ctx := context.Background()
	s := newService(t, 0)
	require.NoError(t, s.Create(ctx, testPassword))

	next := []byte("correct horse")
	require.NoError(t, s.ChangePassword(ctx, next))
	require.NoError(t, s.Close(ctx))

	require.ErrorIs(t, s.Open(ctx, testPassword), common.ErrCorruptedOrWrongPassword)
	require.NoError(t, s.Open(ctx, next))
}

func TestVaultService_NoVaultOpen(t *testing.T) {
	ctx := context.Background()
	s := newService(t, 0)

	require.ErrorIs(t, s.Save(ctx), common.ErrState)
	require.ErrorIs(t, s.ChangePassword(ctx, testPassword), common.ErrState)
	_, err := s.Password()
	require.ErrorIs(t, err, common.ErrState)
}

func TestNotificationKind_String(t *testing.T) {
	assert.Equal(t, "opened", VaultOpened.String())
	assert.Equal(t, "closed", VaultClosed.String())
	assert.Equal(t, "saved", VaultSaved.String())
	assert.Equal(t, "unknown", NotificationKind(0).String())
}
