package cryptox

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptedValue_CloneIsDeep(t *testing.T) {
	v := &EncryptedValue{ID: uuid.New(), Modified: time.UnixMilli(100), Cipher: AES256CBC, IV: []byte{1, 2}, Data: []byte{3, 4}}
	c := v.Clone()
	require.True(t, v.Equal(c))

	c.Data[0] = 9
	assert.False(t, v.Equal(c))
	assert.Equal(t, byte(3), v.Data[0])

	var nilValue *EncryptedValue
	assert.Nil(t, nilValue.Clone())
	assert.True(t, nilValue.Equal(nil))
	assert.False(t, nilValue.Equal(v))
}

func TestEncryptedValue_RekeyedKeepsIdentity(t *testing.T) {
	e := NewEngine()
	key, err := e.DeriveKey([]byte("pw"), []byte("salt"), 1)
	require.NoError(t, err)

	old, err := e.Encrypt(key, []byte("x"))
	require.NoError(t, err)
	old.Modified = time.UnixMilli(42)

	fresh, err := e.Encrypt(key, []byte("x"))
	require.NoError(t, err)

	r := old.Rekeyed(fresh)
	assert.Equal(t, old.ID, r.ID)
	assert.True(t, r.Modified.Equal(time.UnixMilli(42)))
	assert.Equal(t, fresh.Data, r.Data)
}

func TestCipher_String(t *testing.T) {
	assert.Equal(t, "aes-256-cbc", AES256CBC.String())
	assert.Equal(t, "unknown", Cipher(0).String())
}
