package cryptox

import (
	"bytes"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/shared"
	"github.com/google/uuid"
)

// Cipher tags the algorithm an EncryptedValue was sealed with.
type Cipher uint8

const (
	// AES256CBC is AES-256-CBC with PKCS#7 padding and an HMAC-SHA256 tag
	// appended to the ciphertext.
	AES256CBC Cipher = iota + 1
)

func (c Cipher) String() string {
	switch c {
	case AES256CBC:
		return "aes-256-cbc"
	default:
		return "unknown"
	}
}

// EncryptedValue is an opaque sealed secret. Only Engine interprets IV and
// Data; everything else treats the value as a blob with an identity.
type EncryptedValue struct {
	// ID identifies the logical value; it survives re-encryption.
	ID uuid.UUID
	// Modified is when the value was created.
	Modified time.Time
	Cipher   Cipher
	IV       []byte
	Data     []byte
}

// Clone returns a deep copy. A nil receiver yields nil.
func (v *EncryptedValue) Clone() *EncryptedValue {
	if v == nil {
		return nil
	}
	return &EncryptedValue{
		ID:       v.ID,
		Modified: v.Modified,
		Cipher:   v.Cipher,
		IV:       shared.CloneBytes(v.IV),
		Data:     shared.CloneBytes(v.Data),
	}
}

// Equal reports whether two values are byte-for-byte identical, including
// identity and timestamp. Two nils are equal.
func (v *EncryptedValue) Equal(o *EncryptedValue) bool {
	if v == nil || o == nil {
		return v == o
	}
	return v.ID == o.ID &&
		v.Modified.Equal(o.Modified) &&
		v.Cipher == o.Cipher &&
		bytes.Equal(v.IV, o.IV) &&
		bytes.Equal(v.Data, o.Data)
}

// Rekeyed returns a copy of fresh carrying v's identity and timestamp. It is
// used when a value is re-encrypted under another key.
func (v *EncryptedValue) Rekeyed(fresh *EncryptedValue) *EncryptedValue {
	out := fresh.Clone()
	out.ID = v.ID
	out.Modified = v.Modified
	return out
}
