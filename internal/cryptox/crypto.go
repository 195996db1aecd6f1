// Package cryptox implements the vault's crypto engine: PBKDF2 key
// derivation and the AES-256-CBC envelope used for every stored secret.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/shared"
	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the length of derived keys (AES-256).
	KeySize = 32
	// IVSize is the CBC initialisation vector length.
	IVSize = aes.BlockSize
	// MinSaltSize and MaxSaltSize bound the random salt length.
	MinSaltSize = 32
	MaxSaltSize = 64

	tagSize = sha256.Size
)

var macLabel = []byte("parrotkeeper/envelope-mac")

// SecretKey is derived key material. It is never serialized.
type SecretKey []byte

// Equal reports whether two keys hold the same material.
func (k SecretKey) Equal(o SecretKey) bool {
	return len(k) == len(o) && hmac.Equal(k, o)
}

// Wipe zeroes the key in place.
func (k SecretKey) Wipe() {
	shared.WipeByteArray(k)
}

// Engine performs key derivation and envelope encryption. The zero value is
// not usable; construct it with NewEngine.
type Engine struct {
	random io.Reader
	now    func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithRandom replaces the randomness source used for salts and IVs.
func WithRandom(r io.Reader) Option {
	return func(e *Engine) { e.random = r }
}

// WithClock replaces the clock used to stamp new values.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an Engine reading from crypto/rand.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{random: rand.Reader, now: Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Now returns the current time truncated to millisecond precision, the
// resolution timestamps are persisted with.
func Now() time.Time {
	return time.UnixMilli(time.Now().UnixMilli())
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// DeriveKey derives a 256-bit key with PBKDF2-HMAC-SHA256.
func (e *Engine) DeriveKey(password, salt []byte, rounds uint32) (SecretKey, error) {
	if rounds < 1 {
		return nil, fmt.Errorf("%w: rounds must be positive, got %d", common.ErrKeyDerivation, rounds)
	}
	return pbkdf2.Key(password, salt, int(rounds), KeySize, sha256.New), nil
}

// GenerateSalt returns a random salt whose length is chosen uniformly in
// [MinSaltSize, MaxSaltSize].
func (e *Engine) GenerateSalt() ([]byte, error) {
	n, err := shared.RandIntInclusive(MinSaltSize, MaxSaltSize)
	if err != nil {
		return nil, fmt.Errorf("salt length: %w", err)
	}
	salt := make([]byte, n)
	if _, err := io.ReadFull(e.random, salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	return salt, nil
}

// Encrypt seals plaintext under key with a fresh IV. A nil plaintext is
// treated as empty. The returned value gets a new id and the current time.
func (e *Engine) Encrypt(key SecretKey, plaintext []byte) (*EncryptedValue, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(e.random, iv); err != nil {
		return nil, fmt.Errorf("iv: %w", err)
	}
	return e.EncryptWithIV(key, iv, plaintext)
}

// EncryptWithIV seals plaintext under key with the given IV. It is meant
// for re-sealing an existing value under a different key; never reuse an
// IV with the same key.
func (e *Engine) EncryptWithIV(key SecretKey, iv, plaintext []byte) (*EncryptedValue, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("iv: want %d bytes, got %d", IVSize, len(iv))
	}
	iv = bytes.Clone(iv)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded), len(padded)+tagSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	shared.WipeByteArray(padded)

	return &EncryptedValue{
		ID:       uuid.New(),
		Modified: e.now(),
		Cipher:   AES256CBC,
		IV:       iv,
		Data:     append(ciphertext, tag(key, iv, ciphertext)...),
	}, nil
}

// Decrypt opens v under key. Every failure, wrong key included, is reported
// as common.ErrDecryption without further detail.
func (e *Engine) Decrypt(key SecretKey, v *EncryptedValue) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil value", common.ErrDecryption)
	}
	switch v.Cipher {
	case AES256CBC:
		return decryptCBC(key, v.IV, v.Data)
	default:
		return nil, fmt.Errorf("%w: unknown cipher %d", common.ErrDecryption, v.Cipher)
	}
}

func decryptCBC(key SecretKey, iv, data []byte) ([]byte, error) {
	if len(iv) != IVSize || len(data) < aes.BlockSize+tagSize {
		return nil, common.ErrDecryption
	}
	ciphertext, sum := data[:len(data)-tagSize], data[len(data)-tagSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, common.ErrDecryption
	}
	if !hmac.Equal(sum, tag(key, iv, ciphertext)) {
		return nil, common.ErrDecryption
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, common.ErrDecryption
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	out, ok := pkcs7Unpad(plain, aes.BlockSize)
	if !ok {
		return nil, common.ErrDecryption
	}
	return out, nil
}

// tag authenticates iv||ciphertext with a MAC key bound to the cipher key.
func tag(key SecretKey, iv, ciphertext []byte) []byte {
	kdf := hmac.New(sha256.New, key)
	kdf.Write(macLabel)
	macKey := kdf.Sum(nil)
	defer shared.WipeByteArray(macKey)

	m := hmac.New(sha256.New, macKey)
	m.Write(iv)
	m.Write(ciphertext)
	return m.Sum(nil)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	out := make([]byte, len(b)+n)
	copy(out, b)
	copy(out[len(b):], bytes.Repeat([]byte{byte(n)}, n))
	return out
}

func pkcs7Unpad(b []byte, size int) ([]byte, bool) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, false
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
