package vault

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/cryptox"
	"github.com/dmitrijs2005/parrotkeeper/internal/shared"
)

// CryptoParams is an immutable key-derivation configuration together with
// the key derived from it. The key is never serialized; it is re-derived
// from the password whenever params are restored or cloned.
type CryptoParams struct {
	salt     []byte
	rounds   uint32
	modified time.Time
	key      cryptox.SecretKey
}

// NewCryptoParams creates a fresh configuration with a new random salt,
// stamped with the engine's current time.
func NewCryptoParams(engine *cryptox.Engine, password []byte, rounds uint32) (*CryptoParams, error) {
	salt, err := engine.GenerateSalt()
	if err != nil {
		return nil, err
	}
	return RestoreCryptoParams(engine, password, salt, rounds, engine.Now())
}

// RestoreCryptoParams rebuilds params from their persisted attributes.
func RestoreCryptoParams(engine *cryptox.Engine, password, salt []byte, rounds uint32, modified time.Time) (*CryptoParams, error) {
	key, err := engine.DeriveKey(password, salt, rounds)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &CryptoParams{
		salt:     shared.CloneBytes(salt),
		rounds:   rounds,
		modified: modified,
		key:      key,
	}, nil
}

// WithPassword returns the same configuration with a key derived from
// password. The receiver is not modified.
func (p *CryptoParams) WithPassword(engine *cryptox.Engine, password []byte) (*CryptoParams, error) {
	return RestoreCryptoParams(engine, password, p.salt, p.rounds, p.modified)
}

// Salt returns a copy of the salt.
func (p *CryptoParams) Salt() []byte { return shared.CloneBytes(p.salt) }

func (p *CryptoParams) Rounds() uint32 { return p.rounds }

func (p *CryptoParams) Modified() time.Time { return p.modified }

// SameConfiguration reports whether salt, rounds and modification time
// match. Keys are not compared: the same configuration may be derived under
// different passwords.
func (p *CryptoParams) SameConfiguration(o *CryptoParams) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.rounds == o.rounds && p.modified.Equal(o.modified) && bytes.Equal(p.salt, o.salt)
}

func (p *CryptoParams) sameKey(o *CryptoParams) bool {
	return p.key.Equal(o.key)
}

func (p *CryptoParams) clone() *CryptoParams {
	return &CryptoParams{
		salt:     shared.CloneBytes(p.salt),
		rounds:   p.rounds,
		modified: p.modified,
		key:      cryptox.SecretKey(shared.CloneBytes(p.key)),
	}
}

func (p *CryptoParams) wipe() {
	if p == nil {
		return
	}
	p.key.Wipe()
}
