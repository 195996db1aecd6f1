// Package common defines shared constants and sentinel errors used across
// the vault, sync and remote layers of parrotkeeper. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Lookup errors.
	ErrNotFound = errors.New("not found")
	ErrNoValue  = errors.New("node has no value")

	// Crypto errors.
	ErrKeyDerivation = errors.New("key derivation failed")
	ErrDecryption    = errors.New("decryption failed")

	// Document errors. ErrCorruptedOrWrongPassword is the only error surfaced
	// by opening a vault; it deliberately hides which stage failed.
	ErrMalformedDocument        = errors.New("malformed document")
	ErrCorruptedOrWrongPassword = errors.New("database is corrupted or the password is wrong")

	// Sync errors.
	ErrLockTimeout    = errors.New("timed out waiting for remote lock")
	ErrTransport      = errors.New("transport error")
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrState reports an operation that is not valid in the current state,
	// e.g. using a closed database or removing the root node.
	ErrState = errors.New("invalid state")

	// Token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
