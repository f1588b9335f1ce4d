package vault

import "errors"

var (
	// ErrDirRequired is returned when no vault directory is given.
	ErrDirRequired = errors.New("vault directory required")

	// ErrKeyRequired is returned when no encryption key is configured.
	ErrKeyRequired = errors.New("encryption key required")

	// ErrInvalidKey is returned when a key cannot be decoded or has the wrong size.
	ErrInvalidKey = errors.New("invalid encryption key")

	// ErrDecryptFailed is returned when a stored file fails authentication.
	ErrDecryptFailed = errors.New("decryption failed")
)
