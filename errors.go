package byostorage

import (
	"errors"

	"github.com/graffiti-garden/byo-storage/internal/feed"
)

var (
	// ErrInvalidKeyLength means an owner key was not exactly 32 bytes.
	ErrInvalidKeyLength = errors.New("owner key must be 32 bytes")

	// ErrInvalidUUIDLength means a record id was not exactly 16 bytes.
	ErrInvalidUUIDLength = errors.New("record id must be 16 bytes")

	// ErrPathNotFound means a shared link or directory does not resolve on
	// the backend.
	ErrPathNotFound = feed.ErrPathNotFound

	// ErrSignatureNotFound means the directory carries no signature envelope.
	ErrSignatureNotFound = errors.New("directory is not signed")

	// ErrInvalidSignature means the signature envelope did not verify
	// against the shared link.
	ErrInvalidSignature = errors.New("invalid directory signature")

	// ErrWrongChannelKey means decryption failed authentication: the channel
	// string does not match the one the data was encrypted under.
	ErrWrongChannelKey = errors.New("wrong channel key")

	// ErrCancelled terminates a subscription whose context was canceled.
	// The context cause is attached.
	ErrCancelled = errors.New("subscription cancelled")
)
