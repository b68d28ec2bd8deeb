// Package cache defines the durable local store the sync engine keeps beside
// the remote backend: shared links by directory, owner keys and cursors by
// shared link, and the last confirmed record payloads. Implementations are
// provided for memory, SQLite, PostgreSQL, and Badger.
//
// The engine only writes confirmed backend state here, never speculative
// local mutations, so a cache can always be rebuilt by re-reading the
// directory from the start.
package cache

import (
	"context"
	"errors"

	"github.com/graffiti-garden/byo-storage/storage"
)

// ErrNotFound is returned when a requested key has no cached value.
var ErrNotFound = errors.New("not found")

// Store is the persistence contract for the sync engine. Implementations
// must be safe for concurrent use; each method is a single-key operation and
// no cross-key transactionality is assumed.
type Store interface {
	// SharedLink returns the cached shared link for a directory.
	SharedLink(ctx context.Context, directory string) (storage.SharedLink, error)

	// PutSharedLink caches the shared link for a directory.
	PutSharedLink(ctx context.Context, directory string, link storage.SharedLink) error

	// OwnerKey returns the cached owner public key for a shared link. A
	// present key also marks the link's directory as signed.
	OwnerKey(ctx context.Context, link storage.SharedLink) ([]byte, error)

	// PutOwnerKey caches the owner public key for a shared link.
	PutOwnerKey(ctx context.Context, link storage.SharedLink, key []byte) error

	// Cursor returns the last persisted change-feed cursor for a shared link.
	Cursor(ctx context.Context, link storage.SharedLink) (string, error)

	// PutCursor persists the change-feed cursor for a shared link.
	PutCursor(ctx context.Context, link storage.SharedLink, cursor string) error

	// Record returns the last confirmed payload stored under name.
	Record(ctx context.Context, link storage.SharedLink, name string) ([]byte, error)

	// PutRecord stores the confirmed payload under name.
	PutRecord(ctx context.Context, link storage.SharedLink, name string, data []byte) error

	// DeleteRecord drops the payload stored under name. Deleting an absent
	// record is not an error.
	DeleteRecord(ctx context.Context, link storage.SharedLink, name string) error

	// Records enumerates all cached payloads for a shared link, keyed by name.
	Records(ctx context.Context, link storage.SharedLink) (map[string][]byte, error)

	// Purge removes everything cached for a directory and its shared link:
	// the link mapping, owner key, cursor, and records.
	Purge(ctx context.Context, directory string, link storage.SharedLink) error

	// Close releases any resources held by the store.
	Close() error
}
