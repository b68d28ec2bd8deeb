// Package byostorage implements a confidentiality-preserving publish/
// subscribe channel abstraction on top of a generic cloud file-storage
// backend ("bring your own storage").
//
// # Overview
//
// Applications post opaque records to a named channel and subscribe to a
// live, resumable stream of updates and deletions for that channel. The
// storage backend never sees plaintext channel names, payloads, or owner
// keys:
//
//  1. A channel plus a 32-byte owner public key deterministically derives an
//     unlinkable backend directory; a symmetric key derived from the channel
//     name alone encrypts every payload.
//  2. A change-feed iterator turns the backend's paginated listing and
//     long-poll calls into one resumable event sequence.
//  3. The engine layers optimistic local mutations on top: posts and deletes
//     are announced to live subscribers before the network round-trip
//     settles, and rolled back if the backend call fails.
//
// The backend and the durable local cache are pluggable; see the storage and
// cache packages for the contracts and the bundled implementations (memory,
// S3, SQLite, PostgreSQL, Badger).
//
// # Error Handling
//
// Failure conditions callers can act on are sentinel errors matched with
// errors.Is: ErrInvalidKeyLength, ErrInvalidUUIDLength, ErrPathNotFound,
// ErrSignatureNotFound, ErrInvalidSignature, ErrWrongChannelKey,
// ErrCancelled. Backend failures pass through wrapped.
//
// # Concurrency & Contexts
//
// The engine is safe for concurrent use. All operations accept a
// context.Context and honor cancellation; canceling a subscription's context
// terminates its stream with ErrCancelled carrying the cause.
package byostorage
