// Package storage defines the contract between the channel sync engine and a
// remote file-storage provider, together with two implementations: an
// in-process MemoryBackend used for tests and demos, and an S3Backend adapter
// for S3-compatible object stores.
//
// A backend only needs to offer file upload/overwrite, file delete, shared
// read links for directories, and a cursor-based listing of a directory's
// change history. Everything channel-related (naming, encryption, ownership)
// stays on the client side; the backend sees opaque directories and files.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors implementations must return for the enumerated conditions.
// Callers match them with errors.Is; any other failure is passed through.
var (
	// ErrNotFound means the requested directory or file does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists means CreateDirectory hit an existing directory.
	ErrAlreadyExists = errors.New("already exists")
)

// SharedLink is a backend-issued public read handle for one directory. It is
// stable for the directory's lifetime and safe to persist.
type SharedLink string

// EntryKind distinguishes live files from deletion markers in a change feed.
type EntryKind int

const (
	// EntryFile is a file that exists (created or overwritten).
	EntryFile EntryKind = iota
	// EntryDeleted is a deletion marker for a file that was removed.
	EntryDeleted
)

// Entry is one element of a directory listing or change page.
type Entry struct {
	// Name is the file name within its directory.
	Name string
	// Kind tells whether the entry is a live file or a deletion marker.
	Kind EntryKind
	// Downloadable reports whether Download can fetch the entry's content.
	// Non-downloadable file entries are skipped by consumers.
	Downloadable bool
}

// Page is the result of one listing call.
type Page struct {
	// Cursor bookmarks the position after this page. Opaque to callers.
	Cursor string
	// HasMore indicates another page should be fetched with ListContinue.
	HasMore bool
	// Entries are the changes covered by this page, oldest first.
	Entries []Entry
}

// Poll is the result of one long-poll call.
type Poll struct {
	// Changes reports whether new history exists past the polled cursor.
	Changes bool
	// Backoff, when non-zero, asks the caller to wait before the next call.
	Backoff time.Duration
}

// Backend is the minimal remote-storage surface the sync engine needs.
// Implementations must be safe for concurrent use and must honor context
// cancellation on every call.
type Backend interface {
	// CreateDirectory creates the directory at path. Returns ErrAlreadyExists
	// if it is already there.
	CreateDirectory(ctx context.Context, path string) error

	// GetOrCreateSharedLink returns the shared read link for path, creating
	// the directory and the link as needed. Losing a creation race to a
	// concurrent caller is not an error; both converge on the same link.
	GetOrCreateSharedLink(ctx context.Context, path string) (SharedLink, error)

	// DeleteDirectory removes the directory at path and all of its contents,
	// invalidating its shared link. Returns ErrNotFound for a missing path.
	DeleteDirectory(ctx context.Context, path string) error

	// Upload writes data to name inside path, overwriting any previous
	// content under that name.
	Upload(ctx context.Context, path, name string, data []byte) error

	// Delete removes name from path. Returns ErrNotFound if absent.
	Delete(ctx context.Context, path, name string) error

	// Download fetches the current content of name through a shared link.
	// Returns ErrNotFound if the file does not exist.
	Download(ctx context.Context, link SharedLink, name string) ([]byte, error)

	// ListInitial starts reading a directory through its shared link. The
	// returned entries describe the directory's current contents; the cursor
	// bookmarks the position history resumes from. Returns ErrNotFound if
	// the link does not resolve.
	ListInitial(ctx context.Context, link SharedLink) (Page, error)

	// ListContinue fetches the next page of changes after cursor.
	ListContinue(ctx context.Context, cursor string) (Page, error)

	// LongPoll blocks up to timeout waiting for history past cursor. It
	// returns early with Changes=true as soon as something happens.
	LongPoll(ctx context.Context, cursor string, timeout time.Duration) (Poll, error)
}
