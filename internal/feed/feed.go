// Package feed turns a storage backend's paginated listing and long-poll
// calls into one resumable, cancelable sequence of typed change events for a
// single shared directory.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/graffiti-garden/byo-storage/storage"
)

// ErrPathNotFound is returned by Next when the shared link does not resolve
// to a directory on the initial listing.
var ErrPathNotFound = errors.New("path not found")

// Kind enumerates the event types an Iterator produces.
type Kind int

const (
	// Update carries the downloaded content of a created or overwritten file.
	Update Kind = iota
	// Delete reports a removed file.
	Delete
	// Cursor marks a checkpointable position; emitted after a page of
	// entries is fully drained.
	Cursor
	// BacklogComplete signals the historical entries are exhausted and
	// subsequent events are live. Emitted exactly once per iterator.
	BacklogComplete
)

// Event is one element of the change sequence.
type Event struct {
	Kind   Kind
	Name   string
	Data   []byte
	Cursor string
}

// Iterator drives the backend listing state machine. It is not safe for
// concurrent use; one goroutine calls Next repeatedly until an error.
//
// The machine starts with an initial listing (or skips straight to
// continuation when resuming from a cursor), drains each page entry by
// entry, emits a cursor checkpoint after every page, and once the backlog is
// exhausted settles into a long-poll loop, honoring any backoff the backend
// requests.
type Iterator struct {
	backend     storage.Backend
	link        storage.SharedLink
	pollTimeout time.Duration

	started     bool
	cursor      string
	hasMore     bool
	pending     []storage.Entry
	cursorDue   bool
	backlogDone bool
}

// New prepares an iterator over link. A non-empty resumeCursor skips the
// initial listing and picks history up from that position. pollTimeout
// bounds each server-side long-poll wait.
func New(backend storage.Backend, link storage.SharedLink, resumeCursor string, pollTimeout time.Duration) *Iterator {
	return &Iterator{
		backend:     backend,
		link:        link,
		cursor:      resumeCursor,
		pollTimeout: pollTimeout,
	}
}

// Next blocks until the next event is available. It never returns normally
// after an error: a failed backend call, a failed download, or context
// cancellation all terminate the iterator.
func (it *Iterator) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, context.Cause(ctx)
		}

		if !it.started {
			it.started = true
			if it.cursor != "" {
				// Resuming: nothing to replay, go straight to continuation.
				it.hasMore = true
			} else {
				page, err := it.backend.ListInitial(ctx, it.link)
				if err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						return Event{}, fmt.Errorf("list %q: %w", it.link, ErrPathNotFound)
					}
					return Event{}, fmt.Errorf("initial listing: %w", err)
				}
				it.cursor = page.Cursor
				it.hasMore = page.HasMore
				it.pending = page.Entries
				it.cursorDue = true
			}
		}

		if len(it.pending) > 0 {
			entry := it.pending[0]
			it.pending = it.pending[1:]
			switch entry.Kind {
			case storage.EntryDeleted:
				return Event{Kind: Delete, Name: entry.Name}, nil
			case storage.EntryFile:
				if !entry.Downloadable {
					continue
				}
				data, err := it.backend.Download(ctx, it.link, entry.Name)
				if err != nil {
					return Event{}, fmt.Errorf("download %q: %w", entry.Name, err)
				}
				return Event{Kind: Update, Name: entry.Name, Data: data}, nil
			}
			continue
		}

		if it.cursorDue {
			it.cursorDue = false
			return Event{Kind: Cursor, Cursor: it.cursor}, nil
		}

		if it.hasMore {
			page, err := it.backend.ListContinue(ctx, it.cursor)
			if err != nil {
				return Event{}, fmt.Errorf("continue listing: %w", err)
			}
			it.cursor = page.Cursor
			it.hasMore = page.HasMore
			it.pending = page.Entries
			it.cursorDue = true
			continue
		}

		if !it.backlogDone {
			it.backlogDone = true
			return Event{Kind: BacklogComplete}, nil
		}

		poll, err := it.backend.LongPoll(ctx, it.cursor, it.pollTimeout)
		if err != nil {
			return Event{}, fmt.Errorf("long poll: %w", err)
		}
		it.hasMore = poll.Changes
		if poll.Backoff > 0 {
			if err := sleep(ctx, poll.Backoff); err != nil {
				return Event{}, err
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
