package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend with full change-history semantics:
// every upload and delete is appended to a per-directory journal, listing
// cursors are offsets into that journal, and LongPoll blocks on journal
// growth. It backs the test suite and the demo CLI.
type MemoryBackend struct {
	mu       sync.Mutex
	pageSize int
	dirs     map[string]*memDir
	links    map[SharedLink]string
}

type memDir struct {
	link    SharedLink
	files   map[string][]byte
	journal []journalRec
	watch   chan struct{}
}

type journalRec struct {
	name string
	kind EntryKind
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithPageSize caps the number of entries per listing page. The default is
// 100; tests use small values to exercise pagination.
func WithPageSize(n int) MemoryOption {
	return func(b *MemoryBackend) { b.pageSize = n }
}

// NewMemoryBackend returns an empty in-process backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{
		pageSize: 100,
		dirs:     make(map[string]*memDir),
		links:    make(map[SharedLink]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBackend) CreateDirectory(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.dirs[path]; ok {
		return fmt.Errorf("create directory %q: %w", path, ErrAlreadyExists)
	}
	b.createLocked(path)
	return nil
}

func (b *MemoryBackend) createLocked(path string) *memDir {
	d := &memDir{
		link:  SharedLink("mem://" + path),
		files: make(map[string][]byte),
		watch: make(chan struct{}),
	}
	b.dirs[path] = d
	b.links[d.link] = path
	return d
}

func (b *MemoryBackend) GetOrCreateSharedLink(ctx context.Context, path string) (SharedLink, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.dirs[path]
	if !ok {
		d = b.createLocked(path)
	}
	return d.link, nil
}

func (b *MemoryBackend) DeleteDirectory(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.dirs[path]
	if !ok {
		return fmt.Errorf("delete directory %q: %w", path, ErrNotFound)
	}
	close(d.watch)
	delete(b.links, d.link)
	delete(b.dirs, path)
	return nil
}

func (b *MemoryBackend) Upload(ctx context.Context, path, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.dirs[path]
	if !ok {
		return fmt.Errorf("upload to %q: %w", path, ErrNotFound)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	d.files[name] = buf
	d.append(journalRec{name: name, kind: EntryFile})
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, path, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.dirs[path]
	if !ok {
		return fmt.Errorf("delete from %q: %w", path, ErrNotFound)
	}
	if _, ok := d.files[name]; !ok {
		return fmt.Errorf("delete %q: %w", name, ErrNotFound)
	}
	delete(d.files, name)
	d.append(journalRec{name: name, kind: EntryDeleted})
	return nil
}

// append records a change and wakes every pending long-poll on the directory.
func (d *memDir) append(rec journalRec) {
	d.journal = append(d.journal, rec)
	close(d.watch)
	d.watch = make(chan struct{})
}

func (b *MemoryBackend) Download(ctx context.Context, link SharedLink, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d, err := b.resolveLocked(link)
	if err != nil {
		return nil, err
	}
	data, ok := d.files[name]
	if !ok {
		return nil, fmt.Errorf("download %q: %w", name, ErrNotFound)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (b *MemoryBackend) resolveLocked(link SharedLink) (*memDir, error) {
	path, ok := b.links[link]
	if !ok {
		return nil, fmt.Errorf("shared link %q: %w", link, ErrNotFound)
	}
	return b.dirs[path], nil
}

// Cursors are "path@journalOffset" once live, or "path@journalOffset@skip"
// while still paginating the initial snapshot. The snapshot is always
// reconstructed by folding the journal prefix, so concurrent writers never
// tear a paginated listing.

func liveCursor(path string, off int) string {
	return path + "@" + strconv.Itoa(off)
}

func snapshotCursor(path string, off, skip int) string {
	return path + "@" + strconv.Itoa(off) + "@" + strconv.Itoa(skip)
}

func parseCursor(cursor string) (path string, off, skip int, err error) {
	parts := strings.Split(cursor, "@")
	if len(parts) != 2 && len(parts) != 3 {
		return "", 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	path = parts[0]
	if off, err = strconv.Atoi(parts[1]); err != nil {
		return "", 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	skip = -1
	if len(parts) == 3 {
		if skip, err = strconv.Atoi(parts[2]); err != nil {
			return "", 0, 0, fmt.Errorf("malformed cursor %q", cursor)
		}
	}
	return path, off, skip, nil
}

// snapshotAt folds the first off journal records into the set of file names
// alive at that point, sorted for deterministic pagination.
func (d *memDir) snapshotAt(off int) []string {
	alive := make(map[string]bool)
	for _, rec := range d.journal[:off] {
		if rec.kind == EntryFile {
			alive[rec.name] = true
		} else {
			delete(alive, rec.name)
		}
	}
	names := make([]string, 0, len(alive))
	for name := range alive {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *MemoryBackend) ListInitial(ctx context.Context, link SharedLink) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d, err := b.resolveLocked(link)
	if err != nil {
		return Page{}, err
	}
	path := b.links[link]
	return b.snapshotPage(d, path, len(d.journal), 0), nil
}

func (b *MemoryBackend) snapshotPage(d *memDir, path string, off, skip int) Page {
	names := d.snapshotAt(off)
	if skip > len(names) {
		skip = len(names)
	}
	rest := names[skip:]
	hasMore := len(rest) > b.pageSize
	if hasMore {
		rest = rest[:b.pageSize]
	}
	entries := make([]Entry, 0, len(rest))
	for _, name := range rest {
		entries = append(entries, Entry{Name: name, Kind: EntryFile, Downloadable: true})
	}
	cursor := liveCursor(path, off)
	if hasMore {
		cursor = snapshotCursor(path, off, skip+len(rest))
	}
	return Page{Cursor: cursor, HasMore: hasMore, Entries: entries}
}

func (b *MemoryBackend) ListContinue(ctx context.Context, cursor string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	path, off, skip, err := parseCursor(cursor)
	if err != nil {
		return Page{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.dirs[path]
	if !ok {
		return Page{}, fmt.Errorf("cursor %q: %w", cursor, ErrNotFound)
	}
	if skip >= 0 {
		return b.snapshotPage(d, path, off, skip), nil
	}
	tail := d.journal[off:]
	hasMore := len(tail) > b.pageSize
	if hasMore {
		tail = tail[:b.pageSize]
	}
	entries := make([]Entry, 0, len(tail))
	for _, rec := range tail {
		entries = append(entries, Entry{
			Name:         rec.name,
			Kind:         rec.kind,
			Downloadable: rec.kind == EntryFile,
		})
	}
	return Page{
		Cursor:  liveCursor(path, off+len(tail)),
		HasMore: hasMore,
		Entries: entries,
	}, nil
}

func (b *MemoryBackend) LongPoll(ctx context.Context, cursor string, timeout time.Duration) (Poll, error) {
	path, off, skip, err := parseCursor(cursor)
	if err != nil {
		return Poll{}, err
	}
	if skip >= 0 {
		return Poll{}, fmt.Errorf("long poll on snapshot cursor %q", cursor)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		b.mu.Lock()
		d, ok := b.dirs[path]
		if !ok {
			b.mu.Unlock()
			return Poll{}, fmt.Errorf("cursor %q: %w", cursor, ErrNotFound)
		}
		if len(d.journal) > off {
			b.mu.Unlock()
			return Poll{Changes: true}, nil
		}
		watch := d.watch
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Poll{}, context.Cause(ctx)
		case <-timer.C:
			return Poll{Changes: false}, nil
		case <-watch:
		}
	}
}
