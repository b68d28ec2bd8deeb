package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graffiti-garden/byo-storage/storage"
)

// scriptBackend plays back canned listing pages and poll results. Calls it
// does not implement panic through the embedded nil interface, which marks a
// test exercising an unexpected code path.
type scriptBackend struct {
	storage.Backend

	initial      storage.Page
	initialErr   error
	initialCalls int

	continues     map[string]storage.Page
	continueCalls []string

	files       map[string][]byte
	downloadErr error

	polls     []storage.Poll
	pollBlock bool
}

func (s *scriptBackend) ListInitial(ctx context.Context, link storage.SharedLink) (storage.Page, error) {
	s.initialCalls++
	if s.initialErr != nil {
		return storage.Page{}, s.initialErr
	}
	return s.initial, nil
}

func (s *scriptBackend) ListContinue(ctx context.Context, cursor string) (storage.Page, error) {
	s.continueCalls = append(s.continueCalls, cursor)
	page, ok := s.continues[cursor]
	if !ok {
		return storage.Page{}, errors.New("unscripted cursor " + cursor)
	}
	return page, nil
}

func (s *scriptBackend) Download(ctx context.Context, link storage.SharedLink, name string) ([]byte, error) {
	if s.downloadErr != nil {
		return nil, s.downloadErr
	}
	data, ok := s.files[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (s *scriptBackend) LongPoll(ctx context.Context, cursor string, timeout time.Duration) (storage.Poll, error) {
	if len(s.polls) == 0 {
		if s.pollBlock {
			<-ctx.Done()
			return storage.Poll{}, context.Cause(ctx)
		}
		return storage.Poll{}, nil
	}
	poll := s.polls[0]
	s.polls = s.polls[1:]
	return poll, nil
}

func file(name string) storage.Entry {
	return storage.Entry{Name: name, Kind: storage.EntryFile, Downloadable: true}
}

func deleted(name string) storage.Entry {
	return storage.Entry{Name: name, Kind: storage.EntryDeleted}
}

func TestIterator_DrainsPagesInOrder(t *testing.T) {
	backend := &scriptBackend{
		initial: storage.Page{Cursor: "c1", HasMore: true, Entries: []storage.Entry{file("a"), file("b")}},
		continues: map[string]storage.Page{
			"c1": {Cursor: "c2", Entries: []storage.Entry{deleted("a")}},
		},
		files: map[string][]byte{"a": []byte("alpha"), "b": []byte("beta")},
	}
	it := New(backend, "link", "", time.Second)
	ctx := context.Background()

	event, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Event{Kind: Update, Name: "a", Data: []byte("alpha")}, event)

	event, err = it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Event{Kind: Update, Name: "b", Data: []byte("beta")}, event)

	event, err = it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Event{Kind: Cursor, Cursor: "c1"}, event)

	event, err = it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Event{Kind: Delete, Name: "a"}, event)

	event, err = it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Event{Kind: Cursor, Cursor: "c2"}, event)

	event, err = it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, BacklogComplete, event.Kind)

	assert.Equal(t, 1, backend.initialCalls)
	assert.Equal(t, []string{"c1"}, backend.continueCalls)
}

func TestIterator_BacklogCompleteOnlyOnce(t *testing.T) {
	backend := &scriptBackend{
		initial: storage.Page{Cursor: "c1"},
		polls:   []storage.Poll{{Changes: true}},
		continues: map[string]storage.Page{
			"c1": {Cursor: "c2", Entries: []storage.Entry{file("live")}},
		},
		files: map[string][]byte{"live": []byte("x")},
	}
	it := New(backend, "link", "", time.Second)
	ctx := context.Background()

	kinds := []Kind{}
	for i := 0; i < 4; i++ {
		event, err := it.Next(ctx)
		require.NoError(t, err)
		kinds = append(kinds, event.Kind)
	}
	assert.Equal(t, []Kind{Cursor, BacklogComplete, Update, Cursor}, kinds)
}

func TestIterator_SkipsNonDownloadable(t *testing.T) {
	backend := &scriptBackend{
		initial: storage.Page{Cursor: "c1", Entries: []storage.Entry{
			{Name: "marker", Kind: storage.EntryFile, Downloadable: false},
			file("real"),
		}},
		files: map[string][]byte{"real": []byte("content")},
	}
	it := New(backend, "link", "", time.Second)

	event, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "real", event.Name)
}

func TestIterator_PathNotFound(t *testing.T) {
	backend := &scriptBackend{initialErr: storage.ErrNotFound}
	it := New(backend, "link", "", time.Second)

	_, err := it.Next(context.Background())
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestIterator_ResumeSkipsInitialListing(t *testing.T) {
	backend := &scriptBackend{
		continues: map[string]storage.Page{
			"resume": {Cursor: "c9", Entries: []storage.Entry{file("fresh")}},
		},
		files: map[string][]byte{"fresh": []byte("new")},
	}
	it := New(backend, "link", "resume", time.Second)
	ctx := context.Background()

	event, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Event{Kind: Update, Name: "fresh", Data: []byte("new")}, event)

	event, err = it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Event{Kind: Cursor, Cursor: "c9"}, event)

	assert.Zero(t, backend.initialCalls, "resume must not list from scratch")
}

func TestIterator_HonorsBackoff(t *testing.T) {
	backoff := 50 * time.Millisecond
	backend := &scriptBackend{
		initial: storage.Page{Cursor: "c1"},
		polls: []storage.Poll{
			{Backoff: backoff},
			{Changes: true},
		},
		continues: map[string]storage.Page{
			"c1": {Cursor: "c2", Entries: []storage.Entry{file("later")}},
		},
		files: map[string][]byte{"later": []byte("y")},
	}
	it := New(backend, "link", "", time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ { // cursor, backlog-complete
		_, err := it.Next(ctx)
		require.NoError(t, err)
	}

	start := time.Now()
	event, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Update, event.Kind)
	assert.GreaterOrEqual(t, time.Since(start), backoff)
}

func TestIterator_DownloadFailureTerminates(t *testing.T) {
	boom := errors.New("boom")
	backend := &scriptBackend{
		initial:     storage.Page{Cursor: "c1", Entries: []storage.Entry{file("a")}},
		downloadErr: boom,
	}
	it := New(backend, "link", "", time.Second)

	_, err := it.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestIterator_CancelDuringLongPoll(t *testing.T) {
	backend := &scriptBackend{
		initial:   storage.Page{Cursor: "c1"},
		pollBlock: true,
	}
	it := New(backend, "link", "", time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 2; i++ { // cursor, backlog-complete
		_, err := it.Next(ctx)
		require.NoError(t, err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := it.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIterator_CancelBeforeNext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := &scriptBackend{}
	it := New(backend, "link", "", time.Second)
	_, err := it.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, backend.initialCalls, "a dead context must not reach the backend")
}
