package byostorage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/graffiti-garden/byo-storage/cache"
	"github.com/graffiti-garden/byo-storage/internal/bus"
	"github.com/graffiti-garden/byo-storage/internal/feed"
	"github.com/graffiti-garden/byo-storage/storage"
)

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	cursor    string
	hasCursor bool
}

// WithCursor resumes the change feed from a cursor captured earlier via
// Subscription.Cursor, instead of the one persisted in the cache. Only
// events for writes made after the cursor was captured are delivered.
func WithCursor(cursor string) SubscribeOption {
	return func(c *subscribeConfig) {
		c.cursor = cursor
		c.hasCursor = true
	}
}

// Subscription is a live stream of channel events. Read Events until it is
// closed, then check Err: nil is impossible — a subscription only ends on
// error, ErrCancelled included.
type Subscription struct {
	events chan Event

	mu     sync.Mutex
	cursor string
	err    error
}

// Events delivers the stream: cached records first, then confirmed feed
// events interleaved with speculative local mutations. The channel is closed
// when the subscription terminates.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Err reports why the stream ended. Valid after Events is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cursor is the most recent checkpoint of the confirmed feed. Capturing it
// after EventBacklogComplete and passing it to WithCursor on a later
// subscription skips everything already seen.
func (s *Subscription) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Subscription) setCursor(cursor string) {
	s.mu.Lock()
	s.cursor = cursor
	s.mu.Unlock()
}

func (s *Subscription) terminate(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
}

// feedResult carries one iterator step across the goroutine boundary.
type feedResult struct {
	event feed.Event
	err   error
}

// Subscribe opens a stream of events for a shared link, decrypting payloads
// under channel. Construction replays the cached snapshot, resumes the
// change feed from the persisted (or explicitly supplied) cursor, and
// registers for speculative events; the two live sources are then raced
// independently, so relative ordering between speculative and confirmed
// delivery is deliberately unspecified.
//
// Canceling ctx fails any in-flight backend wait promptly and ends the
// stream with ErrCancelled wrapping the cause.
func (e *Engine) Subscribe(ctx context.Context, channel string, link storage.SharedLink, opts ...SubscribeOption) (*Subscription, error) {
	var cfg subscribeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	replay, err := e.cache.Records(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("read cached records: %w", err)
	}

	cursor := cfg.cursor
	if !cfg.hasCursor {
		cursor, err = e.cache.Cursor(ctx, link)
		if err != nil && !errors.Is(err, cache.ErrNotFound) {
			return nil, fmt.Errorf("read cursor: %w", err)
		}
	}

	sub := &Subscription{events: make(chan Event), cursor: cursor}
	specSub := e.bus.Subscribe(string(link))
	iter := feed.New(e.backend, link, cursor, e.pollTimeout)

	// The pump gets a derived context so the router can always unblock an
	// in-flight backend wait on its way out, whatever the reason.
	pumpCtx, stopPump := context.WithCancel(ctx)
	feedCh := make(chan feedResult)
	stop := make(chan struct{})

	// Feed pump: single-slot by construction — the next iterator step is
	// not taken until the router consumes the previous one.
	go func() {
		for {
			event, err := iter.Next(pumpCtx)
			select {
			case feedCh <- feedResult{event: event, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		defer close(stop)
		defer stopPump()
		defer specSub.Unsubscribe()
		e.route(ctx, channel, link, sub, replay, specSub, feedCh)
	}()

	return sub, nil
}

// route is the subscription's single flow of control: replay the snapshot,
// then race the speculative and confirmed sources and forward whichever
// fires first.
func (e *Engine) route(
	ctx context.Context,
	channel string,
	link storage.SharedLink,
	sub *Subscription,
	replay map[string][]byte,
	specSub *bus.Subscriber[Event],
	feedCh <-chan feedResult,
) {
	names := make([]string, 0, len(replay))
	for name := range replay {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		id, err := parseRecordName(name)
		if err != nil {
			continue
		}
		if !sub.emit(ctx, Event{Kind: EventUpdate, ID: id, Data: replay[name]}) {
			sub.terminate(cancelled(ctx))
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			sub.terminate(cancelled(ctx))
			return

		case <-specSub.C():
			for {
				event, ok := specSub.Pop()
				if !ok {
					break
				}
				if !sub.emit(ctx, event) {
					sub.terminate(cancelled(ctx))
					return
				}
			}

		case result := <-feedCh:
			if result.err != nil {
				if ctx.Err() != nil {
					sub.terminate(cancelled(ctx))
				} else {
					sub.terminate(result.err)
				}
				return
			}
			if done := e.routeFeedEvent(ctx, channel, link, sub, result.event); done {
				return
			}
		}
	}
}

// routeFeedEvent applies one confirmed event: cache bookkeeping, signature
// suppression, decryption, and forwarding. Returns true when the
// subscription terminated.
func (e *Engine) routeFeedEvent(ctx context.Context, channel string, link storage.SharedLink, sub *Subscription, event feed.Event) bool {
	switch event.Kind {
	case feed.Cursor:
		if err := e.cache.PutCursor(ctx, link, event.Cursor); err != nil {
			sub.terminate(fmt.Errorf("persist cursor: %w", err))
			return true
		}
		sub.setCursor(event.Cursor)
		return false

	case feed.BacklogComplete:
		if !sub.emit(ctx, Event{Kind: EventBacklogComplete}) {
			sub.terminate(cancelled(ctx))
			return true
		}
		return false

	case feed.Update:
		if event.Name == SignatureName {
			return false
		}
		id, err := parseRecordName(event.Name)
		if err != nil {
			e.log.Warn(ctx, "skipping foreign file in channel directory", "name", event.Name)
			return false
		}
		plaintext, err := decrypt(channel, event.Data)
		if err != nil {
			sub.terminate(err)
			return true
		}
		if err := e.cache.PutRecord(ctx, link, event.Name, plaintext); err != nil {
			sub.terminate(fmt.Errorf("cache record: %w", err))
			return true
		}
		if !sub.emit(ctx, Event{Kind: EventUpdate, ID: id, Data: plaintext}) {
			sub.terminate(cancelled(ctx))
			return true
		}
		return false

	case feed.Delete:
		if event.Name == SignatureName {
			return false
		}
		id, err := parseRecordName(event.Name)
		if err != nil {
			return false
		}
		if err := e.cache.DeleteRecord(ctx, link, event.Name); err != nil {
			sub.terminate(fmt.Errorf("drop cached record: %w", err))
			return true
		}
		if !sub.emit(ctx, Event{Kind: EventDelete, ID: id}) {
			sub.terminate(cancelled(ctx))
			return true
		}
		return false

	default:
		return false
	}
}

// emit delivers one event to the caller, giving up if the context ends
// first.
func (s *Subscription) emit(ctx context.Context, event Event) bool {
	select {
	case s.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}
