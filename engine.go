package byostorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/graffiti-garden/byo-storage/cache"
	"github.com/graffiti-garden/byo-storage/internal/bus"
	"github.com/graffiti-garden/byo-storage/internal/logging"
	"github.com/graffiti-garden/byo-storage/storage"
)

// Engine is the channel sync engine: it addresses channels on the backend,
// encrypts and uploads records, fans speculative mutations out to live
// subscriptions, and reconciles them with the backend's confirmed change
// feed.
type Engine struct {
	backend     storage.Backend
	cache       cache.Store
	bus         *bus.Bus[Event]
	log         logging.Logger
	pollTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger replaces the default slog-backed logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithLongPollTimeout bounds each server-side long-poll wait. The default is
// 30 seconds; tests use much smaller values.
func WithLongPollTimeout(d time.Duration) Option {
	return func(e *Engine) { e.pollTimeout = d }
}

// New builds an engine over a backend and a local cache store.
func New(backend storage.Backend, store cache.Store, opts ...Option) *Engine {
	e := &Engine{
		backend:     backend,
		cache:       store,
		bus:         bus.New[Event](),
		log:         logging.NewSlogLogger(slog.Default()),
		pollTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// resolve maps (channel, ownerKey) to the backend directory and its shared
// link, creating both on first use. The link is cached indefinitely; the
// derivation is deterministic, so concurrent callers converge.
func (e *Engine) resolve(ctx context.Context, channel string, ownerKey []byte) (string, storage.SharedLink, error) {
	directory, err := deriveDirectory(channel, ownerKey)
	if err != nil {
		return "", "", err
	}
	link, err := e.cache.SharedLink(ctx, directory)
	if err == nil {
		return directory, link, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return "", "", fmt.Errorf("cache lookup: %w", err)
	}
	link, err = e.backend.GetOrCreateSharedLink(ctx, directory)
	if err != nil {
		return "", "", fmt.Errorf("get or create shared link: %w", err)
	}
	if err := e.cache.PutSharedLink(ctx, directory, link); err != nil {
		return "", "", fmt.Errorf("cache shared link: %w", err)
	}
	return directory, link, nil
}

// CreateOrGetDirectory resolves (channel, ownerKey) to its shared link,
// lazily creating the backend directory. Two calls with identical inputs
// always return the same link.
func (e *Engine) CreateOrGetDirectory(ctx context.Context, channel string, ownerKey []byte) (storage.SharedLink, error) {
	_, link, err := e.resolve(ctx, channel, ownerKey)
	return link, err
}

// DeleteDirectory removes the channel's backend directory with everything in
// it and forgets the local cache state for it. Returns ErrPathNotFound if
// the directory does not exist.
func (e *Engine) DeleteDirectory(ctx context.Context, channel string, ownerKey []byte) error {
	directory, err := deriveDirectory(channel, ownerKey)
	if err != nil {
		return err
	}
	link, err := e.cache.SharedLink(ctx, directory)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return fmt.Errorf("cache lookup: %w", err)
	}
	if err := e.backend.DeleteDirectory(ctx, directory); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("directory %q: %w", directory, ErrPathNotFound)
		}
		return fmt.Errorf("delete directory: %w", err)
	}
	if err := e.cache.Purge(ctx, directory, link); err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	return nil
}

// Post encrypts data under the channel key and writes it as the record
// identified by the 16-byte id, overwriting any previous payload. Active
// subscribers of the channel's shared link observe the write speculatively
// before the backend round-trip settles; if the upload fails, the previous
// state is re-asserted and the error returned.
//
// A nil id asks Post to generate one. The shared link of the channel's
// directory is returned.
func (e *Engine) Post(ctx context.Context, channel string, ownerKey, id, data []byte) (storage.SharedLink, error) {
	if id == nil {
		generated := uuid.New()
		id = generated[:]
	}
	rid, err := uuid.FromBytes(id)
	if err != nil {
		return "", fmt.Errorf("got %d bytes: %w", len(id), ErrInvalidUUIDLength)
	}
	directory, link, err := e.resolve(ctx, channel, ownerKey)
	if err != nil {
		return "", err
	}
	name := recordName(rid)
	prev, prevErr := e.cache.Record(ctx, link, name)
	if prevErr != nil && !errors.Is(prevErr, cache.ErrNotFound) {
		return "", fmt.Errorf("cache lookup: %w", prevErr)
	}

	// Speculative notification first: subscribers see the write with zero
	// round-trip latency. Confirmed state follows through the change feed.
	e.bus.Publish(string(link), Event{Kind: EventUpdate, ID: rid, Data: data})

	ciphertext, err := encrypt(channel, data)
	if err == nil {
		err = e.backend.Upload(ctx, directory, name, ciphertext)
	}
	if err != nil {
		e.compensate(ctx, link, rid, prev, prevErr == nil)
		return "", fmt.Errorf("upload record: %w", err)
	}
	return link, nil
}

// Delete removes the record identified by id from the channel. Subscribers
// observe a speculative delete immediately; on backend failure the previous
// cached payload, if any, is re-asserted and the error returned.
func (e *Engine) Delete(ctx context.Context, channel string, ownerKey, id []byte) (storage.SharedLink, error) {
	rid, err := uuid.FromBytes(id)
	if err != nil {
		return "", fmt.Errorf("got %d bytes: %w", len(id), ErrInvalidUUIDLength)
	}
	directory, link, err := e.resolve(ctx, channel, ownerKey)
	if err != nil {
		return "", err
	}
	name := recordName(rid)
	prev, prevErr := e.cache.Record(ctx, link, name)
	if prevErr != nil && !errors.Is(prevErr, cache.ErrNotFound) {
		return "", fmt.Errorf("cache lookup: %w", prevErr)
	}

	e.bus.Publish(string(link), Event{Kind: EventDelete, ID: rid})

	if err := e.backend.Delete(ctx, directory, name); err != nil {
		if prevErr == nil {
			e.compensate(ctx, link, rid, prev, true)
		}
		return "", fmt.Errorf("delete record: %w", err)
	}
	return link, nil
}

// compensate rolls a failed speculative mutation back: re-assert the last
// confirmed payload if one was cached, otherwise assert a delete. Local
// bookkeeping only; the original error still reaches the caller.
func (e *Engine) compensate(ctx context.Context, link storage.SharedLink, rid uuid.UUID, prev []byte, hadPrev bool) {
	if hadPrev {
		e.bus.Publish(string(link), Event{Kind: EventUpdate, ID: rid, Data: prev})
	} else {
		e.bus.Publish(string(link), Event{Kind: EventDelete, ID: rid})
	}
	e.log.Warn(ctx, "rolled back speculative mutation", "link", string(link), "record", rid.String())
}

// SignDirectory binds the channel's directory to ownerKey by uploading a
// signature envelope: ownerKey || sign(sharedLink), encrypted under the
// channel key, stored under the reserved envelope name. Signing an already
// signed directory is a no-op.
func (e *Engine) SignDirectory(ctx context.Context, channel string, ownerKey []byte, sign SignFunc) (storage.SharedLink, error) {
	directory, link, err := e.resolve(ctx, channel, ownerKey)
	if err != nil {
		return "", err
	}
	if _, err := e.cache.OwnerKey(ctx, link); err == nil {
		return link, nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		return "", fmt.Errorf("cache lookup: %w", err)
	}
	signature, err := sign([]byte(link))
	if err != nil {
		return "", fmt.Errorf("sign shared link: %w", err)
	}
	envelope := make([]byte, 0, len(ownerKey)+len(signature))
	envelope = append(envelope, ownerKey...)
	envelope = append(envelope, signature...)
	ciphertext, err := encrypt(channel, envelope)
	if err != nil {
		return "", err
	}
	if err := e.backend.Upload(ctx, directory, SignatureName, ciphertext); err != nil {
		return "", fmt.Errorf("upload signature envelope: %w", err)
	}
	if err := e.cache.PutOwnerKey(ctx, link, ownerKey); err != nil {
		return "", fmt.Errorf("cache owner key: %w", err)
	}
	return link, nil
}

// PublicKey returns the owner public key a shared link's directory is signed
// with, verifying the envelope's signature over the link with verify.
// Returns ErrSignatureNotFound for unsigned directories and
// ErrInvalidSignature when verification fails.
func (e *Engine) PublicKey(ctx context.Context, channel string, link storage.SharedLink, verify VerifyFunc) ([]byte, error) {
	if key, err := e.cache.OwnerKey(ctx, link); err == nil {
		return key, nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	ciphertext, err := e.backend.Download(ctx, link, SignatureName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("link %q: %w", link, ErrSignatureNotFound)
		}
		return nil, fmt.Errorf("download signature envelope: %w", err)
	}
	envelope, err := decrypt(channel, ciphertext)
	if err != nil {
		return nil, err
	}
	if len(envelope) <= OwnerKeyLength {
		return nil, fmt.Errorf("envelope of %d bytes: %w", len(envelope), ErrInvalidSignature)
	}
	ownerKey := envelope[:OwnerKeyLength]
	signature := envelope[OwnerKeyLength:]
	if !verify(signature, []byte(link), ownerKey) {
		return nil, ErrInvalidSignature
	}
	if err := e.cache.PutOwnerKey(ctx, link, ownerKey); err != nil {
		return nil, fmt.Errorf("cache owner key: %w", err)
	}
	return ownerKey, nil
}
