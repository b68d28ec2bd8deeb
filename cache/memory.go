package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/graffiti-garden/byo-storage/storage"
)

// MemoryStore is a map-backed Store for tests and ephemeral use. Nothing
// survives the process.
type MemoryStore struct {
	mu        sync.RWMutex
	links     map[string]storage.SharedLink
	ownerKeys map[storage.SharedLink][]byte
	cursors   map[storage.SharedLink]string
	records   map[storage.SharedLink]map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		links:     make(map[string]storage.SharedLink),
		ownerKeys: make(map[storage.SharedLink][]byte),
		cursors:   make(map[storage.SharedLink]string),
		records:   make(map[storage.SharedLink]map[string][]byte),
	}
}

func (s *MemoryStore) SharedLink(ctx context.Context, directory string) (storage.SharedLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[directory]
	if !ok {
		return "", fmt.Errorf("shared link for %q: %w", directory, ErrNotFound)
	}
	return link, nil
}

func (s *MemoryStore) PutSharedLink(ctx context.Context, directory string, link storage.SharedLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[directory] = link
	return nil
}

func (s *MemoryStore) OwnerKey(ctx context.Context, link storage.SharedLink) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.ownerKeys[link]
	if !ok {
		return nil, fmt.Errorf("owner key for %q: %w", link, ErrNotFound)
	}
	return append([]byte(nil), key...), nil
}

func (s *MemoryStore) PutOwnerKey(ctx context.Context, link storage.SharedLink, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownerKeys[link] = append([]byte(nil), key...)
	return nil
}

func (s *MemoryStore) Cursor(ctx context.Context, link storage.SharedLink) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cursor, ok := s.cursors[link]
	if !ok {
		return "", fmt.Errorf("cursor for %q: %w", link, ErrNotFound)
	}
	return cursor, nil
}

func (s *MemoryStore) PutCursor(ctx context.Context, link storage.SharedLink, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[link] = cursor
	return nil
}

func (s *MemoryStore) Record(ctx context.Context, link storage.SharedLink, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.records[link][name]
	if !ok {
		return nil, fmt.Errorf("record %q: %w", name, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) PutRecord(ctx context.Context, link storage.SharedLink, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, ok := s.records[link]
	if !ok {
		recs = make(map[string][]byte)
		s.records[link] = recs
	}
	recs[name] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) DeleteRecord(ctx context.Context, link storage.SharedLink, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[link], name)
	return nil
}

func (s *MemoryStore) Records(ctx context.Context, link storage.SharedLink) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.records[link]))
	for name, data := range s.records[link] {
		out[name] = append([]byte(nil), data...)
	}
	return out, nil
}

func (s *MemoryStore) Purge(ctx context.Context, directory string, link storage.SharedLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, directory)
	delete(s.ownerKeys, link)
	delete(s.cursors, link)
	delete(s.records, link)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
