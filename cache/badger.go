package cache

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/graffiti-garden/byo-storage/storage"
)

// BadgerStore is a Store backed by an embedded Badger database. It is the
// durable option for environments where a SQL engine is unwanted.
type BadgerStore struct {
	db *badger.DB
}

// Key namespaces. A zero byte separates namespace and key components, which
// cannot appear in directory names, shared links, or base64 record names.
var (
	nsSharedLink = []byte("sl\x00")
	nsOwnerKey   = []byte("ok\x00")
	nsCursor     = []byte("cur\x00")
	nsRecord     = []byte("rec\x00")
)

// OpenBadgerStore opens (or creates) a Badger database rooted at dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already opened Badger database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func badgerKey(ns []byte, parts ...string) []byte {
	key := append([]byte(nil), ns...)
	for i, p := range parts {
		if i > 0 {
			key = append(key, 0)
		}
		key = append(key, p...)
	}
	return key
}

func (s *BadgerStore) get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return value, nil
}

func (s *BadgerStore) set(key, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

func (s *BadgerStore) SharedLink(ctx context.Context, directory string) (storage.SharedLink, error) {
	value, err := s.get(badgerKey(nsSharedLink, directory))
	if err != nil {
		return "", fmt.Errorf("shared link for %q: %w", directory, err)
	}
	return storage.SharedLink(value), nil
}

func (s *BadgerStore) PutSharedLink(ctx context.Context, directory string, link storage.SharedLink) error {
	return s.set(badgerKey(nsSharedLink, directory), []byte(link))
}

func (s *BadgerStore) OwnerKey(ctx context.Context, link storage.SharedLink) ([]byte, error) {
	value, err := s.get(badgerKey(nsOwnerKey, string(link)))
	if err != nil {
		return nil, fmt.Errorf("owner key for %q: %w", link, err)
	}
	return value, nil
}

func (s *BadgerStore) PutOwnerKey(ctx context.Context, link storage.SharedLink, key []byte) error {
	return s.set(badgerKey(nsOwnerKey, string(link)), key)
}

func (s *BadgerStore) Cursor(ctx context.Context, link storage.SharedLink) (string, error) {
	value, err := s.get(badgerKey(nsCursor, string(link)))
	if err != nil {
		return "", fmt.Errorf("cursor for %q: %w", link, err)
	}
	return string(value), nil
}

func (s *BadgerStore) PutCursor(ctx context.Context, link storage.SharedLink, cursor string) error {
	return s.set(badgerKey(nsCursor, string(link)), []byte(cursor))
}

func (s *BadgerStore) Record(ctx context.Context, link storage.SharedLink, name string) ([]byte, error) {
	value, err := s.get(badgerKey(nsRecord, string(link), name))
	if err != nil {
		return nil, fmt.Errorf("record %q: %w", name, err)
	}
	return value, nil
}

func (s *BadgerStore) PutRecord(ctx context.Context, link storage.SharedLink, name string, data []byte) error {
	return s.set(badgerKey(nsRecord, string(link), name), data)
}

func (s *BadgerStore) DeleteRecord(ctx context.Context, link storage.SharedLink, name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(nsRecord, string(link), name))
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

func (s *BadgerStore) Records(ctx context.Context, link storage.SharedLink) (map[string][]byte, error) {
	prefix := badgerKey(nsRecord, string(link))
	prefix = append(prefix, 0)
	result := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(prefix):])
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[name] = value
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger scan: %w", err)
	}
	return result, nil
}

func (s *BadgerStore) Purge(ctx context.Context, directory string, link storage.SharedLink) error {
	records, err := s.Records(ctx, link)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		keys := [][]byte{
			badgerKey(nsSharedLink, directory),
			badgerKey(nsOwnerKey, string(link)),
			badgerKey(nsCursor, string(link)),
		}
		for name := range records {
			keys = append(keys, badgerKey(nsRecord, string(link), name))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger purge: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
