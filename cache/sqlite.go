package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/graffiti-garden/byo-storage/cache/migrations"
	"github.com/graffiti-garden/byo-storage/internal/dbx"
	"github.com/graffiti-garden/byo-storage/storage"
)

// SQLiteStore is a Store backed by a local SQLite database. It is the
// default durable cache for single-process use.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at dsn and applies the
// embedded goose migrations.
func OpenSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	goose.SetBaseFS(migrations.SQLite)
	if err := goose.SetDialect("sqlite3"); err != nil {
		log.Fatal("failed to set goose dialect:", err)
	}
	if err := goose.UpContext(ctx, db, "sqlite"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStore wraps an already migrated database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) SharedLink(ctx context.Context, directory string) (storage.SharedLink, error) {
	var link string
	query := `SELECT link FROM shared_links WHERE directory=?`
	err := s.db.QueryRowContext(ctx, query, directory).Scan(&link)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("shared link for %q: %w", directory, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to select shared link: %w", err)
	}
	return storage.SharedLink(link), nil
}

func (s *SQLiteStore) PutSharedLink(ctx context.Context, directory string, link storage.SharedLink) error {
	query := `
		INSERT INTO shared_links (directory, link) VALUES (?, ?)
		ON CONFLICT (directory) DO UPDATE SET link = excluded.link
	`
	if _, err := s.db.ExecContext(ctx, query, directory, string(link)); err != nil {
		return fmt.Errorf("failed to upsert shared link: %w", err)
	}
	return nil
}

func (s *SQLiteStore) OwnerKey(ctx context.Context, link storage.SharedLink) ([]byte, error) {
	var key []byte
	query := `SELECT owner_key FROM owner_keys WHERE link=?`
	err := s.db.QueryRowContext(ctx, query, string(link)).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("owner key for %q: %w", link, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select owner key: %w", err)
	}
	return key, nil
}

func (s *SQLiteStore) PutOwnerKey(ctx context.Context, link storage.SharedLink, key []byte) error {
	query := `
		INSERT INTO owner_keys (link, owner_key) VALUES (?, ?)
		ON CONFLICT (link) DO UPDATE SET owner_key = excluded.owner_key
	`
	if _, err := s.db.ExecContext(ctx, query, string(link), key); err != nil {
		return fmt.Errorf("failed to upsert owner key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Cursor(ctx context.Context, link storage.SharedLink) (string, error) {
	var cursor string
	query := `SELECT cursor FROM cursors WHERE link=?`
	err := s.db.QueryRowContext(ctx, query, string(link)).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("cursor for %q: %w", link, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to select cursor: %w", err)
	}
	return cursor, nil
}

func (s *SQLiteStore) PutCursor(ctx context.Context, link storage.SharedLink, cursor string) error {
	query := `
		INSERT INTO cursors (link, cursor) VALUES (?, ?)
		ON CONFLICT (link) DO UPDATE SET cursor = excluded.cursor
	`
	if _, err := s.db.ExecContext(ctx, query, string(link), cursor); err != nil {
		return fmt.Errorf("failed to upsert cursor: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Record(ctx context.Context, link storage.SharedLink, name string) ([]byte, error) {
	var data []byte
	query := `SELECT data FROM records WHERE link=? AND name=?`
	err := s.db.QueryRowContext(ctx, query, string(link), name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select record: %w", err)
	}
	return data, nil
}

func (s *SQLiteStore) PutRecord(ctx context.Context, link storage.SharedLink, name string, data []byte) error {
	query := `
		INSERT INTO records (link, name, data) VALUES (?, ?, ?)
		ON CONFLICT (link, name) DO UPDATE SET data = excluded.data
	`
	if _, err := s.db.ExecContext(ctx, query, string(link), name, data); err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteRecord(ctx context.Context, link storage.SharedLink, name string) error {
	query := `DELETE FROM records WHERE link=? AND name=?`
	if _, err := s.db.ExecContext(ctx, query, string(link), name); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Records(ctx context.Context, link storage.SharedLink) (map[string][]byte, error) {
	query := `SELECT name, data FROM records WHERE link=?`
	rows, err := s.db.QueryContext(ctx, query, string(link))
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var name string
		var data []byte
		if err := rows.Scan(&name, &data); err != nil {
			return nil, err
		}
		result[name] = data
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStore) Purge(ctx context.Context, directory string, link storage.SharedLink) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, q := range []struct {
			query string
			arg   string
		}{
			{`DELETE FROM shared_links WHERE directory=?`, directory},
			{`DELETE FROM owner_keys WHERE link=?`, string(link)},
			{`DELETE FROM cursors WHERE link=?`, string(link)},
			{`DELETE FROM records WHERE link=?`, string(link)},
		} {
			if _, err := tx.ExecContext(ctx, q.query, q.arg); err != nil {
				return fmt.Errorf("failed to purge cache: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
