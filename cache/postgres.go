package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/graffiti-garden/byo-storage/cache/migrations"
	"github.com/graffiti-garden/byo-storage/internal/dbx"
	"github.com/graffiti-garden/byo-storage/storage"
)

// PostgresStore is a Store backed by PostgreSQL, for deployments where
// several processes share one cache (e.g. a fleet of subscribers behind the
// same channel).
type PostgresStore struct {
	db dbx.DBTX
}

// OpenPostgresStore connects to dsn via pgx and applies the embedded goose
// migrations.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	goose.SetBaseFS(migrations.Postgres)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an already migrated database handle. Both *sql.DB
// and *sql.Tx satisfy dbx.DBTX.
func NewPostgresStore(db dbx.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SharedLink(ctx context.Context, directory string) (storage.SharedLink, error) {
	var link string
	query := `SELECT link FROM shared_links WHERE directory=$1`
	err := s.db.QueryRowContext(ctx, query, directory).Scan(&link)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("shared link for %q: %w", directory, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}
	return storage.SharedLink(link), nil
}

func (s *PostgresStore) PutSharedLink(ctx context.Context, directory string, link storage.SharedLink) error {
	query := `
		INSERT INTO shared_links (directory, link) VALUES ($1, $2)
		ON CONFLICT (directory) DO UPDATE SET link = EXCLUDED.link
	`
	if _, err := s.db.ExecContext(ctx, query, directory, string(link)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *PostgresStore) OwnerKey(ctx context.Context, link storage.SharedLink) ([]byte, error) {
	var key []byte
	query := `SELECT owner_key FROM owner_keys WHERE link=$1`
	err := s.db.QueryRowContext(ctx, query, string(link)).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("owner key for %q: %w", link, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return key, nil
}

func (s *PostgresStore) PutOwnerKey(ctx context.Context, link storage.SharedLink, key []byte) error {
	query := `
		INSERT INTO owner_keys (link, owner_key) VALUES ($1, $2)
		ON CONFLICT (link) DO UPDATE SET owner_key = EXCLUDED.owner_key
	`
	if _, err := s.db.ExecContext(ctx, query, string(link), key); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *PostgresStore) Cursor(ctx context.Context, link storage.SharedLink) (string, error) {
	var cursor string
	query := `SELECT cursor FROM cursors WHERE link=$1`
	err := s.db.QueryRowContext(ctx, query, string(link)).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("cursor for %q: %w", link, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}
	return cursor, nil
}

func (s *PostgresStore) PutCursor(ctx context.Context, link storage.SharedLink, cursor string) error {
	query := `
		INSERT INTO cursors (link, cursor) VALUES ($1, $2)
		ON CONFLICT (link) DO UPDATE SET cursor = EXCLUDED.cursor
	`
	if _, err := s.db.ExecContext(ctx, query, string(link), cursor); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, link storage.SharedLink, name string) ([]byte, error) {
	var data []byte
	query := `SELECT data FROM records WHERE link=$1 AND name=$2`
	err := s.db.QueryRowContext(ctx, query, string(link), name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return data, nil
}

func (s *PostgresStore) PutRecord(ctx context.Context, link storage.SharedLink, name string, data []byte) error {
	query := `
		INSERT INTO records (link, name, data) VALUES ($1, $2, $3)
		ON CONFLICT (link, name) DO UPDATE SET data = EXCLUDED.data
	`
	if _, err := s.db.ExecContext(ctx, query, string(link), name, data); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, link storage.SharedLink, name string) error {
	query := `DELETE FROM records WHERE link=$1 AND name=$2`
	if _, err := s.db.ExecContext(ctx, query, string(link), name); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *PostgresStore) Records(ctx context.Context, link storage.SharedLink) (map[string][]byte, error) {
	query := `SELECT name, data FROM records WHERE link=$1`
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

func (s *PostgresStore) Purge(ctx context.Context, directory string, link storage.SharedLink) error {
	for _, q := range []struct {
		query string
		arg   string
	}{
		{`DELETE FROM shared_links WHERE directory=$1`, directory},
		{`DELETE FROM owner_keys WHERE link=$1`, string(link)},
		{`DELETE FROM cursors WHERE link=$1`, string(link)},
		{`DELETE FROM records WHERE link=$1`, string(link)},
	} {
		if _, err := s.db.ExecContext(ctx, q.query, q.arg); err != nil {
			return fmt.Errorf("failed to purge cache: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sql.DB); ok {
		return db.Close()
	}
	return nil
}
