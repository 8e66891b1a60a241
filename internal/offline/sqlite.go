package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteCache persists cache blobs in a device-local SQLite file so the
// ledger stays viewable across gateway restarts while offline.
type SQLiteCache struct {
	db *sql.DB
}

// OpenSQLiteCache opens (or creates) the cache database at path.
func OpenSQLiteCache(ctx context.Context, path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("offline: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	c, err := NewSQLiteCache(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// NewSQLiteCache uses an already opened database, creating the table if needed.
func NewSQLiteCache(ctx context.Context, db *sql.DB) (*SQLiteCache, error) {
	const ddl = `
	CREATE TABLE IF NOT EXISTS offline_cache (
		cache_key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		last_fetch INTEGER NOT NULL
	);`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("offline: migrate sqlite: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Get loads the blob stored for key.
func (c *SQLiteCache) Get(ctx context.Context, key string) (CacheEntry, bool, error) {
	var (
		value []byte
		nanos int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT value, last_fetch FROM offline_cache WHERE cache_key = ?`, key).Scan(&value, &nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("offline: sqlite get %s: %w", key, err)
	}
	return CacheEntry{Value: value, LastFetch: time.Unix(0, nanos).UTC()}, true, nil
}

// Set upserts the blob for key.
func (c *SQLiteCache) Set(ctx context.Context, key string, entry CacheEntry) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO offline_cache (cache_key, value, last_fetch) VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET value = excluded.value, last_fetch = excluded.last_fetch`,
		key, []byte(entry.Value), entry.LastFetch.UnixNano())
	if err != nil {
		return fmt.Errorf("offline: sqlite set %s: %w", key, err)
	}
	return nil
}

// Invalidate removes the blob for key.
func (c *SQLiteCache) Invalidate(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM offline_cache WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("offline: sqlite delete %s: %w", key, err)
	}
	return nil
}

// Close releases the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
