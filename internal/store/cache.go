package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tillsync/internal/common"
	"github.com/dmitrijs2005/tillsync/internal/dbx"
)

// PutCacheEntries replaces reference-data entries in a single all-or-nothing
// batch: completion is only reported after every individual write has
// confirmed, and a failed item rolls back the whole batch so partial
// in-flight state is never visible.
func (s *Store) PutCacheEntries(ctx context.Context, entries []*CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.withWrite(ctx, CollectionCache, func(ctx context.Context, tx dbx.DBTX) error {
		for _, e := range entries {
			cachedAt := e.CachedAt
			if cachedAt.IsZero() {
				cachedAt = s.now()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO cache_entries (key, value, cached_at, ttl)
				 VALUES (?, ?, ?, ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value,
					cached_at = excluded.cached_at,
					ttl = excluded.ttl`,
				e.Key, e.Value, cachedAt.UnixMilli(), int64(e.TTL/time.Millisecond))
			if err != nil {
				return fmt.Errorf("failed to upsert cache entry %q: %w", e.Key, err)
			}
		}
		return nil
	})
}

// GetCacheEntry returns the entry for key with its Stale flag computed.
// An expired entry is still returned (staleness is preferable to
// unavailability while offline); the caller decides whether to trust it.
func (s *Store) GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, value, cached_at, ttl FROM cache_entries WHERE key = ?`, key)

	e := &CacheEntry{}
	var cachedAt, ttlMillis int64
	if err := row.Scan(&e.Key, &e.Value, &cachedAt, &ttlMillis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	e.CachedAt = time.UnixMilli(cachedAt).UTC()
	e.TTL = time.Duration(ttlMillis) * time.Millisecond
	e.Stale = e.Expired(s.now())
	return e, nil
}

// ListStaleCacheKeys returns the keys of entries past their TTL, served by
// the cached_at index. The sync orchestrator refreshes these first.
func (s *Store) ListStaleCacheKeys(ctx context.Context) ([]string, error) {
	now := s.now().UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM cache_entries WHERE cached_at + ttl < ?`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to select stale keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// HasFreshCacheEntry reports whether at least one unexpired reference-data
// entry exists. It feeds the cache-freshness connectivity signal.
func (s *Store) HasFreshCacheEntry(ctx context.Context) (bool, error) {
	now := s.now().UnixMilli()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE cached_at + ttl >= ? LIMIT 1`, now).Scan(&n)
	return n > 0, err
}

// PruneExpiredCache deletes entries past their TTL. It runs only from the
// sync cycle's prune phase, i.e. while the server is reachable and a
// refresh has just happened.
func (s *Store) PruneExpiredCache(ctx context.Context) (int, error) {
	now := s.now().UnixMilli()
	removed := 0
	err := s.withWrite(ctx, CollectionCache, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE cached_at + ttl < ?`, now)
		if err != nil {
			return fmt.Errorf("failed to prune cache: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = int(n)
		return nil
	})
	return removed, err
}
