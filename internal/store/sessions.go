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

// PutSession stores (or replaces) cached credential material for one
// identity. Called only after a successful online authentication.
func (s *Store) PutSession(ctx context.Context, sess *Session) error {
	if sess.CachedAt.IsZero() {
		sess.CachedAt = s.now()
	}
	return s.withWrite(ctx, CollectionSessions, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (identity, credential_hash, salt, cached_at, ttl)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(identity) DO UPDATE SET credential_hash = excluded.credential_hash,
				salt = excluded.salt,
				cached_at = excluded.cached_at,
				ttl = excluded.ttl`,
			sess.Identity, sess.CredentialHash, sess.Salt,
			sess.CachedAt.UnixMilli(), int64(sess.TTL/time.Millisecond))
		if err != nil {
			return fmt.Errorf("failed to upsert session: %w", err)
		}
		return nil
	})
}

// GetSession returns the cached session record for identity, expired or
// not. TTL enforcement is the caller's concern (the authentication cache
// distinguishes "expired" from "absent").
func (s *Store) GetSession(ctx context.Context, identity string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT identity, credential_hash, salt, cached_at, ttl FROM sessions WHERE identity = ?`,
		identity)

	sess := &Session{}
	var cachedAt, ttlMillis int64
	if err := row.Scan(&sess.Identity, &sess.CredentialHash, &sess.Salt, &cachedAt, &ttlMillis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	sess.CachedAt = time.UnixMilli(cachedAt).UTC()
	sess.TTL = time.Duration(ttlMillis) * time.Millisecond
	return sess, nil
}

// DeleteSession wipes the cached credential for identity.
func (s *Store) DeleteSession(ctx context.Context, identity string) error {
	return s.withWrite(ctx, CollectionSessions, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE identity = ?`, identity)
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}

// DeleteExpiredSessions removes sessions past their TTL.
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int, error) {
	now := s.now().UnixMilli()
	removed := 0
	err := s.withWrite(ctx, CollectionSessions, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE cached_at + ttl < ?`, now)
		if err != nil {
			return fmt.Errorf("failed to delete expired sessions: %w", err)
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
