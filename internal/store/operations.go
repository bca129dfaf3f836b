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

// InsertOperation inserts op unless an operation with the same id already
// exists. The returned bool reports whether a row was actually inserted,
// which makes enqueue idempotent for the caller.
func (s *Store) InsertOperation(ctx context.Context, op *Operation) (bool, error) {
	inserted := false
	err := s.withWrite(ctx, CollectionOperations, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO pending_operations (id, kind, payload, status, retry_count, created_at, synced_at)
			 VALUES (?, ?, ?, ?, ?, ?, NULL)`,
			op.ID, string(op.Kind), op.Payload, string(op.Status), op.RetryCount, op.CreatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to insert operation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted = n == 1
		return nil
	})
	return inserted, err
}

// GetOperation returns the operation with the given id from the active
// queue, or common.ErrNotFound.
func (s *Store) GetOperation(ctx context.Context, id string) (*Operation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, payload, status, retry_count, created_at, synced_at
		 FROM pending_operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	return op, err
}

// ListOperationsByStatus returns operations with the given status ordered
// by creation time. The query is served by the (status, created_at) index,
// never by a full-collection load.
func (s *Store) ListOperationsByStatus(ctx context.Context, status OperationStatus) ([]*Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, payload, status, retry_count, created_at, synced_at
		 FROM pending_operations WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to select operations: %w", err)
	}
	defer rows.Close()

	var result []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, op)
	}
	return result, rows.Err()
}

// CountOperationsByStatus counts operations in the given status using the
// status index.
func (s *Store) CountOperationsByStatus(ctx context.Context, status OperationStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_operations WHERE status = ?`, string(status)).Scan(&n)
	return n, err
}

// CountUnsynced counts operations not yet confirmed by the server.
func (s *Store) CountUnsynced(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_operations WHERE status IN (?, ?)`,
		string(StatusPending), string(StatusSyncing)).Scan(&n)
	return n, err
}

// CountActive counts every operation still in the hot collection.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations`).Scan(&n)
	return n, err
}

// MarkOperationStatus updates the status of one operation. Transitioning
// to synced also stamps synced_at.
func (s *Store) MarkOperationStatus(ctx context.Context, id string, status OperationStatus) error {
	return s.withWrite(ctx, CollectionOperations, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		if status == StatusSynced {
			_, err = tx.ExecContext(ctx,
				`UPDATE pending_operations SET status = ?, synced_at = ? WHERE id = ?`,
				string(status), s.now().UnixMilli(), id)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE pending_operations SET status = ? WHERE id = ?`,
				string(status), id)
		}
		if err != nil {
			return fmt.Errorf("failed to update operation status: %w", err)
		}
		return nil
	})
}

// IncrementOperationRetry bumps the retry counter of one operation.
func (s *Store) IncrementOperationRetry(ctx context.Context, id string) error {
	return s.withWrite(ctx, CollectionOperations, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE pending_operations SET retry_count = retry_count + 1 WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to increment retry count: %w", err)
		}
		return nil
	})
}

// DeleteOperation removes one operation from the active queue.
func (s *Store) DeleteOperation(ctx context.Context, id string) error {
	return s.withWrite(ctx, CollectionOperations, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete operation: %w", err)
		}
		return nil
	})
}

// OldestUnsynced returns up to limit unsynced operations, oldest first.
// Used by the queue's hard-limit drop path.
func (s *Store) OldestUnsynced(ctx context.Context, limit int) ([]*Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, payload, status, retry_count, created_at, synced_at
		 FROM pending_operations WHERE status IN (?, ?)
		 ORDER BY created_at ASC, id ASC LIMIT ?`,
		string(StatusPending), string(StatusSyncing), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select oldest unsynced: %w", err)
	}
	defer rows.Close()

	var result []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, op)
	}
	return result, rows.Err()
}

// ArchiveOlderThan moves synced operations older than age into the archive
// collection, bounding the size of the hot collection. Unsynced operations
// are never archived. Returns the number of operations moved.
func (s *Store) ArchiveOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age).UnixMilli()
	moved := 0
	err := s.withWrite(ctx, CollectionOperations, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO archived_operations (id, kind, payload, status, retry_count, created_at, synced_at, archived_at)
			 SELECT id, kind, payload, status, retry_count, created_at, synced_at, ?
			 FROM pending_operations WHERE status = ? AND created_at < ?`,
			s.now().UnixMilli(), string(StatusSynced), cutoff)
		if err != nil {
			return fmt.Errorf("failed to copy to archive: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM pending_operations WHERE status = ? AND created_at < ?`,
			string(StatusSynced), cutoff)
		if err != nil {
			return fmt.Errorf("failed to remove archived rows: %w", err)
		}
		moved = int(n)
		return nil
	})
	return moved, err
}

// PruneArchivedOlderThan deletes archived operations past the retention
// window. Returns the number of rows removed.
func (s *Store) PruneArchivedOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age).UnixMilli()
	removed := 0
	err := s.withWrite(ctx, CollectionArchived, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM archived_operations WHERE archived_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune archive: %w", err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(r rowScanner) (*Operation, error) {
	op := &Operation{}
	var kind, status string
	var createdAt int64
	var syncedAt sql.NullInt64
	if err := r.Scan(&op.ID, &kind, &op.Payload, &status, &op.RetryCount, &createdAt, &syncedAt); err != nil {
		return nil, err
	}
	op.Kind = OperationKind(kind)
	op.Status = OperationStatus(status)
	op.CreatedAt = time.UnixMilli(createdAt).UTC()
	if syncedAt.Valid {
		t := time.UnixMilli(syncedAt.Int64).UTC()
		op.SyncedAt = &t
	}
	return op, nil
}
