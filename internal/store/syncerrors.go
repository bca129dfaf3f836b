package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tillsync/internal/dbx"
)

// AppendSyncError durably records a failed operation or phase. Records are
// never mutated afterwards and never block other work.
func (s *Store) AppendSyncError(ctx context.Context, e *SyncError) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	return s.withWrite(ctx, CollectionSyncErrors, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sync_errors (operation_id, error_kind, message, context, timestamp)
			 VALUES (?, ?, ?, ?, ?)`,
			e.OperationID, e.ErrorKind, e.Message, e.Context, e.Timestamp.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to insert sync error: %w", err)
		}
		return nil
	})
}

// ListSyncErrors returns up to limit most recent error records.
func (s *Store) ListSyncErrors(ctx context.Context, limit int) ([]*SyncError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation_id, error_kind, message, context, timestamp
		 FROM sync_errors ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select sync errors: %w", err)
	}
	defer rows.Close()

	var result []*SyncError
	for rows.Next() {
		e := &SyncError{}
		var ts int64
		if err := rows.Scan(&e.ID, &e.OperationID, &e.ErrorKind, &e.Message, &e.Context, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		result = append(result, e)
	}
	return result, rows.Err()
}

// ListSyncErrorsForOperation returns every error record naming the given
// operation id, oldest first.
func (s *Store) ListSyncErrorsForOperation(ctx context.Context, operationID string) ([]*SyncError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation_id, error_kind, message, context, timestamp
		 FROM sync_errors WHERE operation_id = ? ORDER BY timestamp ASC, id ASC`, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to select sync errors: %w", err)
	}
	defer rows.Close()

	var result []*SyncError
	for rows.Next() {
		e := &SyncError{}
		var ts int64
		if err := rows.Scan(&e.ID, &e.OperationID, &e.ErrorKind, &e.Message, &e.Context, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		result = append(result, e)
	}
	return result, rows.Err()
}

// PruneSyncErrorsOlderThan applies the retention policy to error records.
func (s *Store) PruneSyncErrorsOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age).UnixMilli()
	removed := 0
	err := s.withWrite(ctx, CollectionSyncErrors, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sync_errors WHERE timestamp < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune sync errors: %w", err)
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
