// Package queue implements the durable, ordered operation queue of the
// engine: pending mutations survive restarts, enqueue is idempotent by
// operation id, and bounded growth is enforced with a soft archival limit
// and a hard, loud drop limit.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tillsync/internal/logging"
	"github.com/dmitrijs2005/tillsync/internal/store"
	"github.com/google/uuid"
)

// Config holds the queue bounds.
type Config struct {
	// SoftLimit is the total active record count past which old synced
	// operations are archived.
	SoftLimit int
	// HardLimit bounds the unsynced record count. Crossing it drops the
	// oldest unsynced operations, each recorded as a permanent sync error.
	HardLimit int
	// ArchiveAge is the minimum age of a synced operation before it may
	// be archived.
	ArchiveAge time.Duration
}

// Queue is the ordered list of pending mutations, backed by the local
// store's pending_operations collection.
type Queue struct {
	store *store.Store
	log   logging.Logger
	cfg   Config
	now   func() time.Time
}

// New returns a Queue over the given store.
func New(s *store.Store, cfg Config, log logging.Logger) *Queue {
	return &Queue{store: s, log: log, cfg: cfg, now: time.Now}
}

// Enqueue adds an operation to the queue. A missing id is generated; an
// operation whose id is already queued is a no-op, which makes UI retries
// harmless. The payload is validated against its kind's schema before
// anything is written.
func (q *Queue) Enqueue(ctx context.Context, op *store.Operation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if err := ValidatePayload(op.Kind, op.Payload); err != nil {
		return err
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = q.now()
	}
	op.Status = store.StatusPending

	inserted, err := q.store.InsertOperation(ctx, op)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if !inserted {
		q.log.Debug(ctx, "duplicate enqueue ignored", "id", op.ID, "kind", op.Kind)
		return nil
	}

	return q.enforceLimits(ctx)
}

// Pending returns the operations awaiting sync, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]*store.Operation, error) {
	return q.store.ListOperationsByStatus(ctx, store.StatusPending)
}

// UnsyncedCount reports how many operations the server has not confirmed.
func (q *Queue) UnsyncedCount(ctx context.Context) (int, error) {
	return q.store.CountUnsynced(ctx)
}

// RecoverInFlight returns operations stuck in the syncing status back to
// pending. Called once at startup: a crash mid-cycle must not strand work.
func (q *Queue) RecoverInFlight(ctx context.Context) error {
	stuck, err := q.store.ListOperationsByStatus(ctx, store.StatusSyncing)
	if err != nil {
		return err
	}
	for _, op := range stuck {
		if err := q.store.MarkOperationStatus(ctx, op.ID, store.StatusPending); err != nil {
			return err
		}
		q.log.Warn(ctx, "recovered in-flight operation", "id", op.ID, "kind", op.Kind)
	}
	return nil
}

// enforceLimits applies the soft and hard bounds after a successful
// enqueue.
func (q *Queue) enforceLimits(ctx context.Context) error {
	active, err := q.store.CountActive(ctx)
	if err != nil {
		return err
	}
	if active > q.cfg.SoftLimit {
		moved, err := q.store.ArchiveOlderThan(ctx, q.cfg.ArchiveAge)
		if err != nil {
			q.log.Error(ctx, "soft-limit archival failed", "error", err)
		} else if moved > 0 {
			q.log.Info(ctx, "archived synced operations", "count", moved)
		}
	}

	unsynced, err := q.store.CountUnsynced(ctx)
	if err != nil {
		return err
	}
	if unsynced <= q.cfg.HardLimit {
		return nil
	}

	// hard limit: drop the oldest unsynced work, loudly
	excess := unsynced - q.cfg.HardLimit
	victims, err := q.store.OldestUnsynced(ctx, excess)
	if err != nil {
		return err
	}
	for _, op := range victims {
		opID := op.ID
		if err := q.store.AppendSyncError(ctx, &store.SyncError{
			OperationID: &opID,
			ErrorKind:   "permanent",
			Message:     fmt.Sprintf("dropped: unsynced queue exceeded hard limit of %d", q.cfg.HardLimit),
			Context:     string(op.Kind),
		}); err != nil {
			return err
		}
		if err := q.store.DeleteOperation(ctx, op.ID); err != nil {
			return err
		}
		q.log.Error(ctx, "dropped unsynced operation at hard limit",
			"id", op.ID, "kind", op.Kind, "created_at", op.CreatedAt)
	}
	return nil
}
