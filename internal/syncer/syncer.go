// Package syncer drains the operation queue and refreshes local caches
// whenever the server is reachable. One sync cycle is active at a time; a
// trigger arriving mid-cycle schedules exactly one rerun instead of a
// concurrent cycle.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/tillsync/internal/authcache"
	"github.com/dmitrijs2005/tillsync/internal/common"
	"github.com/dmitrijs2005/tillsync/internal/connectivity"
	"github.com/dmitrijs2005/tillsync/internal/events"
	"github.com/dmitrijs2005/tillsync/internal/logging"
	"github.com/dmitrijs2005/tillsync/internal/queue"
	"github.com/dmitrijs2005/tillsync/internal/store"
	"github.com/dmitrijs2005/tillsync/internal/upstream"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// State is the orchestrator lifecycle state.
type State int

const (
	Idle State = iota
	Syncing
	IdleWithPendingRerun
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case IdleWithPendingRerun:
		return "idle-with-pending-rerun"
	default:
		return "unknown"
	}
}

const jitterPercent = 20

type Config struct {
	// RetrySchedule is the fixed per-operation backoff schedule, with ±20%
	// jitter added to each delay.
	RetrySchedule []time.Duration

	// ReferenceKeys are always refreshed during the cache phase, on top of
	// whatever entries are already stale.
	ReferenceKeys []string

	// CacheTTL applies to fetched reference entries that carry no TTL of
	// their own.
	CacheTTL time.Duration

	// ArchiveRetention and ErrorRetention bound the maintenance phase.
	ArchiveRetention time.Duration
	ErrorRetention   time.Duration
}

// Orchestrator runs sync cycles against the upstream server.
type Orchestrator struct {
	store  *store.Store
	queue  *queue.Queue
	client upstream.Client
	auth   *authcache.Cache
	bus    *events.Bus
	log    logging.Logger
	cfg    Config

	mu    sync.Mutex
	state State
	rerun bool

	trigger chan struct{}
	done    chan struct{}

	now func() time.Time
}

func New(s *store.Store, q *queue.Queue, client upstream.Client, auth *authcache.Cache,
	cfg Config, bus *events.Bus, log logging.Logger) *Orchestrator {
	return &Orchestrator{
		store:   s,
		queue:   q,
		client:  client,
		auth:    auth,
		bus:     bus,
		log:     log,
		cfg:     cfg,
		state:   Idle,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// RequestSync asks for a sync cycle. During an active cycle the request is
// remembered and exactly one rerun happens when the cycle completes;
// multiple requests coalesce.
func (o *Orchestrator) RequestSync() {
	o.mu.Lock()
	if o.state == Syncing {
		o.rerun = true
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run consumes connectivity transitions and sync requests until ctx is
// cancelled. A transition into a reachable state triggers a cycle; cycles
// run in this goroutine, so at most one is ever active.
func (o *Orchestrator) Run(ctx context.Context, changes <-chan connectivity.Change) {
	defer close(o.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			if ch.State.Reachable() {
				o.runCycle(ctx)
			}
		case <-o.trigger:
			o.runCycle(ctx)
		}
	}
}

// Wait blocks until Run has returned.
func (o *Orchestrator) Wait() {
	<-o.done
}

func (o *Orchestrator) runCycle(ctx context.Context) {
	for {
		o.setState(Syncing)
		o.bus.Publish(events.SyncStarted{})
		o.log.Info(ctx, "sync cycle started")

		success, failure := o.flush(ctx)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(o.runPhase(gctx, "user-directory", o.refreshUserDirectory))
		g.Go(o.runPhase(gctx, "reference-data", o.refreshReferenceData))
		g.Go(o.runPhase(gctx, "maintenance", o.maintenance))
		_ = g.Wait()

		o.bus.Publish(events.SyncCompleted{SuccessCount: success, FailureCount: failure})
		o.log.Info(ctx, "sync cycle completed", "success", success, "failure", failure)

		o.mu.Lock()
		if !o.rerun {
			o.state = Idle
			o.mu.Unlock()
			return
		}
		o.rerun = false
		o.state = IdleWithPendingRerun
		o.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
	}
}

// runPhase wraps a concurrent phase so every phase reports progress on the
// bus, keeping UI consumers informed past the flush.
func (o *Orchestrator) runPhase(ctx context.Context, name string, fn func(context.Context)) func() error {
	return func() error {
		fn(ctx)
		o.bus.Publish(events.SyncProgress{Phase: name, CompletedCount: 1, TotalCount: 1})
		return nil
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// flush submits every pending operation in creation order. A permanent
// rejection marks the operation failed and moves on; a transient failure
// that survives the whole retry schedule leaves the operation pending and
// aborts the rest of the flush, since the server is evidently not talking
// to us anymore.
func (o *Orchestrator) flush(ctx context.Context) (success, failure int) {
	ops, err := o.queue.Pending(ctx)
	if err != nil {
		o.recordPhaseError(ctx, "phase:flush", err)
		return 0, 0
	}

	total := len(ops)
	for i, op := range ops {
		if ctx.Err() != nil {
			return success, failure
		}

		if err := o.store.MarkOperationStatus(ctx, op.ID, store.StatusSyncing); err != nil {
			o.recordPhaseError(ctx, "phase:flush", err)
			return success, failure
		}

		err := o.submit(ctx, op)
		switch {
		case err == nil:
			if err := o.store.MarkOperationStatus(ctx, op.ID, store.StatusSynced); err != nil {
				o.recordPhaseError(ctx, "phase:flush", err)
			}
			success++

		case common.Classify(err) == common.FailurePermanent:
			failure++
			o.log.Warn(ctx, "operation rejected by server", "operation", op.ID, "error", err)
			if merr := o.store.MarkOperationStatus(ctx, op.ID, store.StatusFailedPermanent); merr != nil {
				o.recordPhaseError(ctx, "phase:flush", merr)
			}
			o.recordOperationError(ctx, op.ID, common.FailurePermanent, err)

		default:
			// transient exhaustion: put the operation back and stop the flush
			failure++
			o.log.Warn(ctx, "operation submission exhausted retries, leaving pending",
				"operation", op.ID, "error", err)
			if merr := o.store.MarkOperationStatus(ctx, op.ID, store.StatusPending); merr != nil {
				o.recordPhaseError(ctx, "phase:flush", merr)
			}
			if ierr := o.store.IncrementOperationRetry(ctx, op.ID); ierr != nil {
				o.recordPhaseError(ctx, "phase:flush", ierr)
			}
			o.recordOperationError(ctx, op.ID, common.FailureTransient, err)
			o.bus.Publish(events.SyncProgress{Phase: "flush", CompletedCount: i + 1, TotalCount: total})
			return success, failure
		}

		o.bus.Publish(events.SyncProgress{Phase: "flush", CompletedCount: i + 1, TotalCount: total})
	}
	return success, failure
}

// submit sends one operation, retrying transient failures per the schedule.
// Re-submission after an ambiguous outcome is safe: the operation ID is the
// idempotency key.
func (o *Orchestrator) submit(ctx context.Context, op *store.Operation) error {
	b := retry.WithJitterPercent(jitterPercent, scheduleBackoff(o.cfg.RetrySchedule))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := o.client.SubmitOperation(ctx, op)
		if err == nil {
			return nil
		}
		if common.Classify(err) == common.FailurePermanent {
			return err
		}
		return retry.RetryableError(err)
	})
}

// scheduleBackoff yields the fixed delays once each, then stops. An
// operation therefore gets len(schedule)+1 submission attempts per cycle.
func scheduleBackoff(delays []time.Duration) retry.Backoff {
	i := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if i >= len(delays) {
			return 0, true
		}
		d := delays[i]
		i++
		return d, false
	})
}

// refreshUserDirectory pulls the staff directory and revokes cached offline
// sessions of deactivated users. The directory itself is cached so the
// application can render it while offline.
func (o *Orchestrator) refreshUserDirectory(ctx context.Context) {
	users, err := o.client.FetchUserDirectory(ctx)
	if err != nil {
		o.recordPhaseError(ctx, "phase:user-directory", err)
		return
	}

	for _, u := range users {
		if u.Active {
			continue
		}
		if err := o.auth.ClearOfflineData(ctx, u.Identity); err != nil && !errors.Is(err, common.ErrNotFound) {
			o.recordPhaseError(ctx, "phase:user-directory", err)
		}
	}

	value, err := marshalDirectory(users)
	if err != nil {
		o.recordPhaseError(ctx, "phase:user-directory", err)
		return
	}
	entry := &store.CacheEntry{
		Key:      "users/directory",
		Value:    value,
		CachedAt: o.now(),
		TTL:      o.cfg.CacheTTL,
	}
	if err := o.store.PutCacheEntries(ctx, []*store.CacheEntry{entry}); err != nil {
		o.recordPhaseError(ctx, "phase:user-directory", err)
	}
}

// refreshReferenceData re-fetches the configured reference sets plus every
// entry that has gone stale, writing them back as one batch.
func (o *Orchestrator) refreshReferenceData(ctx context.Context) {
	stale, err := o.store.ListStaleCacheKeys(ctx)
	if err != nil {
		o.recordPhaseError(ctx, "phase:reference-data", err)
		return
	}

	keys := mergeKeys(o.cfg.ReferenceKeys, stale)
	if len(keys) == 0 {
		return
	}

	items, err := o.client.FetchReferenceData(ctx, keys)
	if err != nil {
		o.recordPhaseError(ctx, "phase:reference-data", err)
		return
	}
	if len(items) == 0 {
		return
	}

	now := o.now()
	entries := make([]*store.CacheEntry, 0, len(items))
	for _, it := range items {
		ttl := o.cfg.CacheTTL
		if it.TTL > 0 {
			ttl = time.Duration(it.TTL) * time.Millisecond
		}
		entries = append(entries, &store.CacheEntry{
			Key:      it.Key,
			Value:    it.Value,
			CachedAt: now,
			TTL:      ttl,
		})
	}
	if err := o.store.PutCacheEntries(ctx, entries); err != nil {
		o.recordPhaseError(ctx, "phase:reference-data", err)
	}
}

// maintenance prunes expired cache entries, old archived operations, old
// error records and expired offline sessions.
func (o *Orchestrator) maintenance(ctx context.Context) {
	if _, err := o.store.PruneExpiredCache(ctx); err != nil {
		o.recordPhaseError(ctx, "phase:maintenance", err)
	}
	if _, err := o.store.PruneArchivedOlderThan(ctx, o.cfg.ArchiveRetention); err != nil {
		o.recordPhaseError(ctx, "phase:maintenance", err)
	}
	if _, err := o.store.PruneSyncErrorsOlderThan(ctx, o.cfg.ErrorRetention); err != nil {
		o.recordPhaseError(ctx, "phase:maintenance", err)
	}
	if _, err := o.auth.PruneExpired(ctx); err != nil {
		o.recordPhaseError(ctx, "phase:maintenance", err)
	}
}

func (o *Orchestrator) recordOperationError(ctx context.Context, opID string, kind common.FailureKind, cause error) {
	rec := &store.SyncError{
		OperationID: &opID,
		ErrorKind:   kind.String(),
		Message:     cause.Error(),
		Context:     "sync:submit",
		Timestamp:   o.now(),
	}
	if err := o.store.AppendSyncError(ctx, rec); err != nil {
		o.log.Error(ctx, "failed to record operation error", "operation", opID, "error", err)
	}
}

// recordPhaseError keeps one failing phase from touching the others: the
// failure becomes a durable error record and the cycle goes on.
func (o *Orchestrator) recordPhaseError(ctx context.Context, phase string, cause error) {
	o.log.Warn(ctx, "sync phase error", "phase", phase, "error", cause)
	rec := &store.SyncError{
		ErrorKind: common.Classify(cause).String(),
		Message:   cause.Error(),
		Context:   phase,
		Timestamp: o.now(),
	}
	if err := o.store.AppendSyncError(ctx, rec); err != nil {
		o.log.Error(ctx, "failed to record phase error", "phase", phase, "error", err)
	}
}

func mergeKeys(fixed, stale []string) []string {
	seen := make(map[string]struct{}, len(fixed)+len(stale))
	out := make([]string, 0, len(fixed)+len(stale))
	for _, k := range fixed {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	for _, k := range stale {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

func marshalDirectory(users []upstream.UserRecord) ([]byte, error) {
	data, err := json.Marshal(users)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
	}
	return data, nil
}
