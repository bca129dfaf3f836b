package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/tillsync/internal/common"
	"github.com/dmitrijs2005/tillsync/internal/dbx"
	"github.com/dmitrijs2005/tillsync/internal/logging"
	"github.com/dmitrijs2005/tillsync/internal/store/migrations"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
)

// jitterPercent is applied to every delay of the retry schedule to avoid
// thundering-herd retries across collections.
const jitterPercent = 20

// Store is the single owner of all durable engine state. Writes go through
// one retrying transactional primitive; at most one write transaction per
// collection is active at a time, a second write against the same
// collection queues behind the first.
type Store struct {
	db       *sql.DB
	log      logging.Logger
	schedule []time.Duration
	degraded bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// Open opens (or creates) the SQLite database at dsn and runs migrations.
//
// If the database cannot be opened at all, the store degrades to a
// memory-only, non-durable database and logs a persistent warning instead
// of failing: the engine keeps operating, state is lost on restart.
// Degraded reports this condition.
func Open(ctx context.Context, dsn string, schedule []time.Duration, log logging.Logger) (*Store, error) {
	db, err := openAndMigrate(ctx, dsn)
	degraded := false
	if err != nil {
		log.Error(ctx, "local store unavailable, degrading to memory-only mode; state will not survive a restart",
			"dsn", dsn, "error", err)
		db, err = openAndMigrate(ctx, ":memory:")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
		}
		degraded = true
	}

	return &Store{
		db:       db,
		log:      log,
		schedule: schedule,
		degraded: degraded,
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}, nil
}

func openAndMigrate(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Degraded reports whether the store is running memory-only because the
// on-disk database could not be opened.
func (s *Store) Degraded() bool {
	return s.degraded
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lockFor(collection string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[collection]
	if !ok {
		l = &sync.Mutex{}
		s.locks[collection] = l
	}
	return l
}

// scheduleBackoff yields the fixed delays once each, then stops. A write
// therefore gets len(schedule)+1 tries in total.
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

// withWrite runs fn inside a transaction against the given collection,
// serialized with other writes to the same collection and retried on
// transient failure per the fixed schedule with added jitter.
//
// Permanent failures are never retried. Any final failure is recorded as a
// sync error record before being returned, so the caller may treat the
// write as "not yet durable" and re-attempt later.
func (s *Store) withWrite(ctx context.Context, collection string, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	l := s.lockFor(collection)
	l.Lock()
	defer l.Unlock()

	attempt := 0
	b := retry.WithJitterPercent(jitterPercent, scheduleBackoff(s.schedule))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := dbx.WithTx(ctx, s.db, nil, fn)
		if err == nil {
			return nil
		}
		if common.Classify(err) == common.FailurePermanent {
			return err
		}
		s.log.Debug(ctx, "transient write failure",
			"collection", collection, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}

	kind := common.Classify(err)
	if kind != common.FailurePermanent {
		err = fmt.Errorf("%w (collection %s, %d attempts): %v",
			common.ErrWriteExhausted, collection, attempt, err)
	}
	s.recordWriteFailure(ctx, collection, kind, err)
	return err
}

// recordWriteFailure appends a sync error record for a failed write. It is
// a single best-effort insert: routing it through withWrite again would
// recurse on a broken store.
func (s *Store) recordWriteFailure(ctx context.Context, collection string, kind common.FailureKind, cause error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_errors (operation_id, error_kind, message, context, timestamp)
		 VALUES (NULL, ?, ?, ?, ?)`,
		kind.String(), cause.Error(), "store:"+collection, s.now().UnixMilli())
	if err != nil {
		s.log.Error(ctx, "failed to record write failure",
			"collection", collection, "cause", cause, "error", err)
	}
}
