// Package store implements the durable local store of the tillsync engine:
// transactional SQLite persistence with a single retrying-write primitive,
// per-collection write serialization, indexed queries, batch writes and
// archival. All durable state of the engine lives here.
package store

import "time"

// Collection names. They double as the table names of the schema.
const (
	CollectionOperations = "pending_operations"
	CollectionArchived   = "archived_operations"
	CollectionSyncErrors = "sync_errors"
	CollectionCache      = "cache_entries"
	CollectionSessions   = "sessions"
)

// OperationKind is the closed set of queued mutation types.
type OperationKind string

const (
	KindOrderCreate  OperationKind = "order-create"
	KindOrderUpdate  OperationKind = "order-update"
	KindOrderDelete  OperationKind = "order-delete"
	KindCacheRefresh OperationKind = "cache-refresh"
)

// OperationStatus is the lifecycle state of a queued operation.
type OperationStatus string

const (
	StatusPending         OperationStatus = "pending"
	StatusSyncing         OperationStatus = "syncing"
	StatusSynced          OperationStatus = "synced"
	StatusFailedPermanent OperationStatus = "failed-permanent"
)

// Operation is a queued mutation awaiting confirmation by the server.
// ID is client-generated, globally unique and stable across retries; the
// server treats it as an idempotency key, so re-submission is a no-op.
type Operation struct {
	ID         string
	Kind       OperationKind
	Payload    []byte
	Status     OperationStatus
	RetryCount int
	CreatedAt  time.Time
	SyncedAt   *time.Time
}

// SyncError is a durable record of a failed operation or sync phase.
// OperationID is nil for phase-level errors. Records are append-only and
// pruned only by retention.
type SyncError struct {
	ID          int64
	OperationID *string
	ErrorKind   string
	Message     string
	Context     string
	Timestamp   time.Time
}

// CacheEntry is a locally stored copy of reference data. Stale is computed
// on read, never persisted: an expired entry is still served while offline,
// but flagged.
type CacheEntry struct {
	Key      string
	Value    []byte
	CachedAt time.Time
	TTL      time.Duration
	Stale    bool
}

// Expired reports whether the entry is past its TTL at the given time.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CachedAt) > e.TTL
}

// Session is cached, hashed credential material for offline authentication.
// It is created after a successful online login and refused after TTL.
type Session struct {
	Identity       string
	CredentialHash []byte
	Salt           []byte
	CachedAt       time.Time
	TTL            time.Duration
}

// Expired reports whether the session is past its TTL at the given time.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.CachedAt) > s.TTL
}
