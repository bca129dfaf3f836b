// Package upstream is the HTTP client for the point-of-sale server. All
// mutations are submitted with the operation ID as an idempotency key, so a
// retry after an ambiguous outcome is always safe.
package upstream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/tillsync/internal/store"
)

// LoginResult is the outcome of a successful online login.
type LoginResult struct {
	Token     string
	Identity  string
	ExpiresAt *time.Time
}

// ReferenceItem is one piece of server-side reference data (product catalog,
// price list, tax table) to be cached locally.
type ReferenceItem struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	TTL   int64           `json:"ttl_ms"`
}

// UserRecord is one entry of the server's user directory, used to refresh
// offline login material for the whole staff of a till.
type UserRecord struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
}

type Client interface {
	Close() error
	Login(ctx context.Context, identity, secret string) (*LoginResult, error)
	SubmitOperation(ctx context.Context, op *store.Operation) error
	FetchReferenceData(ctx context.Context, keys []string) ([]ReferenceItem, error)
	FetchUserDirectory(ctx context.Context) ([]UserRecord, error)
	Ping(ctx context.Context) error
}
