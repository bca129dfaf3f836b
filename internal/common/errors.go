// Package common defines shared constants and sentinel errors used across
// the tillsync engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Store-level errors.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrWriteExhausted   = errors.New("write retries exhausted")

	// Queue errors.
	ErrQueueFull       = errors.New("operation queue full")
	ErrInvalidPayload  = errors.New("invalid operation payload")
	ErrUnknownKind     = errors.New("unknown operation kind")

	// Offline-auth errors.
	ErrExpiredCache       = errors.New("cached credential expired")
	ErrRateLimited        = errors.New("too many attempts")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNoCachedCredential = errors.New("no cached credential")
	ErrInvalidCredential  = errors.New("invalid credential format")

	// Upstream errors.
	ErrServerUnreachable = errors.New("server unreachable")
	ErrServerRejected    = errors.New("server rejected request")
)
