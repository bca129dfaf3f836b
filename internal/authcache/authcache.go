// Package authcache validates operator credentials without a server round
// trip. Credential material is stored as a salted Argon2id hash with a
// bounded TTL; validation is constant-time and rate limited per identity.
// The hashing cost matches the server's own parameters so offline and
// online validation produce equivalent accept/reject outcomes.
package authcache

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/dmitrijs2005/tillsync/internal/common"
	"github.com/dmitrijs2005/tillsync/internal/events"
	"github.com/dmitrijs2005/tillsync/internal/logging"
	"github.com/dmitrijs2005/tillsync/internal/store"
	"golang.org/x/crypto/argon2"
)

const saltLen = 16

// Config holds the offline-auth settings.
type Config struct {
	// SessionTTL bounds how long a cached credential stays valid.
	SessionTTL time.Duration
	// RateLimitWindow / RateLimitMax bound validation attempts per
	// identity (RateLimitMax attempts per rolling window).
	RateLimitWindow time.Duration
	RateLimitMax    int

	// Argon2id parameters, matched to the server's hashing cost.
	Argon2Time      uint32
	Argon2MemoryKiB uint32
	Argon2Threads   uint8
	Argon2KeyLen    uint32
}

// Cache is the offline authentication cache.
type Cache struct {
	store   *store.Store
	cfg     Config
	log     logging.Logger
	bus     *events.Bus
	limiter *rateLimiter
	now     func() time.Time
}

// New returns a Cache over the given store.
func New(s *store.Store, cfg Config, bus *events.Bus, log logging.Logger) *Cache {
	return &Cache{
		store:   s,
		cfg:     cfg,
		log:     log,
		bus:     bus,
		limiter: newRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax),
		now:     time.Now,
	}
}

func (c *Cache) hash(raw, salt []byte) []byte {
	return argon2.IDKey(raw, salt,
		c.cfg.Argon2Time, c.cfg.Argon2MemoryKiB, c.cfg.Argon2Threads, c.cfg.Argon2KeyLen)
}

// ValidateCredentialFormat checks that a raw credential is a 4-8 digit PIN
// before it is hashed or compared.
func ValidateCredentialFormat(raw []byte) error {
	if len(raw) < 4 || len(raw) > 8 {
		return fmt.Errorf("%w: must be 4-8 digits", common.ErrInvalidCredential)
	}
	for _, b := range raw {
		if b < '0' || b > '9' {
			return fmt.Errorf("%w: must be 4-8 digits", common.ErrInvalidCredential)
		}
	}
	return nil
}

// GeneratePIN returns a cryptographically random 4-digit PIN (1000-9999).
func GeneratePIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+1000), nil
}

// CacheCredential hashes and stores credential material for identity.
// Call it only immediately after a successful online authentication.
// When the upstream token expiry is known, the session TTL never outlives
// it.
func (c *Cache) CacheCredential(ctx context.Context, identity string, raw []byte, tokenExpiry *time.Time) error {
	if err := ValidateCredentialFormat(raw); err != nil {
		return err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("salt generation failed: %w", err)
	}

	now := c.now()
	ttl := c.cfg.SessionTTL
	if tokenExpiry != nil {
		if remaining := tokenExpiry.Sub(now); remaining > 0 && remaining < ttl {
			ttl = remaining
		}
	}

	sess := &store.Session{
		Identity:       identity,
		CredentialHash: c.hash(raw, salt),
		Salt:           salt,
		CachedAt:       now,
		TTL:            ttl,
	}
	if err := c.store.PutSession(ctx, sess); err != nil {
		return fmt.Errorf("caching credential failed: %w", err)
	}

	c.limiter.reset(identity)
	c.log.Info(ctx, "offline credential cached", "identity", identity, "ttl", ttl)
	return nil
}

// ValidateOffline checks raw against the cached credential for identity.
//
// Failure modes, in evaluation order: ErrRateLimited when the identity has
// exceeded its attempt budget (regardless of credential correctness),
// ErrNoCachedCredential when nothing is cached, ErrExpiredCache when the
// session is past its TTL (the caller must then require reconnection) and
// ErrUnauthorized on a mismatch. The comparison is constant-time.
func (c *Cache) ValidateOffline(ctx context.Context, identity string, raw []byte) error {
	now := c.now()

	if !c.limiter.allow(identity, now) {
		c.log.Warn(ctx, "offline validation rate limited", "identity", identity)
		c.emit(identity, "rate-limited")
		return common.ErrRateLimited
	}

	sess, err := c.store.GetSession(ctx, identity)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.emit(identity, "rejected")
			return common.ErrNoCachedCredential
		}
		return err
	}

	if sess.Expired(now) {
		c.emit(identity, "expired")
		return common.ErrExpiredCache
	}

	candidate := c.hash(raw, sess.Salt)
	if subtle.ConstantTimeCompare(candidate, sess.CredentialHash) != 1 {
		c.emit(identity, "rejected")
		return common.ErrUnauthorized
	}

	c.emit(identity, "ok")
	return nil
}

// SessionStatus describes the cached session for an identity.
type SessionStatus struct {
	Valid     bool
	ExpiresAt time.Time
	Remaining time.Duration
}

// Status reports whether identity has a usable cached session and how long
// it remains valid.
func (c *Cache) Status(ctx context.Context, identity string) (*SessionStatus, error) {
	sess, err := c.store.GetSession(ctx, identity)
	if err != nil {
		return nil, err
	}
	now := c.now()
	expiresAt := sess.CachedAt.Add(sess.TTL)
	st := &SessionStatus{
		Valid:     !sess.Expired(now),
		ExpiresAt: expiresAt,
	}
	if st.Valid {
		st.Remaining = expiresAt.Sub(now)
	}
	return st, nil
}

// ClearOfflineData wipes the cached credential for identity.
func (c *Cache) ClearOfflineData(ctx context.Context, identity string) error {
	return c.store.DeleteSession(ctx, identity)
}

// PruneExpired removes expired sessions; run from the sync cycle's prune
// phase.
func (c *Cache) PruneExpired(ctx context.Context) (int, error) {
	return c.store.DeleteExpiredSessions(ctx)
}

func (c *Cache) emit(identity, outcome string) {
	if c.bus != nil {
		c.bus.Publish(events.OfflineAuthResult{Identity: identity, Outcome: outcome})
	}
}
