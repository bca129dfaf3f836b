package authcache

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dmitrijs2005/tillsync/internal/common"
	"github.com/dmitrijs2005/tillsync/internal/events"
	"github.com/dmitrijs2005/tillsync/internal/logging"
	"github.com/dmitrijs2005/tillsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

// testConfig uses deliberately cheap argon2 parameters; production cost is
// irrelevant to the logic under test.
func testConfig() Config {
	return Config{
		SessionTTL:      24 * time.Hour,
		RateLimitWindow: 60 * time.Second,
		RateLimitMax:    5,
		Argon2Time:      1,
		Argon2MemoryKiB: 64,
		Argon2Threads:   1,
		Argon2KeyLen:    32,
	}
}

func testCache(t *testing.T) (*Cache, *events.Bus) {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:",
		[]time.Duration{time.Millisecond, time.Millisecond}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	return New(s, testConfig(), bus, testLogger()), bus
}

func TestValidateOffline_AcceptsCorrectCredential(t *testing.T) {
	c, bus := testCache(t)
	sub := bus.Subscribe()
	ctx := context.Background()

	require.NoError(t, c.CacheCredential(ctx, "alice", []byte("1234"), nil))
	require.NoError(t, c.ValidateOffline(ctx, "alice", []byte("1234")))

	ev := <-sub
	res, ok := ev.(events.OfflineAuthResult)
	require.True(t, ok)
	assert.Equal(t, "ok", res.Outcome)
}

func TestValidateOffline_RejectsWrongCredential(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.CacheCredential(ctx, "alice", []byte("1234"), nil))
	assert.ErrorIs(t, c.ValidateOffline(ctx, "alice", []byte("4321")), common.ErrUnauthorized)
}

func TestValidateOffline_NoCachedCredential(t *testing.T) {
	c, _ := testCache(t)
	assert.ErrorIs(t, c.ValidateOffline(context.Background(), "nobody", []byte("1234")),
		common.ErrNoCachedCredential)
}

func TestValidateOffline_TTLBoundary(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	cachedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return cachedAt }
	require.NoError(t, c.CacheCredential(ctx, "alice", []byte("1234"), nil))

	// one minute before expiry: still valid
	c.now = func() time.Time { return cachedAt.Add(24*time.Hour - time.Minute) }
	require.NoError(t, c.ValidateOffline(ctx, "alice", []byte("1234")))

	// one minute after expiry: refused, caller must reconnect
	c.now = func() time.Time { return cachedAt.Add(24*time.Hour + time.Minute) }
	assert.ErrorIs(t, c.ValidateOffline(ctx, "alice", []byte("1234")), common.ErrExpiredCache)
}

func TestValidateOffline_RateLimit(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.CacheCredential(ctx, "alice", []byte("1234"), nil))

	// five failed attempts inside the window are reported as rejections
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, c.ValidateOffline(ctx, "alice", []byte("0000")), common.ErrUnauthorized)
	}
	// the sixth fails with RateLimited regardless of correctness
	assert.ErrorIs(t, c.ValidateOffline(ctx, "alice", []byte("1234")), common.ErrRateLimited)

	// another identity is unaffected
	require.NoError(t, c.CacheCredential(ctx, "bob", []byte("5678"), nil))
	assert.NoError(t, c.ValidateOffline(ctx, "bob", []byte("5678")))
}

func TestValidateOffline_RateLimitWindowSlides(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	require.NoError(t, c.CacheCredential(ctx, "alice", []byte("1234"), nil))

	for i := 0; i < 5; i++ {
		_ = c.ValidateOffline(ctx, "alice", []byte("0000"))
	}
	assert.ErrorIs(t, c.ValidateOffline(ctx, "alice", []byte("1234")), common.ErrRateLimited)

	// after the window rolls past, attempts are allowed again
	c.now = func() time.Time { return base.Add(61 * time.Second) }
	assert.NoError(t, c.ValidateOffline(ctx, "alice", []byte("1234")))
}

func TestCacheCredential_TokenExpiryCapsTTL(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	expiry := now.Add(2 * time.Hour) // token expires before the configured 24h
	require.NoError(t, c.CacheCredential(ctx, "alice", []byte("1234"), &expiry))

	st, err := c.Status(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, st.Valid)
	assert.Equal(t, now.Add(2*time.Hour), st.ExpiresAt)
}

func TestCacheCredential_RejectsBadFormat(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	for _, raw := range []string{"", "12", "123456789", "12ab"} {
		assert.ErrorIs(t, c.CacheCredential(ctx, "alice", []byte(raw), nil),
			common.ErrInvalidCredential, "raw=%q", raw)
	}
}

func TestClearOfflineData(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.CacheCredential(ctx, "alice", []byte("1234"), nil))
	require.NoError(t, c.ClearOfflineData(ctx, "alice"))
	assert.ErrorIs(t, c.ValidateOffline(ctx, "alice", []byte("1234")), common.ErrNoCachedCredential)
}

func TestGeneratePIN(t *testing.T) {
	for i := 0; i < 32; i++ {
		pin, err := GeneratePIN()
		require.NoError(t, err)
		require.Len(t, pin, 4)
		assert.NoError(t, ValidateCredentialFormat([]byte(pin)))
	}
}
