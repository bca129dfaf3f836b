package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dmitrijs2005/tillsync/internal/common"
	"github.com/dmitrijs2005/tillsync/internal/logging"
	"github.com/dmitrijs2005/tillsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func testQueue(t *testing.T, cfg Config) (*Queue, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:",
		[]time.Duration{time.Millisecond, time.Millisecond}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, cfg, testLogger()), s
}

func orderPayloadJSON(orderID string) []byte {
	return []byte(fmt.Sprintf(`{"order_id":%q,"lines":[{"product":1,"qty":2}]}`, orderID))
}

func TestEnqueue_AssignsIDAndPersists(t *testing.T) {
	q, s := testQueue(t, Config{SoftLimit: 100, HardLimit: 200, ArchiveAge: time.Hour})
	ctx := context.Background()

	op := &store.Operation{Kind: store.KindOrderCreate, Payload: orderPayloadJSON("o1")}
	require.NoError(t, q.Enqueue(ctx, op))
	require.NotEmpty(t, op.ID)

	got, err := s.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, got.Status)
}

func TestEnqueue_IdempotentByID(t *testing.T) {
	q, _ := testQueue(t, Config{SoftLimit: 100, HardLimit: 200, ArchiveAge: time.Hour})
	ctx := context.Background()

	op := &store.Operation{ID: "op1", Kind: store.KindOrderCreate, Payload: orderPayloadJSON("o1")}
	require.NoError(t, q.Enqueue(ctx, op))
	// UI retry resubmits the same operation
	require.NoError(t, q.Enqueue(ctx, &store.Operation{
		ID: "op1", Kind: store.KindOrderCreate, Payload: orderPayloadJSON("o1"),
	}))

	n, err := q.UnsyncedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueue_RejectsBadPayload(t *testing.T) {
	q, _ := testQueue(t, Config{SoftLimit: 100, HardLimit: 200, ArchiveAge: time.Hour})
	ctx := context.Background()

	tests := []struct {
		name string
		op   *store.Operation
	}{
		{"not json", &store.Operation{Kind: store.KindOrderCreate, Payload: []byte(`{{`)}},
		{"missing order_id", &store.Operation{Kind: store.KindOrderCreate, Payload: []byte(`{"lines":[1]}`)}},
		{"missing lines", &store.Operation{Kind: store.KindOrderCreate, Payload: []byte(`{"order_id":"o1"}`)}},
		{"delete without order_id", &store.Operation{Kind: store.KindOrderDelete, Payload: []byte(`{}`)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, q.Enqueue(ctx, tc.op), common.ErrInvalidPayload)
		})
	}

	assert.ErrorIs(t, q.Enqueue(ctx, &store.Operation{Kind: "order-upsert", Payload: []byte(`{}`)}),
		common.ErrUnknownKind)

	n, err := q.UnsyncedCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "rejected payloads must not be written")
}

func TestEnqueue_PendingOrderedByCreation(t *testing.T) {
	q, _ := testQueue(t, Config{SoftLimit: 100, HardLimit: 200, ArchiveAge: time.Hour})
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"t0", "t1", "t2"} {
		require.NoError(t, q.Enqueue(ctx, &store.Operation{
			ID: id, Kind: store.KindOrderCreate, Payload: orderPayloadJSON(id),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "t0", pending[0].ID)
	assert.Equal(t, "t1", pending[1].ID)
	assert.Equal(t, "t2", pending[2].ID)
}

func TestEnqueue_SoftLimitArchivesOldSynced(t *testing.T) {
	q, s := testQueue(t, Config{SoftLimit: 3, HardLimit: 100, ArchiveAge: 2 * time.Hour})
	ctx := context.Background()

	// two synced operations past the archival age
	for _, id := range []string{"old1", "old2"} {
		require.NoError(t, q.Enqueue(ctx, &store.Operation{
			ID: id, Kind: store.KindOrderCreate, Payload: orderPayloadJSON(id),
			CreatedAt: time.Now().Add(-3 * time.Hour),
		}))
		require.NoError(t, s.MarkOperationStatus(ctx, id, store.StatusSynced))
	}

	// crossing the soft limit triggers archival
	for _, id := range []string{"p1", "p2"} {
		require.NoError(t, q.Enqueue(ctx, &store.Operation{
			ID: id, Kind: store.KindOrderCreate, Payload: orderPayloadJSON(id),
		}))
	}

	active, err := s.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, active, "old synced operations were archived")

	// archived, not lost
	_, err = s.GetOperation(ctx, "old1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestEnqueue_HardLimitDropsOldestUnsyncedLoudly(t *testing.T) {
	q, s := testQueue(t, Config{SoftLimit: 100, HardLimit: 3, ArchiveAge: time.Hour})
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, &store.Operation{
			ID: fmt.Sprintf("op%d", i), Kind: store.KindOrderCreate,
			Payload:   orderPayloadJSON(fmt.Sprintf("o%d", i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	// the fourth enqueue crosses the hard limit
	require.NoError(t, q.Enqueue(ctx, &store.Operation{
		ID: "op3", Kind: store.KindOrderCreate, Payload: orderPayloadJSON("o3"),
	}))

	n, err := q.UnsyncedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "unsynced count stays at the hard limit")

	// the oldest unsynced operation was the victim
	_, err = s.GetOperation(ctx, "op0")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// and its loss is recorded permanently
	errs, err := s.ListSyncErrorsForOperation(ctx, "op0")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "permanent", errs[0].ErrorKind)
}

func TestRecoverInFlight(t *testing.T) {
	q, s := testQueue(t, Config{SoftLimit: 100, HardLimit: 200, ArchiveAge: time.Hour})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &store.Operation{
		ID: "op1", Kind: store.KindOrderCreate, Payload: orderPayloadJSON("o1"),
	}))
	require.NoError(t, s.MarkOperationStatus(ctx, "op1", store.StatusSyncing))

	require.NoError(t, q.RecoverInFlight(ctx))

	op, err := s.GetOperation(ctx, "op1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, op.Status)
}

func TestValidatePayload_CacheRefresh(t *testing.T) {
	assert.NoError(t, ValidatePayload(store.KindCacheRefresh, []byte(`{"keys":["catalog"]}`)))
	assert.NoError(t, ValidatePayload(store.KindCacheRefresh, []byte(`{}`)))
	assert.ErrorIs(t, ValidatePayload(store.KindCacheRefresh, []byte(`[`)), common.ErrInvalidPayload)
}
