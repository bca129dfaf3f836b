package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tillsync/internal/common"
)

// Status prints the connectivity, queue, sync and session state of the till.
func (a *App) Status(ctx context.Context) {
	state, confidence := a.monitor.State()
	fmt.Fprintf(a.out, "Connectivity: %s (confidence %d)\n", state, confidence)
	fmt.Fprintf(a.out, "Sync: %s\n", a.orch.State())

	if a.store.Degraded() {
		fmt.Fprintln(a.out, "WARNING: local store is memory-only, queued orders will not survive a restart")
	}

	pending, err := a.queue.UnsyncedCount(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "Queue: unavailable (%v)\n", err)
	} else {
		fmt.Fprintf(a.out, "Queue: %d unsynced operation(s)\n", pending)
	}

	if !a.isLoggedIn() {
		return
	}
	identity := a.getIdentity()
	st, err := a.auth.Status(ctx, identity)
	switch {
	case errors.Is(err, common.ErrNotFound):
		fmt.Fprintf(a.out, "Session: %s, no offline credential cached\n", identity)
	case err != nil:
		fmt.Fprintf(a.out, "Session: unavailable (%v)\n", err)
	case st.Valid:
		fmt.Fprintf(a.out, "Session: %s, offline login valid for %s\n", identity, st.Remaining.Round(time.Second))
	default:
		fmt.Fprintf(a.out, "Session: %s, offline credential expired\n", identity)
	}
}

// Errors prints the most recent sync error records.
func (a *App) Errors(ctx context.Context) {
	errs, err := a.store.ListSyncErrors(ctx, 20)
	if err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}
	if len(errs) == 0 {
		fmt.Fprintln(a.out, "No sync errors recorded")
		return
	}
	for _, e := range errs {
		op := "-"
		if e.OperationID != nil {
			op = *e.OperationID
		}
		fmt.Fprintf(a.out, "%s  %-9s  %-24s  op=%s  %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.ErrorKind, e.Context, op, e.Message)
	}
}
