package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/tillsync/internal/store"
)

// NewOrder enqueues an order for synchronization. The order is durable the
// moment this returns; submission to the server happens in the background
// whenever it is reachable.
func (a *App) NewOrder(ctx context.Context) {
	if !a.isLoggedIn() {
		fmt.Fprintln(a.out, "Log in first")
		return
	}

	orderID, err := GetSimpleText(a.reader, "Enter order ID", a.out)
	if err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}

	lines, err := GetMultiline(a.reader, "Enter order lines as JSON array", a.out)
	if err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}
	if lines == "" {
		lines = "[]"
	}

	payload, err := json.Marshal(map[string]json.RawMessage{
		"order_id": json.RawMessage(fmt.Sprintf("%q", orderID)),
		"lines":    json.RawMessage(lines),
	})
	if err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}

	op := &store.Operation{Kind: store.KindOrderCreate, Payload: payload}
	if err := a.queue.Enqueue(ctx, op); err != nil {
		fmt.Fprintf(a.out, "Order not queued: %v\n", err)
		return
	}

	fmt.Fprintf(a.out, "Order queued (operation %s)\n", op.ID)
	if a.getMode() == ModeOnline {
		a.orch.RequestSync()
	}
}

// Sync requests a sync cycle. If one is already running, exactly one rerun
// happens after it.
func (a *App) Sync(ctx context.Context) {
	a.orch.RequestSync()
	fmt.Fprintln(a.out, "Sync requested")
}
