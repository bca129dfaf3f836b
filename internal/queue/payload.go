package queue

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/tillsync/internal/common"
	"github.com/dmitrijs2005/tillsync/internal/store"
)

// orderPayload is the schema of the order-* operation kinds. Payloads stay
// opaque to the rest of the engine; only the fields needed for validation
// are declared here.
type orderPayload struct {
	OrderID string          `json:"order_id"`
	Lines   json.RawMessage `json:"lines"`
}

// cacheRefreshPayload is the schema of the cache-refresh kind.
type cacheRefreshPayload struct {
	Keys []string `json:"keys"`
}

// ValidatePayload checks a payload against the schema of its kind at
// enqueue time, so shape errors surface immediately instead of failing
// server-side hours later during a flush.
func ValidatePayload(kind store.OperationKind, payload []byte) error {
	switch kind {
	case store.KindOrderCreate, store.KindOrderUpdate:
		var p orderPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
		}
		if p.OrderID == "" {
			return fmt.Errorf("%w: missing order_id", common.ErrInvalidPayload)
		}
		if len(p.Lines) == 0 {
			return fmt.Errorf("%w: missing lines", common.ErrInvalidPayload)
		}
		return nil
	case store.KindOrderDelete:
		var p orderPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
		}
		if p.OrderID == "" {
			return fmt.Errorf("%w: missing order_id", common.ErrInvalidPayload)
		}
		return nil
	case store.KindCacheRefresh:
		var p cacheRefreshPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", common.ErrUnknownKind, kind)
	}
}
