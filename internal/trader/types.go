// Package trader contains the order submission pipeline, the pending-id
// resolver and the orchestration loop that drives positions through
// their lifecycle.
package trader

import (
	"time"

	"kraken-trading-bot/internal/kraken"
)

// UnsentOrder is a locally queued order submission that has not been
// confirmed by the exchange yet. Ref is the reserved nonce, which
// doubles as the client reference number on the wire.
type UnsentOrder struct {
	Ref       int64
	Request   kraken.OrderRequest
	CreatedAt time.Time
}

// SentOrder correlates a client reference with the transaction id the
// exchange assigned to it. Order optionally carries the latest fetched
// snapshot.
type SentOrder struct {
	Ref       int64
	TxID      string
	Order     *kraken.Order
	CreatedAt time.Time
}

// FailedOrder records a submission the exchange rejected permanently.
// Failed references are never retried.
type FailedOrder struct {
	Ref       int64
	Request   kraken.OrderRequest
	Error     string
	CreatedAt time.Time
}

// PendingIDEntry is a client reference whose submission outcome was
// ambiguous: the exchange may or may not have accepted the order, and
// the transaction id must be recovered by querying order lists.
type PendingIDEntry struct {
	Ref       int64
	CreatedAt time.Time
}
