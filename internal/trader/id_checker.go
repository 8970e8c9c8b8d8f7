package trader

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"kraken-trading-bot/internal/kraken"
)

// PendingStore is the persistence surface of the pending-id resolver.
// Implemented by database.Repository.
type PendingStore interface {
	ListPendingIDs(ctx context.Context) ([]PendingIDEntry, error)
	AddSentOrder(ctx context.Context, order SentOrder) error
	RemovePendingID(ctx context.Context, ref int64) error
}

// OrderLookup is the slice of the exchange gateway the resolver needs.
// Implemented by kraken.Gateway.
type OrderLookup interface {
	OpenOrders(ctx context.Context, userRef string) ([]kraken.Order, error)
	ClosedOrders(ctx context.Context, userRef string) ([]kraken.Order, error)
}

const defaultCheckInterval = 10 * time.Second

// IDChecker recovers exchange transaction ids for references whose
// submission outcome was ambiguous: it scans open orders filtered by the
// reference, then closed orders, and correlates the first match.
type IDChecker struct {
	store    PendingStore
	gateway  OrderLookup
	log      zerolog.Logger
	interval time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewIDChecker(store PendingStore, gateway OrderLookup, log zerolog.Logger) *IDChecker {
	return &IDChecker{
		store:    store,
		gateway:  gateway,
		log:      log.With().Str("component", "id-checker").Logger(),
		interval: defaultCheckInterval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the recovery loop.
func (c *IDChecker) Start() {
	go func() {
		defer close(c.doneChan)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stopChan:
				return
			case <-ticker.C:
				if err := c.Tick(context.Background()); err != nil {
					c.log.Info().Err(err).Msg("error occured while checking pending orders")
				}
			}
		}
	}()
}

// Stop halts the recovery loop.
func (c *IDChecker) Stop() {
	close(c.stopChan)
	<-c.doneChan
}

// Tick makes one pass over the pending entries, sequentially. An entry
// with no match in either order list is left for the next pass; the
// order may still be propagating through the exchange.
func (c *IDChecker) Tick(ctx context.Context) error {
	entries, err := c.store.ListPendingIDs(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	c.log.Info().Int("count", len(entries)).Msg("trying to determine ids of pending orders")

	for _, entry := range entries {
		if err := c.resolve(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (c *IDChecker) resolve(ctx context.Context, entry PendingIDEntry) error {
	userRef := strconv.FormatInt(entry.Ref, 10)

	found, err := c.gateway.OpenOrders(ctx, userRef)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		found, err = c.gateway.ClosedOrders(ctx, userRef)
		if err != nil {
			return err
		}
	}
	if len(found) == 0 {
		return nil
	}

	matched := found[0]
	c.log.Info().Int64("ref", entry.Ref).Str("tx_id", matched.TxID).Msg("recovered transaction id")

	if err := c.store.AddSentOrder(ctx, SentOrder{Ref: entry.Ref, TxID: matched.TxID, Order: &matched}); err != nil {
		return err
	}
	return c.store.RemovePendingID(ctx, entry.Ref)
}
