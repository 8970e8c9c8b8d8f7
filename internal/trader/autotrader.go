package trader

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"kraken-trading-bot/internal/kraken"
	"kraken-trading-bot/internal/position"
)

// PositionStore is the persistence surface of the orchestration loop.
// Implemented by database.Repository.
type PositionStore interface {
	ListPositionsByState(ctx context.Context, state position.State, pair string) ([]position.Position, error)
	UpdatePosition(ctx context.Context, p position.Position) error
	FindSentOrdersByTxIDs(ctx context.Context, txIDs []string) ([]SentOrder, error)
	AddSentOrder(ctx context.Context, order SentOrder) error
	SetConfigValue(ctx context.Context, key, value string) error
}

// Pipeline is the submission surface the loop drives positions through.
// Implemented by Sender.
type Pipeline interface {
	Enqueue(ctx context.Context, req kraken.OrderRequest) (int64, error)
	FindSentOrder(ctx context.Context, ref int64) (*SentOrder, error)
	FailureInfo(ctx context.Context, ref int64) (string, bool, error)
}

// OrderQuerier batch-fetches current order snapshots by transaction id.
// Implemented by kraken.Gateway.
type OrderQuerier interface {
	QueryOrders(ctx context.Context, txIDs []string) ([]kraken.Order, error)
}

const (
	defaultCycleInterval = 10 * time.Second
	smaWindow            = 10

	// tradeLastKey marks when a round-trip leg last filled.
	tradeLastKey = "trade_last"
)

// AutoTrader is the orchestration loop: every cycle it advances each
// position through its lifecycle and reports hot-zone telemetry. A
// failure in one step or one position is logged and never aborts the
// rest of the cycle or the reschedule.
type AutoTrader struct {
	pair     string
	store    PositionStore
	pipeline Pipeline
	gateway  OrderQuerier
	tickers  TickerHistory
	log      zerolog.Logger
	interval time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewAutoTrader(pair string, store PositionStore, pipeline Pipeline, gateway OrderQuerier, tickers TickerHistory, log zerolog.Logger) *AutoTrader {
	return &AutoTrader{
		pair:     pair,
		store:    store,
		pipeline: pipeline,
		gateway:  gateway,
		tickers:  tickers,
		log:      log.With().Str("component", "auto-trader").Str("pair", pair).Logger(),
		interval: defaultCycleInterval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the cycle loop.
func (t *AutoTrader) Start() {
	go func() {
		defer close(t.doneChan)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-t.stopChan:
				return
			case <-ticker.C:
				t.RunCycle(context.Background())
			}
		}
	}()
}

// Stop halts the cycle loop.
func (t *AutoTrader) Stop() {
	close(t.stopChan)
	<-t.doneChan
}

// RunCycle executes the four orchestration steps in order. Each step is
// wrapped so its failure does not abort the remaining steps.
func (t *AutoTrader) RunCycle(ctx context.Context) {
	t.log.Debug().Msg("checking positions")

	if err := t.processUnstarted(ctx); err != nil {
		t.log.Error().Err(err).Msg("error occured while processing unstarted positions")
	}
	if err := t.processWaitingSend(ctx); err != nil {
		t.log.Error().Err(err).Msg("error occured while processing waiting send positions")
	}
	if err := t.processWaitingClose(ctx); err != nil {
		t.log.Error().Err(err).Msg("error occured while processing waiting close positions")
	}
	if err := t.trackHotZone(ctx); err != nil {
		t.log.Error().Err(err).Msg("error occured while tracking hot zone")
	}
}

// processUnstarted submits the initial order of every unstarted
// position. A submission failure leaves the position unstarted for the
// next cycle.
func (t *AutoTrader) processUnstarted(ctx context.Context) error {
	positions, err := t.store.ListPositionsByState(ctx, position.StateUnstarted, t.pair)
	if err != nil {
		return err
	}

	for _, p := range positions {
		ref, err := t.pipeline.Enqueue(ctx, p.CreateOrder())
		if err != nil {
			t.log.Error().Err(err).Str("position", p.ID).Msg("error occured while sending order")
			continue
		}
		if err := t.store.UpdatePosition(ctx, p.ToWaitingSend(strconv.FormatInt(ref, 10))); err != nil {
			t.log.Error().Err(err).Str("position", p.ID).Msg("failed to update position")
		}
	}
	return nil
}

// processWaitingSend resolves each position's reference: a sent order
// advances it to waiting close, a recorded permanent failure moves it to
// failed, and an unresolved reference leaves it unchanged.
func (t *AutoTrader) processWaitingSend(ctx context.Context) error {
	positions, err := t.store.ListPositionsByState(ctx, position.StateWaitingSend, t.pair)
	if err != nil {
		return err
	}

	for _, p := range positions {
		ref, err := strconv.ParseInt(p.SendRef, 10, 64)
		if err != nil {
			t.log.Error().Str("position", p.ID).Str("ref", p.SendRef).Msg("unparsable send reference")
			continue
		}

		sent, err := t.pipeline.FindSentOrder(ctx, ref)
		if err != nil {
			t.log.Error().Err(err).Str("position", p.ID).Msg("failed to look up sent order")
			continue
		}

		if sent != nil {
			if err := t.store.UpdatePosition(ctx, p.ToWaitingClose(sent.TxID)); err != nil {
				t.log.Error().Err(err).Str("position", p.ID).Msg("failed to update position")
			}
			continue
		}

		info, failed, err := t.pipeline.FailureInfo(ctx, ref)
		if err != nil {
			t.log.Error().Err(err).Str("position", p.ID).Msg("failed to look up order failure")
			continue
		}
		if !failed {
			t.log.Debug().Str("position", p.ID).Int64("ref", ref).Msg("order failure not found for reference")
			continue
		}

		t.log.Info().Str("position", p.ID).Int64("ref", ref).Str("info", info).Msg("order failure for reference")
		if err := t.store.UpdatePosition(ctx, p.ToFailed(info)); err != nil {
			t.log.Error().Err(err).Str("position", p.ID).Msg("failed to update position")
		}
	}
	return nil
}

// processWaitingClose batch-fetches the current snapshot of every
// tracked transaction, refreshes the stored correlation records, and
// applies the close and cancel transitions.
func (t *AutoTrader) processWaitingClose(ctx context.Context) error {
	positions, err := t.store.ListPositionsByState(ctx, position.StateWaitingClose, t.pair)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}

	t.log.Info().Int("count", len(positions)).Msg("positions to check")

	txIDs := make([]string, 0, len(positions))
	for _, p := range positions {
		txIDs = append(txIDs, p.CurrentTxID)
	}

	orders, err := t.gateway.QueryOrders(ctx, txIDs)
	if err != nil {
		return err
	}

	byTxID := make(map[string]kraken.Order, len(orders))
	for _, order := range orders {
		byTxID[order.TxID] = order
	}

	t.refreshSnapshots(ctx, byTxID)

	for _, p := range positions {
		order, ok := byTxID[p.CurrentTxID]
		if !ok {
			continue
		}

		switch order.Status {
		case kraken.StatusClosed:
			if err := t.handleClosed(ctx, p, order); err != nil {
				t.log.Error().Err(err).Str("position", p.ID).Msg("failed to handle closed order")
			}
		case kraken.StatusCanceled:
			t.log.Info().Str("tx_id", p.CurrentTxID).Msg("the waited transaction cancelled")
			if err := t.store.UpdatePosition(ctx, p.ToStoppedAfterMatchingOrderCancelled()); err != nil {
				t.log.Error().Err(err).Str("position", p.ID).Msg("failed to update position")
			}
		}
	}
	return nil
}

// handleClosed applies the repeat gate: an odd completed history with a
// non-repeating strategy stops the position, anything else places the
// next matching counter-order.
func (t *AutoTrader) handleClosed(ctx context.Context, p position.Position, closed kraken.Order) error {
	ts := strconv.FormatFloat(closed.CloseTime, 'f', -1, 64)
	if err := t.store.SetConfigValue(ctx, tradeLastKey, ts); err != nil {
		t.log.Error().Err(err).Msg("failed to record last trade marker")
	}

	if p.StopsAfterClose() {
		t.log.Info().Str("position", p.ID).Msg("matching order closed for position, stopping")
		return t.store.UpdatePosition(ctx, p.ToStoppedAfterMatchingOrderClosed())
	}

	req, err := p.CreateMatchingOrder(closed)
	if err != nil {
		return err
	}

	t.log.Info().
		Str("old_price", closed.AveragePrice).
		Str("lot", closed.Volume).
		Str("fee", closed.Fee).
		Str("new_price", req.Price).
		Msg("placing matching order")

	ref, err := t.pipeline.Enqueue(ctx, req)
	if err != nil {
		return err
	}

	next, err := p.ToWaitingSendAfterClose(strconv.FormatInt(ref, 10), closed)
	if err != nil {
		return err
	}
	return t.store.UpdatePosition(ctx, next)
}

// refreshSnapshots updates the stored order snapshot of every sent order
// whose transaction appeared in the batch fetch.
func (t *AutoTrader) refreshSnapshots(ctx context.Context, byTxID map[string]kraken.Order) {
	txIDs := make([]string, 0, len(byTxID))
	for txID := range byTxID {
		txIDs = append(txIDs, txID)
	}

	sentOrders, err := t.store.FindSentOrdersByTxIDs(ctx, txIDs)
	if err != nil {
		t.log.Error().Err(err).Msg("failed to load sent orders for snapshot refresh")
		return
	}

	for _, sent := range sentOrders {
		order, ok := byTxID[sent.TxID]
		if !ok {
			continue
		}
		sent.Order = &order
		if err := t.store.AddSentOrder(ctx, sent); err != nil {
			t.log.Error().Err(err).Int64("ref", sent.Ref).Msg("failed to refresh order snapshot")
		}
	}
}

// trackHotZone reports, for each side of the book, the open order
// closest to the short-window moving average. Informational only; never
// mutates state.
func (t *AutoTrader) trackHotZone(ctx context.Context) error {
	recent, err := t.tickers.RecentTickers(ctx, t.pair, smaWindow)
	if err != nil {
		return err
	}

	sma := BidAskMovingAverage(recent)
	if sma.Samples == 0 {
		t.log.Debug().Msg("no ticker history for hot zone tracking")
		return nil
	}

	positions, err := t.store.ListPositionsByState(ctx, position.StateWaitingClose, t.pair)
	if err != nil {
		return err
	}

	txIDs := make([]string, 0, len(positions))
	for _, p := range positions {
		txIDs = append(txIDs, p.CurrentTxID)
	}

	sentOrders, err := t.store.FindSentOrdersByTxIDs(ctx, txIDs)
	if err != nil {
		return err
	}

	var buys, sells []kraken.Order
	for _, sent := range sentOrders {
		if sent.Order == nil {
			continue
		}
		switch sent.Order.Side {
		case kraken.SideBuy:
			buys = append(buys, *sent.Order)
		case kraken.SideSell:
			sells = append(sells, *sent.Order)
		}
	}

	event := t.log.Info().
		Float64("ask_sma", sma.Ask).
		Float64("bid_sma", sma.Bid).
		Int("samples", sma.Samples)

	if closest := ClosestOrder(buys, sma.Ask); closest != nil {
		event = event.Str("closest_buy", closest.Price)
	}
	if closest := ClosestOrder(sells, sma.Bid); closest != nil {
		event = event.Str("closest_sell", closest.Price)
	}

	event.Msg("hot zone")
	return nil
}
