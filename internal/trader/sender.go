package trader

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"kraken-trading-bot/internal/kraken"
)

// OrderStore is the persistence surface of the submission pipeline.
// Implemented by database.Repository.
type OrderStore interface {
	AddUnsentOrder(ctx context.Context, order UnsentOrder) error
	RemoveUnsentOrder(ctx context.Context, ref int64) error
	ListUnsentOrders(ctx context.Context) ([]UnsentOrder, error)
	AddSentOrder(ctx context.Context, order SentOrder) error
	FindSentOrderByRef(ctx context.Context, ref int64) (*SentOrder, error)
	AddFailedOrder(ctx context.Context, order FailedOrder) error
	FindFailedOrderError(ctx context.Context, ref int64) (string, bool, error)
	AddPendingID(ctx context.Context, entry PendingIDEntry) error
}

// OrderGateway is the slice of the exchange gateway the pipeline needs.
// Implemented by kraken.Gateway.
type OrderGateway interface {
	AddOrder(ctx context.Context, req kraken.OrderRequest, nonce int64) (kraken.AddOrderResult, error)
}

// NonceSource reserves the client reference for an enqueued order.
type NonceSource interface {
	Next(ctx context.Context) (int64, error)
}

const defaultSendInterval = 10 * time.Second

// Sender is the at-least-once order submission pipeline. Enqueue
// persists the order under a reserved reference and returns immediately;
// a recurring tick drains the queue one order at a time, classifying
// each outcome as sent, permanently failed, or ambiguous.
type Sender struct {
	store    OrderStore
	gateway  OrderGateway
	nonces   NonceSource
	log      zerolog.Logger
	interval time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewSender(store OrderStore, gateway OrderGateway, nonces NonceSource, log zerolog.Logger) *Sender {
	return &Sender{
		store:    store,
		gateway:  gateway,
		nonces:   nonces,
		log:      log.With().Str("component", "order-sender").Logger(),
		interval: defaultSendInterval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Enqueue reserves a reference for the order, persists it as unsent and
// returns the reference without waiting on the network. The actual
// submission happens on a later tick.
func (s *Sender) Enqueue(ctx context.Context, req kraken.OrderRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}

	nonce, err := s.nonces.Next(ctx)
	if err != nil {
		return 0, err
	}

	s.log.Info().Int64("ref", nonce).Str("pair", req.Pair).Str("side", string(req.Side)).Msg("enqueueing order")

	if err := s.store.AddUnsentOrder(ctx, UnsentOrder{Ref: nonce, Request: req}); err != nil {
		return 0, err
	}
	return nonce, nil
}

// FindSentOrder returns the sent order for a reference, or nil while the
// submission is unresolved.
func (s *Sender) FindSentOrder(ctx context.Context, ref int64) (*SentOrder, error) {
	return s.store.FindSentOrderByRef(ctx, ref)
}

// FailureInfo returns the recorded error text for a permanently failed
// reference.
func (s *Sender) FailureInfo(ctx context.Context, ref int64) (string, bool, error) {
	return s.store.FindFailedOrderError(ctx, ref)
}

// Start launches the resend loop.
func (s *Sender) Start() {
	go func() {
		defer close(s.doneChan)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				if err := s.Tick(context.Background()); err != nil {
					s.log.Error().Err(err).Msg("error occured while resending")
				}
			}
		}
	}()
}

// Stop halts the resend loop.
func (s *Sender) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

// Tick submits at most one unsent order, bounding per-tick load against
// the exchange's point budget.
func (s *Sender) Tick(ctx context.Context) error {
	unsent, err := s.store.ListUnsentOrders(ctx)
	if err != nil {
		return err
	}
	if len(unsent) == 0 {
		return nil
	}

	return s.send(ctx, unsent[0])
}

func (s *Sender) send(ctx context.Context, order UnsentOrder) error {
	s.log.Info().Int64("ref", order.Ref).Str("pair", order.Request.Pair).Msg("sending order")

	result, err := s.gateway.AddOrder(ctx, order.Request, order.Ref)
	if err != nil {
		return s.classifyFailure(ctx, order, err)
	}

	if len(result.TransactionIDs) == 0 {
		// Accepted but no id returned; recover it the same way as an
		// ambiguous outcome.
		s.log.Error().Int64("ref", order.Ref).Msg("order accepted without a transaction id")
		return s.moveToPending(ctx, order)
	}
	if len(result.TransactionIDs) > 1 {
		s.log.Error().Int("count", len(result.TransactionIDs)).Msg("one transaction id expected but more come")
	}

	if err := s.store.AddSentOrder(ctx, SentOrder{Ref: order.Ref, TxID: result.TransactionIDs[0]}); err != nil {
		return err
	}
	return s.store.RemoveUnsentOrder(ctx, order.Ref)
}

// classifyFailure applies the outcome taxonomy: an exchange rejection is
// permanent unless it is a nonce race, which means the order may have
// been accepted; anything else is retried on the next tick by leaving
// the unsent record in place.
func (s *Sender) classifyFailure(ctx context.Context, order UnsentOrder, err error) error {
	var exchangeErr *kraken.ExchangeError
	if !errors.As(err, &exchangeErr) {
		s.log.Error().Err(err).Int64("ref", order.Ref).Msg("error occured while sending order, will retry later")
		return nil
	}

	if exchangeErr.InvalidNonce() {
		s.log.Error().Int64("ref", order.Ref).Msg("exchange indicates this nonce is used so we assume order is sent successfully")
		return s.moveToPending(ctx, order)
	}

	s.log.Error().Err(err).Int64("ref", order.Ref).Msg("exchange rejected order, will NOT retry later")

	if err := s.store.AddFailedOrder(ctx, FailedOrder{
		Ref:     order.Ref,
		Request: order.Request,
		Error:   exchangeErr.Error(),
	}); err != nil {
		return err
	}
	return s.store.RemoveUnsentOrder(ctx, order.Ref)
}

func (s *Sender) moveToPending(ctx context.Context, order UnsentOrder) error {
	if err := s.store.AddPendingID(ctx, PendingIDEntry{Ref: order.Ref}); err != nil {
		return err
	}
	return s.store.RemoveUnsentOrder(ctx, order.Ref)
}
