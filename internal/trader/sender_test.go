package trader

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"kraken-trading-bot/internal/kraken"
)

func limitBuy(volume, price string) kraken.OrderRequest {
	return kraken.OrderRequest{
		Pair:   "XXRPZUSD",
		Side:   kraken.SideBuy,
		Type:   kraken.TypeLimit,
		Volume: volume,
		Price:  price,
	}
}

func TestEnqueue(t *testing.T) {
	store := newMemStore()
	sender := NewSender(store, &fakeGateway{}, &seqNonces{next: 100}, zerolog.Nop())

	ref, err := sender.Enqueue(context.Background(), limitBuy("100", "0.08"))
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if ref != 100 {
		t.Errorf("ref = %d, want 100", ref)
	}
	if len(store.unsent) != 1 || store.unsent[0].Ref != 100 {
		t.Errorf("unsent queue = %+v, want one entry with ref 100", store.unsent)
	}
}

func TestEnqueueRejectsInvalidRequest(t *testing.T) {
	store := newMemStore()
	nonces := &seqNonces{next: 100}
	sender := NewSender(store, &fakeGateway{}, nonces, zerolog.Nop())

	req := limitBuy("100", "") // limit without price

	if _, err := sender.Enqueue(context.Background(), req); err == nil {
		t.Fatal("expected validation error")
	}
	if nonces.next != 100 {
		t.Error("nonce consumed for a rejected request")
	}
	if len(store.unsent) != 0 {
		t.Error("rejected request was persisted")
	}
}

func TestTickOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("success records sent order", func(t *testing.T) {
		store := newMemStore()
		gateway := &fakeGateway{addResult: kraken.AddOrderResult{TransactionIDs: []string{"TX-1"}}}
		sender := NewSender(store, gateway, &seqNonces{next: 1}, zerolog.Nop())

		if _, err := sender.Enqueue(ctx, limitBuy("100", "0.08")); err != nil {
			t.Fatal(err)
		}
		if err := sender.Tick(ctx); err != nil {
			t.Fatalf("Tick returned error: %v", err)
		}

		if len(store.unsent) != 0 {
			t.Error("unsent order not removed after success")
		}
		sent, _ := store.FindSentOrderByRef(ctx, 1)
		if sent == nil || sent.TxID != "TX-1" {
			t.Errorf("sent order = %+v, want TX-1 under ref 1", sent)
		}
	})

	t.Run("multiple transaction ids keeps the first", func(t *testing.T) {
		store := newMemStore()
		gateway := &fakeGateway{addResult: kraken.AddOrderResult{TransactionIDs: []string{"TX-1", "TX-2"}}}
		sender := NewSender(store, gateway, &seqNonces{next: 1}, zerolog.Nop())

		if _, err := sender.Enqueue(ctx, limitBuy("100", "0.08")); err != nil {
			t.Fatal(err)
		}
		if err := sender.Tick(ctx); err != nil {
			t.Fatal(err)
		}

		sent, _ := store.FindSentOrderByRef(ctx, 1)
		if sent == nil || sent.TxID != "TX-1" {
			t.Errorf("sent order = %+v, want first id TX-1", sent)
		}
	})

	t.Run("exchange rejection is permanent", func(t *testing.T) {
		store := newMemStore()
		gateway := &fakeGateway{addErr: &kraken.ExchangeError{Code: "Order:Insufficient funds"}}
		sender := NewSender(store, gateway, &seqNonces{next: 1}, zerolog.Nop())

		if _, err := sender.Enqueue(ctx, limitBuy("100", "0.08")); err != nil {
			t.Fatal(err)
		}
		if err := sender.Tick(ctx); err != nil {
			t.Fatal(err)
		}

		if len(store.unsent) != 0 {
			t.Error("rejected order left in queue")
		}
		if _, failed, _ := store.FindFailedOrderError(ctx, 1); !failed {
			t.Error("no failure recorded for rejected order")
		}
		if len(store.pending) != 0 {
			t.Error("rejected order moved to pending")
		}
	})

	t.Run("invalid nonce moves reference to pending", func(t *testing.T) {
		store := newMemStore()
		gateway := &fakeGateway{addErr: &kraken.ExchangeError{Code: "API:Invalid nonce"}}
		sender := NewSender(store, gateway, &seqNonces{next: 1}, zerolog.Nop())

		if _, err := sender.Enqueue(ctx, limitBuy("100", "0.08")); err != nil {
			t.Fatal(err)
		}
		if err := sender.Tick(ctx); err != nil {
			t.Fatal(err)
		}

		if len(store.unsent) != 0 {
			t.Error("ambiguous order left in queue")
		}
		if len(store.pending) != 1 || store.pending[0].Ref != 1 {
			t.Errorf("pending = %+v, want ref 1", store.pending)
		}
		if _, failed, _ := store.FindFailedOrderError(ctx, 1); failed {
			t.Error("ambiguous outcome recorded as permanent failure")
		}
	})

	t.Run("transport error leaves order queued", func(t *testing.T) {
		store := newMemStore()
		gateway := &fakeGateway{addErr: &kraken.TransportError{Op: "AddOrder", Err: fmt.Errorf("connection reset")}}
		sender := NewSender(store, gateway, &seqNonces{next: 1}, zerolog.Nop())

		if _, err := sender.Enqueue(ctx, limitBuy("100", "0.08")); err != nil {
			t.Fatal(err)
		}
		if err := sender.Tick(ctx); err != nil {
			t.Fatal(err)
		}

		if len(store.unsent) != 1 {
			t.Error("order removed from queue on a retryable failure")
		}

		// Next tick retries the same order.
		if err := sender.Tick(ctx); err != nil {
			t.Fatal(err)
		}
		if gateway.addCalls != 2 {
			t.Errorf("addCalls = %d, want 2", gateway.addCalls)
		}
	})

	t.Run("storage failure surfaces to the caller", func(t *testing.T) {
		store := newMemStore()
		store.failListUnsent = true
		sender := NewSender(store, &fakeGateway{}, &seqNonces{next: 1}, zerolog.Nop())

		if err := sender.Tick(ctx); err == nil {
			t.Error("expected storage error from Tick")
		}
	})

	t.Run("one order per tick", func(t *testing.T) {
		store := newMemStore()
		gateway := &fakeGateway{addResult: kraken.AddOrderResult{TransactionIDs: []string{"TX-1"}}}
		sender := NewSender(store, gateway, &seqNonces{next: 1}, zerolog.Nop())

		for i := 0; i < 3; i++ {
			if _, err := sender.Enqueue(ctx, limitBuy("100", "0.08")); err != nil {
				t.Fatal(err)
			}
		}

		if err := sender.Tick(ctx); err != nil {
			t.Fatal(err)
		}
		if gateway.addCalls != 1 {
			t.Errorf("addCalls = %d, want 1", gateway.addCalls)
		}
		if len(store.unsent) != 2 {
			t.Errorf("remaining queue length = %d, want 2", len(store.unsent))
		}
	})
}
