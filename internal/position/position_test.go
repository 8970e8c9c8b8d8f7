package position

import (
	"testing"

	"kraken-trading-bot/internal/kraken"
)

func closedSell(volume, cost, fee, avgPrice string) kraken.Order {
	return kraken.Order{
		TxID:         "TX-CLOSED",
		Status:       kraken.StatusClosed,
		Side:         kraken.SideSell,
		Pair:         "XXRPZUSD",
		Type:         kraken.TypeLimit,
		Volume:       volume,
		Cost:         cost,
		Fee:          fee,
		AveragePrice: avgPrice,
	}
}

func TestCreateOrder(t *testing.T) {
	t.Run("market when no starting price", func(t *testing.T) {
		p := NewUnstarted(RatioExcludingFee(0.1, false), kraken.SideBuy, "XXRPZUSD", 100, 0)

		req := p.CreateOrder()

		if req.Type != kraken.TypeMarket {
			t.Errorf("type = %v, want market", req.Type)
		}
		if req.Side != kraken.SideBuy {
			t.Errorf("side = %v, want buy", req.Side)
		}
		if req.Volume != "100" {
			t.Errorf("volume = %q, want 100", req.Volume)
		}
		if req.Price != "" {
			t.Errorf("price = %q, want empty", req.Price)
		}
	})

	t.Run("limit when starting price set", func(t *testing.T) {
		p := NewUnstarted(RatioExcludingFee(0.1, false), kraken.SideSell, "XXRPZUSD", 100, 0.105)

		req := p.CreateOrder()

		if req.Type != kraken.TypeLimit {
			t.Errorf("type = %v, want limit", req.Type)
		}
		if req.Price != "0.105" {
			t.Errorf("price = %q, want 0.105", req.Price)
		}
	})
}

func TestCreateMatchingOrder(t *testing.T) {
	t.Run("fixed absolute counter buy", func(t *testing.T) {
		p := NewUnstarted(FixedAbsoluteIncludingFee(0.02, false), kraken.SideSell, "XXRPZUSD", 100, 0)
		p = p.ToWaitingSend("1").ToWaitingClose("TX-CLOSED")

		req, err := p.CreateMatchingOrder(closedSell("100", "10", "0.0001", "0.10"))
		if err != nil {
			t.Fatalf("CreateMatchingOrder returned error: %v", err)
		}

		if req.Side != kraken.SideBuy {
			t.Errorf("side = %v, want buy", req.Side)
		}
		if req.Type != kraken.TypeLimit {
			t.Errorf("type = %v, want limit", req.Type)
		}
		if req.Volume != "100" {
			t.Errorf("volume = %q, want 100", req.Volume)
		}
		if req.Price != "0.08" {
			t.Errorf("price = %q, want 0.08", req.Price)
		}
	})

	t.Run("ratio counter buy on five digit pair", func(t *testing.T) {
		p := NewUnstarted(RatioExcludingFee(0.1, false), kraken.SideSell, "XXRPZUSD", 100, 0)
		p = p.ToWaitingSend("1").ToWaitingClose("TX-CLOSED")

		req, err := p.CreateMatchingOrder(closedSell("100", "8", "0.2", "0.08"))
		if err != nil {
			t.Fatalf("CreateMatchingOrder returned error: %v", err)
		}

		if req.Side != kraken.SideBuy {
			t.Errorf("side = %v, want buy", req.Side)
		}
		if req.Price != "0.06675" {
			t.Errorf("price = %q, want 0.06675", req.Price)
		}
	})

	t.Run("closed buy yields counter sell above fill", func(t *testing.T) {
		p := NewUnstarted(FixedAbsoluteIncludingFee(0.02, true), kraken.SideBuy, "XETHZUSD", 100, 0)
		p = p.ToWaitingSend("1").ToWaitingClose("TX-CLOSED")

		closed := closedSell("100", "10", "0.0001", "0.10")
		closed.Side = kraken.SideBuy

		req, err := p.CreateMatchingOrder(closed)
		if err != nil {
			t.Fatalf("CreateMatchingOrder returned error: %v", err)
		}

		if req.Side != kraken.SideSell {
			t.Errorf("side = %v, want sell", req.Side)
		}
		if req.Price != "0.12" {
			t.Errorf("price = %q, want 0.12", req.Price)
		}
	})

	t.Run("fee not covered propagates validation error", func(t *testing.T) {
		p := NewUnstarted(FixedAbsoluteIncludingFee(0.02, false), kraken.SideSell, "XXRPZUSD", 100, 0)
		p = p.ToWaitingSend("1").ToWaitingClose("TX-CLOSED")

		if _, err := p.CreateMatchingOrder(closedSell("100", "10", "0.8", "0.10")); err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}

func TestTransitions(t *testing.T) {
	t.Run("copy forward keeps shared fields", func(t *testing.T) {
		p := NewUnstarted(RatioExcludingFee(0.1, false), kraken.SideSell, "XXRPZUSD", 100, 0.10)

		sending := p.ToWaitingSend("42")

		if sending.State != StateWaitingSend {
			t.Errorf("state = %v, want waiting send", sending.State)
		}
		if sending.ID != p.ID || sending.Pair != p.Pair || sending.Volume != p.Volume {
			t.Error("shared fields not carried forward")
		}
		if sending.SendRef != "42" {
			t.Errorf("send ref = %q, want 42", sending.SendRef)
		}

		closing := sending.ToWaitingClose("TX-1")
		if closing.State != StateWaitingClose {
			t.Errorf("state = %v, want waiting close", closing.State)
		}
		if closing.CurrentTxID != "TX-1" {
			t.Errorf("tx id = %q, want TX-1", closing.CurrentTxID)
		}
		if closing.SendRef != "" {
			t.Errorf("send ref = %q, want cleared", closing.SendRef)
		}
	})

	t.Run("first close records starting price and history", func(t *testing.T) {
		p := NewUnstarted(RatioExcludingFee(0.1, true), kraken.SideSell, "XXRPZUSD", 100, 0)
		closing := p.ToWaitingSend("1").ToWaitingClose("TX-1")

		next, err := closing.ToWaitingSendAfterClose("2", closedSell("100", "10", "0.2", "0.10"))
		if err != nil {
			t.Fatalf("ToWaitingSendAfterClose returned error: %v", err)
		}

		if next.StartingPrice != 0.10 {
			t.Errorf("starting price = %v, want 0.10", next.StartingPrice)
		}
		if len(next.Completed) != 1 || next.Completed[0] != "TX-1" {
			t.Errorf("completed = %v, want [TX-1]", next.Completed)
		}
		if next.State != StateWaitingSend || next.SendRef != "2" {
			t.Errorf("state = %v ref = %q, want waiting send with ref 2", next.State, next.SendRef)
		}
	})

	t.Run("later closes keep the recorded starting price", func(t *testing.T) {
		p := NewUnstarted(RatioExcludingFee(0.1, true), kraken.SideSell, "XXRPZUSD", 100, 0.10)
		closing := p.ToWaitingSend("1").ToWaitingClose("TX-1")

		next, err := closing.ToWaitingSendAfterClose("2", closedSell("100", "9", "0.2", "0.09"))
		if err != nil {
			t.Fatalf("ToWaitingSendAfterClose returned error: %v", err)
		}
		if next.StartingPrice != 0.10 {
			t.Errorf("starting price = %v, want unchanged 0.10", next.StartingPrice)
		}
	})

	t.Run("transitions do not alias history", func(t *testing.T) {
		closing := NewUnstarted(RatioExcludingFee(0.1, true), kraken.SideSell, "XXRPZUSD", 100, 0.10).
			ToWaitingSend("1").ToWaitingClose("TX-1")

		a, err := closing.ToWaitingSendAfterClose("2", closedSell("100", "10", "0.2", "0.10"))
		if err != nil {
			t.Fatal(err)
		}
		b := closing.ToStoppedAfterMatchingOrderClosed()

		if len(closing.Completed) != 0 {
			t.Errorf("source history mutated: %v", closing.Completed)
		}
		if len(a.Completed) != 1 || len(b.Completed) != 1 {
			t.Errorf("histories = %v and %v, want one entry each", a.Completed, b.Completed)
		}
	})

	t.Run("stop after matching close appends id", func(t *testing.T) {
		closing := NewUnstarted(RatioExcludingFee(0.1, false), kraken.SideSell, "XXRPZUSD", 100, 0.10).
			ToWaitingSend("1").ToWaitingClose("TX-2")
		closing.Completed = []string{"TX-1"}

		stopped := closing.ToStoppedAfterMatchingOrderClosed()

		if stopped.State != StateStopped {
			t.Errorf("state = %v, want stopped", stopped.State)
		}
		if stopped.Detail != StopReasonMatchingClosed {
			t.Errorf("detail = %q", stopped.Detail)
		}
		if len(stopped.Completed) != 2 || stopped.Completed[1] != "TX-2" {
			t.Errorf("completed = %v, want [TX-1 TX-2]", stopped.Completed)
		}
	})

	t.Run("cancel stops without appending", func(t *testing.T) {
		closing := NewUnstarted(RatioExcludingFee(0.1, false), kraken.SideSell, "XXRPZUSD", 100, 0.10).
			ToWaitingSend("1").ToWaitingClose("TX-2")

		stopped := closing.ToStoppedAfterMatchingOrderCancelled()

		if stopped.Detail != StopReasonCancelled {
			t.Errorf("detail = %q", stopped.Detail)
		}
		if len(stopped.Completed) != 0 {
			t.Errorf("completed = %v, want empty", stopped.Completed)
		}
	})
}

func TestStopsAfterClose(t *testing.T) {
	tests := []struct {
		name      string
		completed []string
		repeat    bool
		want      bool
	}{
		{"odd history non-repeating stops", []string{"TX-1"}, false, true},
		{"odd history repeating continues", []string{"TX-1"}, true, false},
		{"even history non-repeating continues", []string{"TX-1", "TX-2"}, false, false},
		{"empty history continues", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewUnstarted(RatioExcludingFee(0.1, tt.repeat), kraken.SideSell, "XXRPZUSD", 100, 0.10).
				ToWaitingSend("1").ToWaitingClose("TX-N")
			p.Completed = tt.completed

			if got := p.StopsAfterClose(); got != tt.want {
				t.Errorf("StopsAfterClose = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInsideRange(t *testing.T) {
	t.Run("no starting price always matches", func(t *testing.T) {
		p := NewUnstarted(RatioExcludingFee(0.1, false), kraken.SideSell, "XXRPZUSD", 100, 0)

		if !p.InsideRange(123.0, 0.001) {
			t.Error("expected match when no starting price recorded")
		}
	})

	t.Run("near starting price", func(t *testing.T) {
		p := NewUnstarted(RatioExcludingFee(0.1, false), kraken.SideSell, "XXRPZUSD", 100, 0.10)

		if !p.InsideRange(0.1005, 0.001) {
			t.Error("expected match near starting price")
		}
	})

	t.Run("near counter price for sell side", func(t *testing.T) {
		// Counter for a sell leg sits below the start: 0.10 - 0.10*0.1 = 0.09.
		p := NewUnstarted(RatioExcludingFee(0.1, false), kraken.SideSell, "XXRPZUSD", 100, 0.10)

		if !p.InsideRange(0.0902, 0.001) {
			t.Error("expected match near counter price")
		}
		if p.InsideRange(0.1102, 0.001) {
			t.Error("unexpected match above starting price for a sell leg")
		}
	})

	t.Run("outside both", func(t *testing.T) {
		p := NewUnstarted(RatioExcludingFee(0.1, false), kraken.SideSell, "XXRPZUSD", 100, 0.10)

		if p.InsideRange(0.5, 0.001) {
			t.Error("unexpected match far from both prices")
		}
	})
}
