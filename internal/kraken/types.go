// Package kraken implements the authenticated Kraken REST client used by
// the trading service: a rate-limited request dispatcher, the request
// signing scheme, and a typed gateway over the raw wire protocol.
package kraken

import (
	"time"
)

type OrderSide string
type OrderType string
type OrderStatus string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"

	TypeMarket   OrderType = "MARKET"
	TypeLimit    OrderType = "LIMIT"
	TypeStopLoss OrderType = "STOP_LOSS"

	StatusPending  OrderStatus = "PENDING"
	StatusOpen     OrderStatus = "OPEN"
	StatusClosed   OrderStatus = "CLOSED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusExpired  OrderStatus = "EXPIRED"
)

// Opposite returns the other side of the book.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

var sideToWire = map[OrderSide]string{
	SideBuy:  "buy",
	SideSell: "sell",
}

var typeToWire = map[OrderType]string{
	TypeMarket:   "market",
	TypeLimit:    "limit",
	TypeStopLoss: "stop-loss",
}

var statusFromWire = map[string]OrderStatus{
	"pending":  StatusPending,
	"open":     StatusOpen,
	"closed":   StatusClosed,
	"canceled": StatusCanceled,
	"expired":  StatusExpired,
}

func sideFromWire(s string) (OrderSide, error) {
	for side, wire := range sideToWire {
		if wire == s {
			return side, nil
		}
	}
	return "", validationErrorf("unexpected order side %q", s)
}

func typeFromWire(s string) (OrderType, error) {
	for typ, wire := range typeToWire {
		if wire == s {
			return typ, nil
		}
	}
	return "", validationErrorf("unexpected order type %q", s)
}

// Order is the exchange-side snapshot of a single order. It is immutable
// once fetched; a fresher view is obtained by refetching, never by
// mutating fields in place.
type Order struct {
	TxID           string      `json:"tx_id"`
	RefID          string      `json:"ref_id,omitempty"`
	UserRef        string      `json:"user_ref,omitempty"`
	Status         OrderStatus `json:"status"`
	Side           OrderSide   `json:"side"`
	Pair           string      `json:"pair"`
	Type           OrderType   `json:"type"`
	Price          string      `json:"price,omitempty"`
	Volume         string      `json:"volume"`
	ExecutedVolume string      `json:"executed_volume"`
	Cost           string      `json:"cost"`
	Fee            string      `json:"fee"`
	AveragePrice   string      `json:"average_price"`
	Description    string      `json:"description,omitempty"`
	OpenTime       float64     `json:"open_time,omitempty"`
	CloseTime      float64     `json:"close_time,omitempty"`
}

// Ticker is a single best-bid/ask observation for a pair.
type Ticker struct {
	Pair      string    `json:"pair"`
	Ask       string    `json:"ask"`
	AskVolume string    `json:"ask_volume"`
	Bid       string    `json:"bid"`
	BidVolume string    `json:"bid_volume"`
	LastPrice string    `json:"last_price"`
	Timestamp time.Time `json:"timestamp"`
}

// Balance is one asset balance from the account.
type Balance struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// AddOrderResult is the typed response of an order submission.
type AddOrderResult struct {
	Description    string
	TransactionIDs []string
}
