// Package position holds the pure trading domain logic: the position
// lifecycle as a tagged union with copy-forward transitions, and the
// pricing policies that place a counter-order after a leg closes. No
// function here performs I/O.
package position

import (
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"kraken-trading-bot/internal/kraken"
)

// State discriminates the position variants. Only the fields of the
// active variant are meaningful; transitions return a fresh copy with
// the discriminant and variant fields replaced, never mutate in place.
type State string

const (
	StateUnstarted    State = "UNSTARTED"
	StateWaitingSend  State = "WAITING_ORDER_SENDING"
	StateWaitingClose State = "WAITING_ORDER_CLOSING"
	StateStopped      State = "STOPPED"
	StateFailed       State = "FAILED"
)

const (
	StopReasonMatchingClosed = "matching order closed"
	StopReasonCancelled      = "user cancelled order"
)

// Position is one round-trip trading position. Shared fields survive
// every transition: id, strategy, side, pair, volume, the recorded
// starting price and the ordered history of completed transaction ids.
//
// Variant fields: SendRef is the unconfirmed client reference while
// waiting for an order to send; CurrentTxID is the single open
// transaction tracked while waiting for it to close; Detail carries the
// stop reason or failure info in the terminal states.
type Position struct {
	ID            string           `json:"id"`
	State         State            `json:"state"`
	Strategy      Strategy         `json:"strategy"`
	Side          kraken.OrderSide `json:"side"`
	Pair          string           `json:"pair"`
	Volume        float64          `json:"volume"`
	StartingPrice float64          `json:"starting_price,omitempty"`
	Completed     []string         `json:"completed_txids"`

	SendRef     string `json:"send_ref,omitempty"`
	CurrentTxID string `json:"current_tx_id,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// NewUnstarted creates a fresh position. A zero startingPrice means the
// initial order is placed at market.
func NewUnstarted(strategy Strategy, side kraken.OrderSide, pair string, volume, startingPrice float64) Position {
	return Position{
		ID:            uuid.NewString(),
		State:         StateUnstarted,
		Strategy:      strategy,
		Side:          side,
		Pair:          pair,
		Volume:        volume,
		StartingPrice: startingPrice,
		Completed:     []string{},
	}
}

// shared returns a copy carrying only the fields common to all
// variants, with the variant fields cleared and the history defensively
// copied so transitions never alias each other.
func (p Position) shared() Position {
	next := p
	next.SendRef = ""
	next.CurrentTxID = ""
	next.Detail = ""
	next.Completed = append([]string(nil), p.Completed...)
	return next
}

// ToWaitingSend moves the position behind an enqueued but unconfirmed
// order submission identified by its client reference.
func (p Position) ToWaitingSend(ref string) Position {
	next := p.shared()
	next.State = StateWaitingSend
	next.SendRef = ref
	return next
}

// ToFailed records a permanent submission failure.
func (p Position) ToFailed(info string) Position {
	next := p.shared()
	next.State = StateFailed
	next.Detail = info
	return next
}

// ToWaitingClose moves a waiting-send position to tracking the open
// transaction its reference resolved to.
func (p Position) ToWaitingClose(txID string) Position {
	next := p.shared()
	next.State = StateWaitingClose
	next.CurrentTxID = txID
	return next
}

// ToWaitingSendAfterClose handles the tracked order closing and a
// counter-order having been enqueued under ref. The first ever close
// records the fill price as the position's starting price; the closed
// leg's transaction id is appended to the history.
func (p Position) ToWaitingSendAfterClose(ref string, closed kraken.Order) (Position, error) {
	next := p.shared()

	if next.StartingPrice == 0 && len(next.Completed) == 0 {
		avg, err := strconv.ParseFloat(closed.AveragePrice, 64)
		if err != nil {
			return Position{}, &kraken.ValidationError{Msg: "unparsable average price " + closed.AveragePrice}
		}
		next.StartingPrice = avg
	}

	next.Completed = append(next.Completed, p.CurrentTxID)
	next.State = StateWaitingSend
	next.SendRef = ref
	return next, nil
}

// ToStoppedAfterMatchingOrderClosed appends the tracked transaction id
// and stops the position. Callers gate this on StopsAfterClose.
func (p Position) ToStoppedAfterMatchingOrderClosed() Position {
	next := p.shared()
	next.Completed = append(next.Completed, p.CurrentTxID)
	next.State = StateStopped
	next.Detail = StopReasonMatchingClosed
	return next
}

// ToStoppedAfterMatchingOrderCancelled stops the position after the
// tracked order was cancelled on the exchange. The cancelled id is not
// part of the completed history.
func (p Position) ToStoppedAfterMatchingOrderCancelled() Position {
	next := p.shared()
	next.State = StateStopped
	next.Detail = StopReasonCancelled
	return next
}

// StopsAfterClose reports whether the close of the tracked order ends
// the position: an odd completed count means the closing order is the
// matching leg of a round trip, and a non-repeating strategy stops
// there. Even counts and repeating strategies continue the cycle.
func (p Position) StopsAfterClose() bool {
	return len(p.Completed)%2 == 1 && !p.Strategy.Repeat
}

// CreateOrder builds the initial order for an unstarted position: a
// limit order at the starting price when one is set, a market order
// otherwise.
func (p Position) CreateOrder() kraken.OrderRequest {
	req := kraken.OrderRequest{
		Pair:   p.Pair,
		Side:   p.Side,
		Volume: strconv.FormatFloat(p.Volume, 'f', -1, 64),
	}
	if p.StartingPrice != 0 {
		req.Type = kraken.TypeLimit
		req.Price = formatPrice(p.StartingPrice, 8)
	} else {
		req.Type = kraken.TypeMarket
	}
	return req
}

// CreateMatchingOrder builds the counter-order for a closed leg: a
// limit order for the same volume on the opposite side, priced below
// the fill for a closed sell and above it for a closed buy.
func (p Position) CreateMatchingOrder(closed kraken.Order) (kraken.OrderRequest, error) {
	avg, err := strconv.ParseFloat(closed.AveragePrice, 64)
	if err != nil {
		return kraken.OrderRequest{}, &kraken.ValidationError{Msg: "unparsable average price " + closed.AveragePrice}
	}
	volume, err := strconv.ParseFloat(closed.Volume, 64)
	if err != nil {
		return kraken.OrderRequest{}, &kraken.ValidationError{Msg: "unparsable volume " + closed.Volume}
	}
	fee, err := strconv.ParseFloat(closed.Fee, 64)
	if err != nil {
		return kraken.OrderRequest{}, &kraken.ValidationError{Msg: "unparsable fee " + closed.Fee}
	}

	diff, err := p.Strategy.PriceDiff(avg, volume, fee)
	if err != nil {
		return kraken.OrderRequest{}, err
	}

	digits := 6
	if p.Pair == "XXRPZUSD" {
		digits = 5
	}

	req := kraken.OrderRequest{
		Pair:   p.Pair,
		Side:   closed.Side.Opposite(),
		Type:   kraken.TypeLimit,
		Volume: closed.Volume,
	}
	if closed.Side == kraken.SideSell {
		req.Price = formatPrice(avg-diff, digits)
	} else {
		req.Price = formatPrice(avg+diff, digits)
	}
	return req, nil
}

// InsideRange reports whether a target price sits within the tolerance
// of either the recorded starting price or the projected counter price.
// Positions with no starting price yet always match. Advisory only,
// never consulted on the transition path.
func (p Position) InsideRange(targetPrice, tolerance float64) bool {
	if p.StartingPrice == 0 {
		return true
	}
	if math.Abs(targetPrice-p.StartingPrice) < tolerance {
		return true
	}

	diff, err := p.Strategy.PriceDiff(p.StartingPrice, p.Volume, 0)
	if err != nil {
		return false
	}

	response := p.StartingPrice - diff
	if p.Side == kraken.SideBuy {
		response = p.StartingPrice + diff
	}
	return math.Abs(targetPrice-response) < tolerance
}

// formatPrice renders a price to at most the given number of decimal
// digits, dropping trailing zeros.
func formatPrice(price float64, digits int) string {
	s := strconv.FormatFloat(price, 'f', digits, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}
