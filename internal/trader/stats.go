package trader

import (
	"context"
	"math"
	"strconv"

	"kraken-trading-bot/internal/kraken"
)

// TickerHistory supplies recent ticker observations for a pair.
// Implemented by database.Repository.
type TickerHistory interface {
	RecentTickers(ctx context.Context, pair string, limit int) ([]kraken.Ticker, error)
}

// MovingAverage is a simple moving average of bid and ask over a window
// of ticker observations.
type MovingAverage struct {
	Ask     float64
	Bid     float64
	Samples int
}

// BidAskMovingAverage averages the parsable bid and ask prices of the
// given observations. Observations with unparsable prices are skipped.
func BidAskMovingAverage(tickers []kraken.Ticker) MovingAverage {
	var askSum, bidSum float64
	var samples int

	for _, t := range tickers {
		ask, err := strconv.ParseFloat(t.Ask, 64)
		if err != nil {
			continue
		}
		bid, err := strconv.ParseFloat(t.Bid, 64)
		if err != nil {
			continue
		}
		askSum += ask
		bidSum += bid
		samples++
	}

	if samples == 0 {
		return MovingAverage{}
	}
	return MovingAverage{
		Ask:     askSum / float64(samples),
		Bid:     bidSum / float64(samples),
		Samples: samples,
	}
}

// ClosestOrder returns the order whose price is nearest to the target,
// or nil when the list is empty. Orders with unparsable prices are
// skipped.
func ClosestOrder(orders []kraken.Order, target float64) *kraken.Order {
	var closest *kraken.Order
	best := math.Inf(1)

	for i := range orders {
		price, err := strconv.ParseFloat(orders[i].Price, 64)
		if err != nil {
			continue
		}
		if distance := math.Abs(price - target); distance < best {
			best = distance
			closest = &orders[i]
		}
	}
	return closest
}
