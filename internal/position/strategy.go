package position

import (
	"fmt"

	"kraken-trading-bot/internal/kraken"
)

// feeCoefficient scales the per-unit fee so the price offset covers the
// sell + buy fee of a full round trip.
const feeCoefficient = 2.625

type StrategyKind string

const (
	// KindRatioExcludingFee offsets by a fraction of the fill price plus
	// the scaled round-trip fee.
	KindRatioExcludingFee StrategyKind = "RATIO_EXCLUDING_FEE"

	// KindFixedAbsoluteIncludingFee offsets by a fixed absolute amount
	// that must already cover the round-trip fee.
	KindFixedAbsoluteIncludingFee StrategyKind = "FIXED_ABSOLUTE_INCLUDING_FEE"
)

// Strategy is the pricing policy for counter-orders. Repeat controls
// whether the position keeps cycling after a full round trip completes.
type Strategy struct {
	Kind     StrategyKind `json:"kind"`
	Ratio    float64      `json:"ratio,omitempty"`
	Absolute float64      `json:"absolute,omitempty"`
	Repeat   bool         `json:"repeat"`
}

// RatioExcludingFee builds a strategy that offsets by price*ratio plus
// the scaled fee per unit of volume.
func RatioExcludingFee(ratio float64, repeat bool) Strategy {
	return Strategy{Kind: KindRatioExcludingFee, Ratio: ratio, Repeat: repeat}
}

// FixedAbsoluteIncludingFee builds a strategy with a fixed absolute
// offset. PriceDiff fails when the offset would not cover the fee.
func FixedAbsoluteIncludingFee(absolute float64, repeat bool) Strategy {
	return Strategy{Kind: KindFixedAbsoluteIncludingFee, Absolute: absolute, Repeat: repeat}
}

// PriceDiff computes the price offset for the counter-order of a leg
// filled at the given price, volume and fee.
func (s Strategy) PriceDiff(price, volume, fee float64) (float64, error) {
	switch s.Kind {
	case KindRatioExcludingFee:
		return price*s.Ratio + feeCoefficient*fee/volume, nil

	case KindFixedAbsoluteIncludingFee:
		if s.Absolute*volume <= fee*feeCoefficient {
			return 0, &kraken.ValidationError{
				Msg: fmt.Sprintf("price difference %g does not cover fee %g", s.Absolute, fee/volume),
			}
		}
		return s.Absolute, nil

	default:
		return 0, &kraken.ValidationError{Msg: fmt.Sprintf("unknown strategy kind %q", string(s.Kind))}
	}
}
