package settlement

import (
	"fmt"
	"math/big"

	"intent-settlement/internal/intent"
)

// ValidateAuction rejects auction parameters that cannot price. A Dutch
// auction must start at or above its floor.
func ValidateAuction(in intent.Intent) error {
	if err := in.Validate(); err != nil {
		return ErrInvalidIntent.With(err)
	}
	if in.Type == intent.TypeDutch && in.StartAmountOut.Cmp(in.MinAmountOut) < 0 {
		return ErrInvalidIntent.With(fmt.Errorf("dutch start %s below floor %s", in.StartAmountOut, in.MinAmountOut))
	}
	return nil
}

// MinAcceptableOutput returns the lowest output a solver may deliver at now
// (unix seconds).
//
// A Dutch intent decays linearly over the window [deadline-period, deadline]:
// start - (start-min)*elapsed/period, with elapsed clamped to [0, period].
// Every other type uses MinAmountOut.
func MinAcceptableOutput(in intent.Intent, now, period uint64) (*big.Int, error) {
	switch in.Type {
	case intent.TypeDutch:
		return dutchPrice(in, now, period), nil
	case intent.TypeLimit, intent.TypeBatch, intent.TypeRFQ, intent.TypeTWAP:
		return new(big.Int).Set(in.MinAmountOut), nil
	default:
		return nil, ErrInvalidIntent.With(fmt.Errorf("unknown intent type %d", uint8(in.Type)))
	}
}

func dutchPrice(in intent.Intent, now, period uint64) *big.Int {
	if period == 0 {
		return new(big.Int).Set(in.MinAmountOut)
	}
	var windowStart uint64
	if in.Deadline > period {
		windowStart = in.Deadline - period
	}
	var elapsed uint64
	if now > windowStart {
		elapsed = min(now-windowStart, period)
	}

	spread := new(big.Int).Sub(in.StartAmountOut, in.MinAmountOut)
	decay := spread.Mul(spread, new(big.Int).SetUint64(elapsed))
	decay.Quo(decay, new(big.Int).SetUint64(period))
	return decay.Sub(in.StartAmountOut, decay)
}
