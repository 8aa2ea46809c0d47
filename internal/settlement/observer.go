package settlement

import (
	"math/big"
	"time"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/intent"
)

// Observer receives engine measurements. The metrics package implements it.
type Observer interface {
	// Operation is called once per engine operation with its outcome.
	Operation(op string, err error, elapsed time.Duration)
	// Filled is called for every settled intent.
	Filled(t intent.Type, amountOut, fee *big.Int)
	// Skipped is called for every intent a batch passes over.
	Skipped(code xerrors.Code)
}

type nopObserver struct{}

func (nopObserver) Operation(string, error, time.Duration) {}
func (nopObserver) Filled(intent.Type, *big.Int, *big.Int) {}
func (nopObserver) Skipped(xerrors.Code)                   {}
