package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "intent-settlement/internal/errors"
)

// Transferer moves value between accounts. Implementations must either
// apply a transfer completely or return an error.
type Transferer interface {
	Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) error
}

// leg is one movement inside an all-or-nothing settlement.
type leg struct {
	asset  common.Address
	from   common.Address
	to     common.Address
	amount *big.Int
}

func (l leg) reversed() leg {
	return leg{asset: l.asset, from: l.to, to: l.from, amount: l.amount}
}

// executeLegs applies legs in order. On failure the applied legs are reversed
// newest first and ErrTransferFailed is returned. A reversal that fails is
// reported with alerting enabled since the books are then inconsistent.
func (e *Engine) executeLegs(ctx context.Context, legs []leg) error {
	applied := make([]leg, 0, len(legs))
	for _, l := range legs {
		if l.amount == nil || l.amount.Sign() == 0 {
			continue
		}
		if err := e.transfers.Transfer(ctx, l.asset, l.from, l.to, l.amount); err != nil {
			cause := fmt.Errorf("transfer %s of %s from %s to %s: %w", l.amount, l.asset.Hex(), l.from.Hex(), l.to.Hex(), err)
			if revertErr := e.revert(ctx, applied); revertErr != nil {
				return ErrTransferFailed.With(errors.Join(cause, revertErr),
					xerrors.WithSeverity(xerrors.SeverityCritical),
					xerrors.WithMetadata("stage", "revert"))
			}
			return ErrTransferFailed.With(cause)
		}
		applied = append(applied, l)
	}
	return nil
}

func (e *Engine) revert(ctx context.Context, applied []leg) error {
	// Reversal must run even when the caller's context is already cancelled.
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		r := applied[i].reversed()
		if err := e.transfers.Transfer(ctx, r.asset, r.from, r.to, r.amount); err != nil {
			e.logger.Error("revert transfer leg failed",
				slog.String("asset", r.asset.Hex()),
				slog.String("from", r.from.Hex()),
				slog.String("to", r.to.Hex()),
				slog.String("amount", r.amount.String()),
				slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
