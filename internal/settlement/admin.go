package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"intent-settlement/internal/events"
	"intent-settlement/pkg/logger"
)

// updateParams applies one owner-only change and emits ParamsUpdated.
func (e *Engine) updateParams(ctx context.Context, caller common.Address, field string, apply func(p *Params) (string, error)) (err error) {
	tx := e.begin(ctx, "update_params")
	defer func() { tx.end(err) }()

	if err := e.requireOwner(caller); err != nil {
		return err
	}
	next := e.params.clone()
	value, err := apply(&next)
	if err != nil {
		return ErrInvalidParameter.With(fmt.Errorf("%s: %w", field, err))
	}
	if err := next.Validate(); err != nil {
		return err
	}
	e.params = next

	tx.emit(events.TypeParamsUpdated, ParamsUpdated{Field: field, Value: value})
	logger.Record(ctx, "params updated",
		slog.String("field", field),
		slog.String("value", value),
		slog.String("caller", caller.Hex()))
	return nil
}

// SetProtocolFee sets the fee in basis points, at most MaxProtocolFeeBps.
func (e *Engine) SetProtocolFee(ctx context.Context, caller common.Address, bps uint64) error {
	return e.updateParams(ctx, caller, "protocol_fee_bps", func(p *Params) (string, error) {
		if bps > MaxProtocolFeeBps {
			return "", fmt.Errorf("%d bps exceeds %d", bps, MaxProtocolFeeBps)
		}
		p.ProtocolFeeBps = bps
		return strconv.FormatUint(bps, 10), nil
	})
}

// SetMinSolverStake changes the stake floor. Solver activity follows the new
// floor immediately.
func (e *Engine) SetMinSolverStake(ctx context.Context, caller common.Address, stake *big.Int) error {
	return e.updateParams(ctx, caller, "min_solver_stake", func(p *Params) (string, error) {
		if stake == nil || stake.Sign() < 0 {
			return "", fmt.Errorf("must be non-negative")
		}
		p.MinSolverStake = new(big.Int).Set(stake)
		return stake.String(), nil
	})
}

func (e *Engine) SetBatchInterval(ctx context.Context, caller common.Address, interval time.Duration) error {
	return e.updateParams(ctx, caller, "batch_interval", func(p *Params) (string, error) {
		if interval < 0 {
			return "", fmt.Errorf("must be non-negative")
		}
		p.BatchInterval = interval
		return interval.String(), nil
	})
}

func (e *Engine) SetRevealTimeout(ctx context.Context, caller common.Address, timeout time.Duration) error {
	return e.updateParams(ctx, caller, "reveal_timeout", func(p *Params) (string, error) {
		if timeout < 0 {
			return "", fmt.Errorf("must be non-negative")
		}
		p.RevealTimeout = timeout
		return timeout.String(), nil
	})
}

// SetDutchDecayPeriod changes the Dutch auction window. It must be at least
// one second.
func (e *Engine) SetDutchDecayPeriod(ctx context.Context, caller common.Address, period time.Duration) error {
	return e.updateParams(ctx, caller, "dutch_decay_period", func(p *Params) (string, error) {
		if period < time.Second {
			return "", fmt.Errorf("must be at least one second")
		}
		p.DutchDecayPeriod = period
		return period.String(), nil
	})
}

func (e *Engine) SetPermissioned(ctx context.Context, caller common.Address, permissioned bool) error {
	return e.updateParams(ctx, caller, "permissioned", func(p *Params) (string, error) {
		p.Permissioned = permissioned
		return strconv.FormatBool(permissioned), nil
	})
}

func (e *Engine) SetFeeRecipient(ctx context.Context, caller, recipient common.Address) error {
	return e.updateParams(ctx, caller, "fee_recipient", func(p *Params) (string, error) {
		if recipient == (common.Address{}) {
			return "", fmt.Errorf("zero address")
		}
		p.FeeRecipient = recipient
		return recipient.Hex(), nil
	})
}

// TransferOwnership hands every owner-only operation to newOwner.
func (e *Engine) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	return e.updateParams(ctx, caller, "owner", func(p *Params) (string, error) {
		if newOwner == (common.Address{}) {
			return "", fmt.Errorf("zero address")
		}
		p.Owner = newOwner
		return newOwner.Hex(), nil
	})
}
