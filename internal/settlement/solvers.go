package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"intent-settlement/internal/events"
	"intent-settlement/pkg/logger"
)

// RegisterSolver moves stake from caller into escrow and activates the
// solver. The deposit itself must meet the minimum stake.
func (e *Engine) RegisterSolver(ctx context.Context, caller common.Address, stake *big.Int) (solver Solver, err error) {
	tx := e.begin(ctx, "register_solver")
	defer func() { tx.end(err) }()

	if stake == nil || stake.Sign() < 0 || stake.Cmp(e.params.MinSolverStake) < 0 {
		return solver, ErrInsufficientStake.With(fmt.Errorf("deposit %v below minimum %s", stake, e.params.MinSolverStake))
	}
	deposit := []leg{{asset: e.params.StakeAsset, from: caller, to: e.params.Escrow, amount: stake}}
	if err := e.executeLegs(ctx, deposit); err != nil {
		return solver, err
	}
	s := e.solvers.deposit(caller, stake, tx.now)

	tx.emit(events.TypeSolverRegistered, SolverRegistered{
		Solver:  caller,
		Deposit: stake.String(),
		Stake:   s.Stake.String(),
	})
	logger.Record(ctx, "solver registered",
		slog.String("solver", caller.Hex()),
		slog.String("deposit", stake.String()),
		slog.String("stake", s.Stake.String()))
	return s.view(e.params.MinSolverStake), nil
}

// WithdrawStake returns up to the solver's stake from escrow. Stake is locked
// while the solver holds a committed batch.
func (e *Engine) WithdrawStake(ctx context.Context, caller common.Address, amount *big.Int) (solver Solver, err error) {
	tx := e.begin(ctx, "withdraw_stake")
	defer func() { tx.end(err) }()

	s := e.solvers.get(caller)
	if s == nil {
		return solver, ErrInvalidSolver.With(fmt.Errorf("solver %s is not registered", caller.Hex()))
	}
	if amount == nil || amount.Sign() <= 0 {
		return solver, ErrInvalidParameter.With(fmt.Errorf("withdrawal must be positive"))
	}
	if amount.Cmp(s.Stake) > 0 {
		return solver, ErrInsufficientStake.With(fmt.Errorf("withdrawal %s exceeds stake %s", amount, s.Stake))
	}
	if b := e.batches.current; b.Status == BatchCommitted && b.Solver == caller {
		return solver, ErrInvalidBatch.With(fmt.Errorf("stake is locked by committed batch %s", b.ID.Hex()))
	}
	payout := []leg{{asset: e.params.StakeAsset, from: e.params.Escrow, to: caller, amount: amount}}
	if err := e.executeLegs(ctx, payout); err != nil {
		return solver, err
	}
	e.solvers.withdraw(caller, amount)

	tx.emit(events.TypeStakeWithdrawn, StakeWithdrawn{
		Solver: caller,
		Amount: amount.String(),
		Stake:  s.Stake.String(),
	})
	logger.Record(ctx, "stake withdrawn",
		slog.String("solver", caller.Hex()),
		slog.String("amount", amount.String()))
	return s.view(e.params.MinSolverStake), nil
}

// Slash burns up to amount of a solver's stake into the fee recipient.
func (e *Engine) Slash(ctx context.Context, caller, solver common.Address, amount *big.Int, reason string) (slashed *big.Int, err error) {
	tx := e.begin(ctx, "slash")
	defer func() { tx.end(err) }()

	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	s := e.solvers.get(solver)
	if s == nil {
		return nil, ErrInvalidSolver.With(fmt.Errorf("solver %s is not registered", solver.Hex()))
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidParameter.With(fmt.Errorf("slash amount must be non-negative"))
	}
	slashed = e.solvers.slashAmount(solver, amount)
	penalty := []leg{{asset: e.params.StakeAsset, from: e.params.Escrow, to: e.params.FeeRecipient, amount: slashed}}
	if err := e.executeLegs(ctx, penalty); err != nil {
		return nil, err
	}
	e.solvers.slash(solver, slashed)

	tx.emit(events.TypeSolverSlashed, SolverSlashed{
		Solver:     solver,
		Amount:     slashed.String(),
		Reason:     reason,
		Stake:      s.Stake.String(),
		Reputation: s.Reputation,
	})
	logger.Record(ctx, "solver slashed",
		slog.String("solver", solver.Hex()),
		slog.String("amount", slashed.String()),
		slog.String("reason", reason))
	return slashed, nil
}

// SetWhitelist grants or revokes a solver's permission in permissioned mode.
func (e *Engine) SetWhitelist(ctx context.Context, caller, solver common.Address, whitelisted bool) (err error) {
	tx := e.begin(ctx, "set_whitelist")
	defer func() { tx.end(err) }()

	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.solvers.ensure(solver, tx.now).Whitelisted = whitelisted

	tx.emit(events.TypeSolverWhitelisted, SolverWhitelisted{Solver: solver, Whitelisted: whitelisted})
	logger.Record(ctx, "solver whitelist updated",
		slog.String("solver", solver.Hex()),
		slog.Bool("whitelisted", whitelisted))
	return nil
}

func (e *Engine) requireOwner(caller common.Address) error {
	if caller != e.params.Owner {
		return ErrUnauthorized.With(fmt.Errorf("%s is not the owner", caller.Hex()))
	}
	return nil
}
