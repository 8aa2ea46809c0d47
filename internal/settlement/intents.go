package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"intent-settlement/internal/events"
	"intent-settlement/internal/intent"
	"intent-settlement/pkg/logger"
)

// FillResult describes a completed single-intent settlement.
type FillResult struct {
	IntentID      common.Hash    `json:"intent_id"`
	Maker         common.Address `json:"maker"`
	Solver        common.Address `json:"solver"`
	AmountOut     *big.Int       `json:"amount_out"`
	Fee           *big.Int       `json:"fee"`
	MakerReceives *big.Int       `json:"maker_receives"`
	MinAmountOut  *big.Int       `json:"min_amount_out"`
	FilledAt      time.Time      `json:"filled_at"`
}

// FillIntent settles one intent for solver. The intent must carry its content
// id and a maker signature over the codec digest. Any failure leaves the
// engine unchanged.
func (e *Engine) FillIntent(ctx context.Context, solver common.Address, in intent.Intent, sig []byte, amountOut *big.Int) (res FillResult, err error) {
	tx := e.begin(ctx, "fill_intent")
	defer func() { tx.end(err) }()

	if amountOut == nil || amountOut.Sign() < 0 {
		return res, ErrInvalidIntent.With(fmt.Errorf("amount out must be a non-negative integer"))
	}
	if err := ValidateAuction(in); err != nil {
		return res, err
	}
	if err := e.solvers.validate(solver, e.params.MinSolverStake, e.params.Permissioned); err != nil {
		return res, err
	}
	minOut, err := e.checkIntent(tx, in, sig, amountOut)
	if err != nil {
		return res, err
	}

	fee, makerReceives := SplitFee(amountOut, e.params.ProtocolFeeBps)
	if err := e.executeLegs(ctx, e.fillLegs(in, solver, makerReceives, fee)); err != nil {
		e.logger.Warn("fill transfer failed",
			slog.String("intent_id", in.ID.Hex()),
			slog.String("solver", solver.Hex()),
			slog.Any("error", err))
		return res, err
	}

	e.commitFill(tx, in, solver, amountOut, fee, nil)
	e.solvers.recordSuccess(solver, 1, in.AmountIn)

	return FillResult{
		IntentID:      in.ID,
		Maker:         in.Maker,
		Solver:        solver,
		AmountOut:     new(big.Int).Set(amountOut),
		Fee:           fee,
		MakerReceives: makerReceives,
		MinAmountOut:  minOut,
		FilledAt:      tx.now,
	}, nil
}

// checkIntent validates id, deadline, nonce, ledger status, signature and
// price in that order and returns the acceptable minimum output.
func (e *Engine) checkIntent(tx *txn, in intent.Intent, sig []byte, amountOut *big.Int) (*big.Int, error) {
	if want := intent.ContentID(in); in.ID != want {
		return nil, ErrInvalidIntent.With(fmt.Errorf("intent id %s does not match content id %s", in.ID.Hex(), want.Hex()))
	}
	now := tx.unix()
	if now > in.Deadline {
		return nil, ErrIntentExpired.With(fmt.Errorf("deadline %d passed at %d", in.Deadline, now))
	}
	if err := e.nonces.check(in.Maker, in.Nonce); err != nil {
		return nil, err
	}
	if f := e.fills.get(in.ID); f != nil && f.Status.Terminal() {
		return nil, terminalError(f.Status)
	}
	if !intent.Verify(e.verifier, e.codec.Hash(in), sig, in.Maker) {
		return nil, ErrInvalidSignature
	}
	minOut, err := MinAcceptableOutput(in, now, seconds(e.params.DutchDecayPeriod))
	if err != nil {
		return nil, err
	}
	if amountOut.Cmp(minOut) < 0 {
		return nil, ErrInsufficientOutput.With(fmt.Errorf("offered %s, minimum %s", amountOut, minOut))
	}
	return minOut, nil
}

func (e *Engine) fillLegs(in intent.Intent, solver common.Address, makerReceives, fee *big.Int) []leg {
	return []leg{
		{asset: in.TokenIn, from: in.Maker, to: solver, amount: in.AmountIn},
		{asset: in.TokenOut, from: solver, to: in.Maker, amount: makerReceives},
		{asset: in.TokenOut, from: solver, to: e.params.FeeRecipient, amount: fee},
	}
}

// commitFill advances the maker nonce, marks the intent FILLED and emits
// IntentFilled. Transfers must already have succeeded.
func (e *Engine) commitFill(tx *txn, in intent.Intent, solver common.Address, amountOut, fee *big.Int, batchID *common.Hash) {
	e.nonces.advance(in.Maker)
	f := e.fills.track(in.ID, in.Maker, in.Deadline, tx.now)
	var batch common.Hash
	if batchID != nil {
		batch = *batchID
	}
	e.fills.markFilled(f, solver, amountOut, fee, batch, tx.now)
	e.observer.Filled(in.Type, amountOut, fee)

	tx.emit(events.TypeIntentFilled, IntentFilled{
		IntentID:  in.ID,
		Maker:     in.Maker,
		Solver:    solver,
		TokenIn:   in.TokenIn,
		TokenOut:  in.TokenOut,
		AmountIn:  in.AmountIn.String(),
		AmountOut: amountOut.String(),
		Fee:       fee.String(),
		BatchID:   batchID,
	})
	logger.Record(tx.ctx, "intent filled",
		slog.String("intent_id", in.ID.Hex()),
		slog.String("maker", in.Maker.Hex()),
		slog.String("solver", solver.Hex()),
		slog.String("amount_out", amountOut.String()),
		slog.String("fee", fee.String()),
	)
}

// SubmitIntent authenticates a signed intent and records it as PENDING so
// that its maker can later cancel it. Intents signed for a future nonce are
// accepted.
func (e *Engine) SubmitIntent(ctx context.Context, in intent.Intent, sig []byte) (fill Fill, err error) {
	tx := e.begin(ctx, "submit_intent")
	defer func() { tx.end(err) }()

	if err := ValidateAuction(in); err != nil {
		return fill, err
	}
	if want := intent.ContentID(in); in.ID != want {
		return fill, ErrInvalidIntent.With(fmt.Errorf("intent id %s does not match content id %s", in.ID.Hex(), want.Hex()))
	}
	now := tx.unix()
	if now > in.Deadline {
		return fill, ErrIntentExpired
	}
	if current := e.nonces.current(in.Maker); in.Nonce < current {
		return fill, ErrInvalidNonce.With(fmt.Errorf("nonce %d already consumed, current %d", in.Nonce, current))
	}
	existing := e.fills.get(in.ID)
	if existing != nil {
		if st := existing.statusAt(now); st.Terminal() {
			return fill, terminalError(st)
		}
	}
	if !intent.Verify(e.verifier, e.codec.Hash(in), sig, in.Maker) {
		return fill, ErrInvalidSignature
	}

	f := e.fills.track(in.ID, in.Maker, in.Deadline, tx.now)
	if existing == nil {
		tx.emit(events.TypeIntentSubmitted, IntentSubmitted{
			IntentID: in.ID,
			Maker:    in.Maker,
			Type:     in.Type.String(),
			Nonce:    in.Nonce,
			Deadline: in.Deadline,
		})
	}
	return f.clone(), nil
}

// CancelIntent lets the maker of a tracked intent cancel it. Unknown intents
// and callers other than the maker are rejected with ErrUnauthorized.
func (e *Engine) CancelIntent(ctx context.Context, caller common.Address, id common.Hash) (err error) {
	tx := e.begin(ctx, "cancel_intent")
	defer func() { tx.end(err) }()

	f := e.fills.get(id)
	if f == nil || f.Maker != caller {
		return ErrUnauthorized.With(fmt.Errorf("%s is not the maker of intent %s", caller.Hex(), id.Hex()))
	}
	if st := f.statusAt(tx.unix()); st.Terminal() {
		return terminalError(st)
	}
	e.fills.mark(f, StatusCancelled, tx.now)

	tx.emit(events.TypeIntentCancelled, IntentCancelled{IntentID: id, Maker: caller})
	logger.Record(ctx, "intent cancelled",
		slog.String("intent_id", id.Hex()),
		slog.String("maker", caller.Hex()))
	return nil
}

// CancelAllIntents bumps the caller's nonce so every intent signed with the
// previous value becomes unfillable. It returns the new nonce.
func (e *Engine) CancelAllIntents(ctx context.Context, caller common.Address) (nonce uint64, err error) {
	tx := e.begin(ctx, "cancel_all_intents")
	defer func() { tx.end(err) }()

	nonce = e.nonces.advance(caller)
	tx.emit(events.TypeIntentsInvalidated, IntentsInvalidated{Maker: caller, NewNonce: nonce})
	logger.Record(ctx, "intents invalidated",
		slog.String("maker", caller.Hex()),
		slog.Uint64("new_nonce", nonce))
	return nonce, nil
}
