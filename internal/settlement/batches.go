package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/events"
	"intent-settlement/internal/intent"
	"intent-settlement/pkg/logger"
)

// BatchReveal is what the committing solver reveals at settlement.
type BatchReveal struct {
	Intents    []intent.Intent
	Signatures [][]byte
	AmountsOut []*big.Int
	Salt       common.Hash
}

// Skip records why one intent in a batch was passed over.
type Skip struct {
	Index    int          `json:"index"`
	IntentID common.Hash  `json:"intent_id"`
	Code     xerrors.Code `json:"code"`
	Reason   string       `json:"reason"`
}

// BatchResult summarises a settled batch.
type BatchResult struct {
	BatchID     common.Hash   `json:"batch_id"`
	Settled     []common.Hash `json:"settled"`
	Skipped     []Skip        `json:"skipped"`
	NextBatchID common.Hash   `json:"next_batch_id"`
}

// CommitBatch binds the current batch to solver and a commitment hash. The
// batch must be pending and at least BatchInterval old.
func (e *Engine) CommitBatch(ctx context.Context, solver common.Address, commitHash common.Hash) (batch Batch, err error) {
	tx := e.begin(ctx, "commit_batch")
	defer func() { tx.end(err) }()

	if err := e.solvers.validate(solver, e.params.MinSolverStake, e.params.Permissioned); err != nil {
		return batch, err
	}
	b := e.batches.current
	if b.Status != BatchPending {
		return batch, ErrInvalidBatch.With(fmt.Errorf("batch %s is %s", b.ID.Hex(), b.Status))
	}
	if readyAt := b.OpenedAt.Add(e.params.BatchInterval); tx.now.Before(readyAt) {
		return batch, ErrBatchNotReady.With(fmt.Errorf("batch %s opens for commits at %s", b.ID.Hex(), readyAt.UTC()))
	}
	if commitHash == (common.Hash{}) {
		return batch, ErrInvalidBatch.With(fmt.Errorf("commit hash is empty"))
	}
	if err := e.batches.transition(BatchCommitted); err != nil {
		return batch, err
	}
	b.CommitHash = commitHash
	b.Solver = solver
	b.CommittedAt = tx.now

	tx.emit(events.TypeBatchCommitted, BatchCommittedEvent{BatchID: b.ID, Solver: solver, CommitHash: commitHash})
	logger.Record(ctx, "batch committed",
		slog.String("batch_id", b.ID.Hex()),
		slog.String("solver", solver.Hex()),
		slog.String("commit_hash", commitHash.Hex()))
	return *b, nil
}

// SettleBatch reveals the committed batch. Each intent is settled or skipped
// on its own; a skipped intent leaves no trace beyond its recorded reason.
func (e *Engine) SettleBatch(ctx context.Context, solver common.Address, reveal BatchReveal) (res BatchResult, err error) {
	tx := e.begin(ctx, "settle_batch")
	defer func() { tx.end(err) }()

	n := len(reveal.Intents)
	if len(reveal.Signatures) != n || len(reveal.AmountsOut) != n {
		return res, ErrInvalidBatch.With(fmt.Errorf("reveal has %d intents, %d signatures and %d amounts",
			n, len(reveal.Signatures), len(reveal.AmountsOut)))
	}
	b := e.batches.current
	if b.Status != BatchCommitted {
		return res, ErrInvalidBatch.With(fmt.Errorf("batch %s is %s", b.ID.Hex(), b.Status))
	}
	if solver != b.Solver {
		return res, ErrUnauthorized.With(fmt.Errorf("batch %s was committed by %s", b.ID.Hex(), b.Solver.Hex()))
	}
	if err := e.solvers.validate(solver, e.params.MinSolverStake, e.params.Permissioned); err != nil {
		return res, err
	}
	for i, amount := range reveal.AmountsOut {
		if amount == nil || amount.Sign() < 0 {
			return res, ErrInvalidBatch.With(fmt.Errorf("amount %d is not a non-negative integer", i))
		}
	}
	if got := Commitment(n, reveal.AmountsOut, reveal.Salt); got != b.CommitHash {
		return res, ErrInvalidBatch.With(fmt.Errorf("reveal hashes to %s, committed %s", got.Hex(), b.CommitHash.Hex()))
	}
	salt, err := e.batches.draw()
	if err != nil {
		return res, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "rotate batch")
	}

	res.BatchID = b.ID
	res.Settled = []common.Hash{}
	res.Skipped = []Skip{}
	volume := new(big.Int)
	batchID := b.ID
	for i, in := range reveal.Intents {
		if err := e.settleOne(tx, solver, &batchID, in, reveal.Signatures[i], reveal.AmountsOut[i]); err != nil {
			code := xerrors.CodeOf(err)
			res.Skipped = append(res.Skipped, Skip{Index: i, IntentID: in.ID, Code: code, Reason: err.Error()})
			e.observer.Skipped(code)
			e.logger.Info("batch intent skipped",
				slog.String("batch_id", b.ID.Hex()),
				slog.Int("index", i),
				slog.String("intent_id", in.ID.Hex()),
				slog.String("code", string(code)))
			continue
		}
		res.Settled = append(res.Settled, in.ID)
		volume.Add(volume, in.AmountIn)
	}

	if len(res.Settled) > 0 {
		e.solvers.recordSuccess(solver, uint64(len(res.Settled)), volume)
	} else {
		e.solvers.recordFailure(solver)
	}
	b.SettledCount = len(res.Settled)
	if err := e.batches.transition(BatchSettled); err != nil {
		return res, err
	}
	closed := e.batches.close(tx.now, salt)
	res.NextBatchID = e.batches.current.ID

	tx.emit(events.TypeBatchSettled, BatchSettledEvent{
		BatchID:      closed.ID,
		Solver:       solver,
		SettledCount: closed.SettledCount,
		SkippedCount: len(res.Skipped),
		NextBatchID:  res.NextBatchID,
	})
	logger.Record(ctx, "batch settled",
		slog.String("batch_id", closed.ID.Hex()),
		slog.String("solver", solver.Hex()),
		slog.Int("settled", closed.SettledCount),
		slog.Int("skipped", len(res.Skipped)))
	return res, nil
}

// settleOne settles a single batch entry. A returned error means the entry
// was skipped and no state changed, except that a tracked intent found past
// its deadline is marked EXPIRED.
func (e *Engine) settleOne(tx *txn, solver common.Address, batchID *common.Hash, in intent.Intent, sig []byte, amountOut *big.Int) error {
	if err := ValidateAuction(in); err != nil {
		return err
	}
	if _, err := e.checkIntent(tx, in, sig, amountOut); err != nil {
		if xerrors.HasCode(err, CodeIntentExpired) {
			if f := e.fills.get(in.ID); f != nil && f.Maker == in.Maker && !f.Status.Terminal() {
				e.fills.mark(f, StatusExpired, tx.now)
			}
		}
		return err
	}
	fee, makerReceives := SplitFee(amountOut, e.params.ProtocolFeeBps)
	if err := e.executeLegs(tx.ctx, e.fillLegs(in, solver, makerReceives, fee)); err != nil {
		return err
	}
	e.commitFill(tx, in, solver, amountOut, fee, batchID)
	return nil
}

// CancelBatch abandons a committed batch. The owner and the committing solver
// may cancel at any time; anyone else only after RevealTimeout. The
// committing solver loses reputation either way.
func (e *Engine) CancelBatch(ctx context.Context, caller common.Address) (batch Batch, err error) {
	tx := e.begin(ctx, "cancel_batch")
	defer func() { tx.end(err) }()

	b := e.batches.current
	if b.Status != BatchCommitted {
		return batch, ErrInvalidBatch.With(fmt.Errorf("batch %s is %s", b.ID.Hex(), b.Status))
	}
	privileged := caller == e.params.Owner || caller == b.Solver
	if deadline := b.CommittedAt.Add(e.params.RevealTimeout); !privileged && tx.now.Before(deadline) {
		return batch, ErrBatchNotReady.With(fmt.Errorf("reveal window for batch %s open until %s", b.ID.Hex(), deadline.UTC()))
	}
	salt, err := e.batches.draw()
	if err != nil {
		return batch, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "rotate batch")
	}
	if s := e.solvers.get(b.Solver); s != nil {
		s.penalize(slashPenalty)
	}
	if err := e.batches.transition(BatchCancelled); err != nil {
		return batch, err
	}
	closed := e.batches.close(tx.now, salt)

	tx.emit(events.TypeBatchCancelled, BatchCancelledEvent{
		BatchID:     closed.ID,
		Solver:      closed.Solver,
		CancelledBy: caller,
		NextBatchID: e.batches.current.ID,
	})
	logger.Record(ctx, "batch cancelled",
		slog.String("batch_id", closed.ID.Hex()),
		slog.String("solver", closed.Solver.Hex()),
		slog.String("cancelled_by", caller.Hex()))
	return closed, nil
}
