package settlement

import (
	"bytes"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/events"
	"intent-settlement/internal/intent"
)

func TestBatchStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to BatchStatus
		ok       bool
	}{
		{BatchPending, BatchCommitted, true},
		{BatchPending, BatchSettled, false},
		{BatchPending, BatchCancelled, false},
		{BatchCommitted, BatchSettled, true},
		{BatchCommitted, BatchCancelled, true},
		{BatchCommitted, BatchPending, false},
		{BatchSettled, BatchCommitted, false},
		{BatchCancelled, BatchPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCommitmentBindsEveryInput(t *testing.T) {
	salt := common.HexToHash("0x01")
	amounts := []*big.Int{big.NewInt(10), big.NewInt(20)}
	base := Commitment(2, amounts, salt)

	assert.Equal(t, base, Commitment(2, []*big.Int{big.NewInt(10), big.NewInt(20)}, salt))
	assert.NotEqual(t, base, Commitment(3, amounts, salt))
	assert.NotEqual(t, base, Commitment(2, []*big.Int{big.NewInt(20), big.NewInt(10)}, salt))
	assert.NotEqual(t, base, Commitment(2, amounts, common.HexToHash("0x02")))
}

// batchFill is one prepared batch entry.
type batchFill struct {
	in     intent.Intent
	sig    []byte
	amount *big.Int
}

func reveal(entries []batchFill, salt common.Hash) BatchReveal {
	r := BatchReveal{Salt: salt}
	for _, e := range entries {
		r.Intents = append(r.Intents, e.in)
		r.Signatures = append(r.Signatures, e.sig)
		r.AmountsOut = append(r.AmountsOut, e.amount)
	}
	return r
}

func (f *fixture) commit(solver common.Address, r BatchReveal) Batch {
	f.t.Helper()
	f.advance(f.engine.Params().BatchInterval)
	b, err := f.engine.CommitBatch(f.ctx, solver, Commitment(len(r.Intents), r.AmountsOut, r.Salt))
	require.NoError(f.t, err)
	return b
}

func TestSettleBatchSkipsExpiredIntent(t *testing.T) {
	f := newFixture(t)
	solver := f.newSolver()
	salt := common.HexToHash("0x5a17")

	var entries []batchFill
	for i := 0; i < 5; i++ {
		m := f.newMaker()
		in, sig := f.sign(m, func(in *intent.Intent) {
			in.Type = intent.TypeBatch
			if i == 2 {
				in.Deadline = f.unix() + 5
			}
		})
		_, err := f.engine.SubmitIntent(f.ctx, in, sig)
		require.NoError(t, err)
		entries = append(entries, batchFill{in: in, sig: sig, amount: big.NewInt(1_000_000)})
	}

	r := reveal(entries, salt)
	committed := f.commit(solver, r)
	assert.Equal(t, BatchCommitted, committed.Status)
	assert.Equal(t, solver, committed.Solver)

	res, err := f.engine.SettleBatch(f.ctx, solver, r)
	require.NoError(t, err)
	assert.Len(t, res.Settled, 4)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 2, res.Skipped[0].Index)
	assert.Equal(t, CodeIntentExpired, res.Skipped[0].Code)
	assert.Equal(t, committed.ID, res.BatchID)
	assert.NotEqual(t, committed.ID, res.NextBatchID)

	expired, _ := f.engine.IntentStatus(entries[2].in.ID)
	assert.Equal(t, StatusExpired, expired.Status)
	filled, _ := f.engine.IntentStatus(entries[0].in.ID)
	assert.Equal(t, StatusFilled, filled.Status)
	assert.Equal(t, committed.ID, filled.BatchID)

	s, _ := f.engine.Solver(solver)
	assert.Equal(t, uint64(4), s.TotalFills)
	assert.Equal(t, uint64(InitialReputation+1), s.Reputation)
	assert.Equal(t, int64(40_000), s.TotalVolume.Int64())

	settled, ok := f.engine.Batch(committed.ID)
	require.True(t, ok)
	assert.Equal(t, BatchSettled, settled.Status)
	assert.Equal(t, 4, settled.SettledCount)

	current := f.engine.CurrentBatch()
	assert.Equal(t, res.NextBatchID, current.ID)
	assert.Equal(t, BatchPending, current.Status)

	var ev BatchSettledEvent
	f.pub.last(t, events.TypeBatchSettled, &ev)
	assert.Equal(t, 4, ev.SettledCount)
	assert.Equal(t, 1, ev.SkippedCount)
}

func TestSettleBatchSameMakerTwice(t *testing.T) {
	f := newFixture(t)
	solver := f.newSolver()
	m := f.newMaker()

	first, sig0 := f.sign(m, func(in *intent.Intent) { in.Type = intent.TypeBatch })
	second, sig1 := f.sign(m, func(in *intent.Intent) {
		in.Type = intent.TypeBatch
		in.Nonce = 1
	})
	r := reveal([]batchFill{
		{in: first, sig: sig0, amount: big.NewInt(1_000_000)},
		{in: second, sig: sig1, amount: big.NewInt(1_000_000)},
	}, common.HexToHash("0x77"))
	f.commit(solver, r)

	res, err := f.engine.SettleBatch(f.ctx, solver, r)
	require.NoError(t, err)
	assert.Len(t, res.Settled, 2)
	assert.Equal(t, uint64(2), f.engine.Nonce(m.addr))
}

func TestSettleBatchAllSkippedPenalisesSolver(t *testing.T) {
	f := newFixture(t)
	solver := f.newSolver()
	m := f.newMaker()
	in, sig := f.sign(m, nil)

	r := reveal([]batchFill{{in: in, sig: sig, amount: big.NewInt(1)}}, common.HexToHash("0x99"))
	f.commit(solver, r)

	res, err := f.engine.SettleBatch(f.ctx, solver, r)
	require.NoError(t, err)
	assert.Empty(t, res.Settled)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, CodeInsufficientOutput, res.Skipped[0].Code)

	s, _ := f.engine.Solver(solver)
	assert.Equal(t, uint64(InitialReputation-5), s.Reputation)
	assert.Equal(t, uint64(1), s.FailedFills)
	assert.Equal(t, uint64(0), f.engine.Nonce(m.addr))
}

func TestCommitBatchRules(t *testing.T) {
	f := newFixture(t)
	solver := f.newSolver()
	hash := Commitment(0, nil, common.HexToHash("0x01"))

	_, err := f.engine.CommitBatch(f.ctx, solver, hash)
	assert.ErrorIs(t, err, ErrBatchNotReady)
	assert.True(t, xerrors.RetryableError(err))

	f.advance(f.engine.Params().BatchInterval)
	_, err = f.engine.CommitBatch(f.ctx, solver, common.Hash{})
	assert.ErrorIs(t, err, ErrInvalidBatch)

	stranger := common.HexToAddress("0x0000000000000000000000000000000000000777")
	_, err = f.engine.CommitBatch(f.ctx, stranger, hash)
	assert.ErrorIs(t, err, ErrInsufficientStake)

	_, err = f.engine.CommitBatch(f.ctx, solver, hash)
	require.NoError(t, err)

	other := f.newSolver()
	_, err = f.engine.CommitBatch(f.ctx, other, hash)
	assert.ErrorIs(t, err, ErrInvalidBatch)

	_, err = f.engine.WithdrawStake(f.ctx, solver, big.NewInt(1))
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

func TestSettleBatchRejectsBadReveal(t *testing.T) {
	f := newFixture(t)
	solver := f.newSolver()
	m := f.newMaker()
	in, sig := f.sign(m, nil)
	r := reveal([]batchFill{{in: in, sig: sig, amount: big.NewInt(1_000_000)}}, common.HexToHash("0x42"))

	_, err := f.engine.SettleBatch(f.ctx, solver, r)
	assert.ErrorIs(t, err, ErrInvalidBatch, "nothing committed yet")

	committed := f.commit(solver, r)

	other := f.newSolver()
	_, err = f.engine.SettleBatch(f.ctx, other, r)
	assert.ErrorIs(t, err, ErrUnauthorized)

	short := r
	short.AmountsOut = nil
	_, err = f.engine.SettleBatch(f.ctx, solver, short)
	assert.ErrorIs(t, err, ErrInvalidBatch)

	wrongSalt := r
	wrongSalt.Salt = common.HexToHash("0x43")
	_, err = f.engine.SettleBatch(f.ctx, solver, wrongSalt)
	assert.ErrorIs(t, err, ErrInvalidBatch)

	negative := r
	negative.AmountsOut = []*big.Int{big.NewInt(-1)}
	_, err = f.engine.SettleBatch(f.ctx, solver, negative)
	assert.ErrorIs(t, err, ErrInvalidBatch)

	current := f.engine.CurrentBatch()
	assert.Equal(t, committed.ID, current.ID)
	assert.Equal(t, BatchCommitted, current.Status)
	assert.Equal(t, uint64(0), f.engine.Nonce(m.addr))

	_, err = f.engine.SettleBatch(f.ctx, solver, r)
	require.NoError(t, err)
}

func TestCancelBatch(t *testing.T) {
	f := newFixture(t)
	solver := f.newSolver()
	hash := Commitment(0, nil, common.HexToHash("0x01"))

	_, err := f.engine.CancelBatch(f.ctx, ownerAddr)
	assert.ErrorIs(t, err, ErrInvalidBatch)

	f.advance(f.engine.Params().BatchInterval)
	committed, err := f.engine.CommitBatch(f.ctx, solver, hash)
	require.NoError(t, err)

	bystander := common.HexToAddress("0x0000000000000000000000000000000000000b1e")
	_, err = f.engine.CancelBatch(f.ctx, bystander)
	assert.ErrorIs(t, err, ErrBatchNotReady)

	f.advance(f.engine.Params().RevealTimeout)
	cancelled, err := f.engine.CancelBatch(f.ctx, bystander)
	require.NoError(t, err)
	assert.Equal(t, committed.ID, cancelled.ID)
	assert.Equal(t, BatchCancelled, cancelled.Status)

	s, _ := f.engine.Solver(solver)
	assert.Equal(t, uint64(InitialReputation-10), s.Reputation)

	var ev BatchCancelledEvent
	f.pub.last(t, events.TypeBatchCancelled, &ev)
	assert.Equal(t, bystander, ev.CancelledBy)
	assert.Equal(t, f.engine.CurrentBatch().ID, ev.NextBatchID)
}

func TestCommitterMayCancelImmediately(t *testing.T) {
	f := newFixture(t)
	solver := f.newSolver()
	f.advance(f.engine.Params().BatchInterval)
	_, err := f.engine.CommitBatch(f.ctx, solver, common.HexToHash("0xabc"))
	require.NoError(t, err)

	_, err = f.engine.CancelBatch(f.ctx, solver)
	require.NoError(t, err)
	assert.Equal(t, BatchPending, f.engine.CurrentBatch().Status)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestBatchRotationNeedsEntropy(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.codec, f.book, f.engine.Params(), WithEntropy(failingReader{}))
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestBatchIDsAreDeterministicForEntropy(t *testing.T) {
	f := newFixture(t)
	clock := func() time.Time { return time.Unix(1_700_000_000, 0) }
	a, err := New(f.codec, f.book, f.engine.Params(), WithClock(clock), WithEntropy(bytes.NewReader(make([]byte, 64))))
	require.NoError(t, err)
	b, err := New(f.codec, f.book, f.engine.Params(), WithClock(clock), WithEntropy(bytes.NewReader(make([]byte, 64))))
	require.NoError(t, err)
	assert.Equal(t, a.CurrentBatch().ID, b.CurrentBatch().ID)
	assert.Equal(t, uint64(1), a.CurrentBatch().Sequence)
}
