package settlement

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/events"
	"intent-settlement/internal/intent"
)

func TestNewRejectsInvalidParams(t *testing.T) {
	codec := intent.NewCodec(intent.Domain{Name: "x", Version: "1", ChainID: big.NewInt(1)})
	params := DefaultParams()
	_, err := New(codec, newBook(), params)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	params.Owner, params.FeeRecipient, params.Escrow = ownerAddr, feeAddr, escrowAddr
	params.ProtocolFeeBps = 101
	_, err = New(codec, newBook(), params)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = New(nil, newBook(), params)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestFillIntentSettlesAndTakesFee(t *testing.T) {
	f := newFixture(t)
	m := f.newMaker()
	solver := f.newSolver()
	in, sig := f.sign(m, nil)

	res, err := f.engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(1_200_000))
	require.NoError(t, err)

	// 5 bps of 1_200_000
	assert.Equal(t, int64(600), res.Fee.Int64())
	assert.Equal(t, int64(1_199_400), res.MakerReceives.Int64())
	assert.Equal(t, int64(1_199_400), f.book.balance(tokenOut, m.addr))
	assert.Equal(t, int64(600), f.book.balance(tokenOut, feeAddr))
	assert.Equal(t, int64(10_000), f.book.balance(tokenIn, solver))
	assert.Equal(t, int64(990_000), f.book.balance(tokenIn, m.addr))

	assert.Equal(t, uint64(1), f.engine.Nonce(m.addr))
	status, ok := f.engine.IntentStatus(in.ID)
	require.True(t, ok)
	assert.Equal(t, StatusFilled, status.Status)
	assert.Equal(t, solver, status.Solver)

	s, ok := f.engine.Solver(solver)
	require.True(t, ok)
	assert.Equal(t, uint64(1), s.TotalFills)
	assert.Equal(t, uint64(InitialReputation+1), s.Reputation)
	assert.Equal(t, int64(10_000), s.TotalVolume.Int64())

	var filled IntentFilled
	f.pub.last(t, events.TypeIntentFilled, &filled)
	assert.Equal(t, in.ID, filled.IntentID)
	assert.Equal(t, "600", filled.Fee)
	assert.Nil(t, filled.BatchID)
}

func TestFillIntentReplayFailsWithInvalidNonce(t *testing.T) {
	f := newFixture(t)
	m := f.newMaker()
	solver := f.newSolver()
	in, sig := f.sign(m, nil)

	_, err := f.engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(1_000_000))
	require.NoError(t, err)

	_, err = f.engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(1_000_000))
	assert.ErrorIs(t, err, ErrInvalidNonce)
	assert.Equal(t, uint64(1), f.engine.Nonce(m.addr))
}

func TestFillIntentRejectionsLeaveStateUnchanged(t *testing.T) {
	f := newFixture(t)
	m := f.newMaker()
	other := f.newMaker()
	solver := f.newSolver()

	cases := []struct {
		name   string
		build  func() (intent.Intent, []byte)
		amount int64
		want   error
	}{
		{
			name: "expired",
			build: func() (intent.Intent, []byte) {
				return f.sign(m, func(in *intent.Intent) { in.Deadline = f.unix() - 1 })
			},
			amount: 1_000_000,
			want:   ErrIntentExpired,
		},
		{
			name: "future nonce",
			build: func() (intent.Intent, []byte) {
				return f.sign(m, func(in *intent.Intent) { in.Nonce = 5 })
			},
			amount: 1_000_000,
			want:   ErrInvalidNonce,
		},
		{
			name: "signed by someone else",
			build: func() (intent.Intent, []byte) {
				in, _ := f.sign(m, nil)
				_, sig := f.sign(other, func(o *intent.Intent) { *o = in })
				return in, sig
			},
			amount: 1_000_000,
			want:   ErrInvalidSignature,
		},
		{
			name: "garbage signature",
			build: func() (intent.Intent, []byte) {
				in, _ := f.sign(m, nil)
				return in, []byte{1, 2, 3}
			},
			amount: 1_000_000,
			want:   ErrInvalidSignature,
		},
		{
			name: "below minimum",
			build: func() (intent.Intent, []byte) {
				return f.sign(m, nil)
			},
			amount: 999_999,
			want:   ErrInsufficientOutput,
		},
		{
			name: "id does not match content",
			build: func() (intent.Intent, []byte) {
				in, _ := f.sign(m, nil)
				in.ID = common.HexToHash("0x1234")
				sig, err := intent.Sign(f.codec.Hash(in), m.key)
				require.NoError(t, err)
				return in, sig
			},
			amount: 1_000_000,
			want:   ErrInvalidIntent,
		},
		{
			name: "dutch start below floor",
			build: func() (intent.Intent, []byte) {
				return f.sign(m, func(in *intent.Intent) {
					in.Type = intent.TypeDutch
					in.StartAmountOut = big.NewInt(10)
				})
			},
			amount: 1_000_000,
			want:   ErrInvalidIntent,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, sig := tc.build()
			_, err := f.engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(tc.amount))
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, uint64(0), f.engine.Nonce(m.addr))
			_, tracked := f.engine.IntentStatus(in.ID)
			assert.False(t, tracked)
			assert.Equal(t, int64(1_000_000), f.book.balance(tokenIn, m.addr))
		})
	}
}

func TestFillIntentDutchDecay(t *testing.T) {
	f := newFixture(t)
	m := f.newMaker()
	solver := f.newSolver()

	// The default decay period is 600s; 300s into the window the price is
	// halfway between start and floor.
	in, sig := f.sign(m, func(in *intent.Intent) {
		in.Type = intent.TypeDutch
		in.StartAmountOut = big.NewInt(1000)
		in.MinAmountOut = big.NewInt(800)
		in.Deadline = f.unix() + 300
	})

	_, err := f.engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(899))
	require.ErrorIs(t, err, ErrInsufficientOutput)

	res, err := f.engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(900))
	require.NoError(t, err)
	assert.Equal(t, int64(900), res.MinAmountOut.Int64())
}

func TestSolverValidationOrder(t *testing.T) {
	f := newFixture(t)
	m := f.newMaker()
	in, sig := f.sign(m, nil)
	amount := big.NewInt(1_000_000)

	stranger := common.HexToAddress("0x0000000000000000000000000000000000000777")
	_, err := f.engine.FillIntent(f.ctx, stranger, in, sig, amount)
	assert.ErrorIs(t, err, ErrInsufficientStake)

	solver := f.newSolver()
	require.NoError(t, f.engine.SetPermissioned(f.ctx, ownerAddr, true))
	_, err = f.engine.FillIntent(f.ctx, solver, in, sig, amount)
	assert.ErrorIs(t, err, ErrSolverNotWhitelisted)

	// Under-staked solvers fail on stake even when whitelisted.
	require.NoError(t, f.engine.SetWhitelist(f.ctx, ownerAddr, stranger, true))
	_, err = f.engine.FillIntent(f.ctx, stranger, in, sig, amount)
	assert.ErrorIs(t, err, ErrInsufficientStake)

	require.NoError(t, f.engine.SetWhitelist(f.ctx, ownerAddr, solver, true))
	_, err = f.engine.FillIntent(f.ctx, solver, in, sig, amount)
	require.NoError(t, err)
}

func TestInactiveSolverIsInvalid(t *testing.T) {
	f := newFixture(t)
	solver := f.newSolver()

	slashed, err := f.engine.Slash(f.ctx, ownerAddr, solver, big.NewInt(500), "late reveal")
	require.NoError(t, err)
	assert.Equal(t, int64(500), slashed.Int64())

	s, _ := f.engine.Solver(solver)
	assert.False(t, s.IsActive)

	m := f.newMaker()
	in, sig := f.sign(m, nil)
	_, err = f.engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(1_000_000))
	assert.ErrorIs(t, err, ErrInsufficientStake)

	// Activity follows the floor, not the stake at the last mutation.
	require.NoError(t, f.engine.SetMinSolverStake(f.ctx, ownerAddr, big.NewInt(100)))
	s, _ = f.engine.Solver(solver)
	assert.True(t, s.IsActive)
	_, err = f.engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(1_000_000))
	require.NoError(t, err)

	require.NoError(t, f.engine.SetMinSolverStake(f.ctx, ownerAddr, big.NewInt(testMinStake)))
	s, _ = f.engine.Solver(solver)
	assert.False(t, s.IsActive)
}

func TestReRegisterResetsReputation(t *testing.T) {
	f := newFixture(t)
	solver := f.newSolver()

	_, err := f.engine.Slash(f.ctx, ownerAddr, solver, big.NewInt(testMinStake), "missed reveal")
	require.NoError(t, err)
	s, _ := f.engine.Solver(solver)
	require.Equal(t, uint64(InitialReputation-10), s.Reputation)

	f.book.mint(stakeAsset, solver, testMinStake)
	s, err = f.engine.RegisterSolver(f.ctx, solver, big.NewInt(testMinStake))
	require.NoError(t, err)
	assert.Equal(t, uint64(InitialReputation), s.Reputation)
	assert.True(t, s.IsActive)
	assert.Equal(t, testMinStake, s.Stake.Int64())
}

func TestRegisterSolver(t *testing.T) {
	f := newFixture(t)
	addr := common.HexToAddress("0x0000000000000000000000000000000000000bad")
	f.book.mint(stakeAsset, addr, 5*testMinStake)

	_, err := f.engine.RegisterSolver(f.ctx, addr, big.NewInt(testMinStake-1))
	assert.ErrorIs(t, err, ErrInsufficientStake)

	s, err := f.engine.RegisterSolver(f.ctx, addr, big.NewInt(testMinStake))
	require.NoError(t, err)
	assert.True(t, s.IsActive)
	assert.Equal(t, uint64(InitialReputation), s.Reputation)
	assert.Equal(t, testMinStake, f.book.balance(stakeAsset, escrowAddr))

	s, err = f.engine.RegisterSolver(f.ctx, addr, big.NewInt(2*testMinStake))
	require.NoError(t, err)
	assert.Equal(t, 3*testMinStake, s.Stake.Int64())

	poor := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	_, err = f.engine.RegisterSolver(f.ctx, poor, big.NewInt(testMinStake))
	assert.ErrorIs(t, err, ErrTransferFailed)
	_, known := f.engine.Solver(poor)
	assert.False(t, known)
}

func TestSlashCapsAtStake(t *testing.T) {
	f := newFixture(t)
	solver := f.newSolver()

	_, err := f.engine.Slash(f.ctx, solver, solver, big.NewInt(1), "self")
	assert.ErrorIs(t, err, ErrUnauthorized)

	slashed, err := f.engine.Slash(f.ctx, ownerAddr, solver, big.NewInt(5*testMinStake), "fraud")
	require.NoError(t, err)
	assert.Equal(t, testMinStake, slashed.Int64())
	assert.Equal(t, testMinStake, f.book.balance(stakeAsset, feeAddr))

	s, _ := f.engine.Solver(solver)
	assert.Equal(t, int64(0), s.Stake.Int64())
	assert.Equal(t, uint64(InitialReputation-10), s.Reputation)
	assert.False(t, s.IsActive)

	var ev SolverSlashed
	f.pub.last(t, events.TypeSolverSlashed, &ev)
	assert.Equal(t, "fraud", ev.Reason)
	assert.Equal(t, "1000", ev.Amount)
}

func TestWithdrawStake(t *testing.T) {
	f := newFixture(t)
	solver := f.newSolver()
	before := f.book.balance(stakeAsset, solver)

	_, err := f.engine.WithdrawStake(f.ctx, solver, big.NewInt(testMinStake+1))
	assert.ErrorIs(t, err, ErrInsufficientStake)

	s, err := f.engine.WithdrawStake(f.ctx, solver, big.NewInt(1))
	require.NoError(t, err)
	assert.False(t, s.IsActive)
	assert.Equal(t, before+1, f.book.balance(stakeAsset, solver))
}

func TestProtocolFeeBounds(t *testing.T) {
	f := newFixture(t)

	err := f.engine.SetProtocolFee(f.ctx, ownerAddr, MaxProtocolFeeBps+1)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.Equal(t, uint64(5), f.engine.Params().ProtocolFeeBps)

	assert.ErrorIs(t, f.engine.SetProtocolFee(f.ctx, feeAddr, 10), ErrUnauthorized)

	require.NoError(t, f.engine.SetProtocolFee(f.ctx, ownerAddr, MaxProtocolFeeBps))
	assert.Equal(t, uint64(MaxProtocolFeeBps), f.engine.Params().ProtocolFeeBps)

	var ev ParamsUpdated
	f.pub.last(t, events.TypeParamsUpdated, &ev)
	assert.Equal(t, ParamsUpdated{Field: "protocol_fee_bps", Value: "100"}, ev)
}

func TestParamSetters(t *testing.T) {
	f := newFixture(t)
	newOwner := common.HexToAddress("0x00000000000000000000000000000000000000a2")

	assert.ErrorIs(t, f.engine.SetDutchDecayPeriod(f.ctx, ownerAddr, 0), ErrInvalidParameter)
	require.NoError(t, f.engine.SetDutchDecayPeriod(f.ctx, ownerAddr, time.Minute))
	require.NoError(t, f.engine.SetBatchInterval(f.ctx, ownerAddr, time.Second))
	require.NoError(t, f.engine.SetRevealTimeout(f.ctx, ownerAddr, time.Hour))
	assert.ErrorIs(t, f.engine.SetFeeRecipient(f.ctx, ownerAddr, common.Address{}), ErrInvalidParameter)
	require.NoError(t, f.engine.TransferOwnership(f.ctx, ownerAddr, newOwner))
	assert.ErrorIs(t, f.engine.SetPermissioned(f.ctx, ownerAddr, true), ErrUnauthorized)
	require.NoError(t, f.engine.SetPermissioned(f.ctx, newOwner, true))

	p := f.engine.Params()
	assert.Equal(t, time.Minute, p.DutchDecayPeriod)
	assert.Equal(t, time.Second, p.BatchInterval)
	assert.Equal(t, time.Hour, p.RevealTimeout)
	assert.Equal(t, newOwner, p.Owner)
	assert.True(t, p.Permissioned)
}

func TestTransferFailureRevertsAppliedLegs(t *testing.T) {
	f := newFixture(t)
	m := f.newMaker()
	solver := f.newSolver()
	in, sig := f.sign(m, nil)

	f.book.fail = func(_, _, to common.Address) error {
		if to == feeAddr {
			return errors.New("fee vault frozen")
		}
		return nil
	}
	_, err := f.engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(1_000_000))
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.True(t, xerrors.ShouldAlert(err))

	assert.Equal(t, int64(1_000_000), f.book.balance(tokenIn, m.addr))
	assert.Equal(t, int64(0), f.book.balance(tokenIn, solver))
	assert.Equal(t, int64(0), f.book.balance(tokenOut, m.addr))
	assert.Equal(t, int64(100_000_000), f.book.balance(tokenOut, solver))
	assert.Equal(t, uint64(0), f.engine.Nonce(m.addr))
	_, tracked := f.engine.IntentStatus(in.ID)
	assert.False(t, tracked)

	s, _ := f.engine.Solver(solver)
	assert.Equal(t, uint64(0), s.FailedFills)

	f.book.fail = nil
	_, err = f.engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(1_000_000))
	require.NoError(t, err)
}

func TestCancelIntent(t *testing.T) {
	f := newFixture(t)
	m := f.newMaker()
	solver := f.newSolver()
	in, sig := f.sign(m, nil)

	assert.ErrorIs(t, f.engine.CancelIntent(f.ctx, m.addr, in.ID), ErrUnauthorized)

	fill, err := f.engine.SubmitIntent(f.ctx, in, sig)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, fill.Status)

	assert.ErrorIs(t, f.engine.CancelIntent(f.ctx, solver, in.ID), ErrUnauthorized)
	require.NoError(t, f.engine.CancelIntent(f.ctx, m.addr, in.ID))
	assert.ErrorIs(t, f.engine.CancelIntent(f.ctx, m.addr, in.ID), ErrIntentCancelled)

	_, err = f.engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(1_000_000))
	assert.ErrorIs(t, err, ErrIntentCancelled)

	status, _ := f.engine.IntentStatus(in.ID)
	assert.Equal(t, StatusCancelled, status.Status)
	assert.Contains(t, f.pub.types(), events.TypeIntentCancelled)
}

func TestCancelFilledIntent(t *testing.T) {
	f := newFixture(t)
	m := f.newMaker()
	solver := f.newSolver()
	in, sig := f.sign(m, nil)

	_, err := f.engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.ErrorIs(t, f.engine.CancelIntent(f.ctx, m.addr, in.ID), ErrIntentAlreadyFilled)
}

func TestSubmitIntent(t *testing.T) {
	f := newFixture(t)
	m := f.newMaker()

	future, sig := f.sign(m, func(in *intent.Intent) { in.Nonce = 3 })
	_, err := f.engine.SubmitIntent(f.ctx, future, sig)
	require.NoError(t, err)
	_, err = f.engine.SubmitIntent(f.ctx, future, sig)
	require.NoError(t, err)

	submitted := 0
	for _, typ := range f.pub.types() {
		if typ == events.TypeIntentSubmitted {
			submitted++
		}
	}
	assert.Equal(t, 1, submitted)

	forged, _ := f.sign(m, func(in *intent.Intent) { in.Nonce = 4 })
	_, err = f.engine.SubmitIntent(f.ctx, forged, sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	f.advance(2 * time.Hour)
	status, ok := f.engine.IntentStatus(future.ID)
	require.True(t, ok)
	assert.Equal(t, StatusExpired, status.Status)
	assert.ErrorIs(t, f.engine.CancelIntent(f.ctx, m.addr, future.ID), ErrIntentExpired)
}

func TestCancelAllIntentsInvalidatesSignedNonce(t *testing.T) {
	f := newFixture(t)
	m := f.newMaker()
	solver := f.newSolver()
	in, sig := f.sign(m, nil)

	nonce, err := f.engine.CancelAllIntents(f.ctx, m.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	_, err = f.engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(1_000_000))
	assert.ErrorIs(t, err, ErrInvalidNonce)
}

func TestConcurrentFillsSettleOnce(t *testing.T) {
	f := newFixture(t)
	m := f.newMaker()
	in, sig := f.sign(m, nil)

	solvers := make([]common.Address, 8)
	for i := range solvers {
		solvers[i] = f.newSolver()
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for _, solver := range solvers {
		wg.Add(1)
		go func(solver common.Address) {
			defer wg.Done()
			_, err := f.engine.FillIntent(context.Background(), solver, in, sig, big.NewInt(1_000_000))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInvalidNonce)
		}(solver)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, uint64(1), f.engine.Nonce(m.addr))
	assert.Equal(t, int64(990_000), f.book.balance(tokenIn, m.addr))
}

func TestEventsCarryIncreasingSequence(t *testing.T) {
	f := newFixture(t)
	m := f.newMaker()
	solver := f.newSolver()
	in, sig := f.sign(m, nil)
	_, err := f.engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(1_000_000))
	require.NoError(t, err)
	_, err = f.engine.CancelAllIntents(f.ctx, m.addr)
	require.NoError(t, err)

	f.pub.mu.Lock()
	defer f.pub.mu.Unlock()
	require.GreaterOrEqual(t, len(f.pub.events), 3)
	for i := 1; i < len(f.pub.events); i++ {
		assert.Equal(t, f.pub.events[i-1].Sequence+1, f.pub.events[i].Sequence)
	}
}

func TestEd25519Makers(t *testing.T) {
	f := newFixture(t)
	engine, err := New(f.codec, f.book, f.engine.Params(), WithClock(f.clock), WithVerifier(intent.Ed25519Verifier{}))
	require.NoError(t, err)

	solver := crypto.PubkeyToAddress(mustKey(t).PublicKey)
	f.book.mint(stakeAsset, solver, testMinStake)
	f.book.mint(tokenOut, solver, 10_000_000)
	_, err = engine.RegisterSolver(f.ctx, solver, big.NewInt(testMinStake))
	require.NoError(t, err)

	pub, key := mustEd25519(t)
	makerAddr := intent.Ed25519Address(pub)
	f.book.mint(tokenIn, makerAddr, 10_000)

	in := intent.WithID(intent.Intent{
		Maker:          makerAddr,
		TokenIn:        tokenIn,
		TokenOut:       tokenOut,
		AmountIn:       big.NewInt(10_000),
		MinAmountOut:   big.NewInt(500),
		StartAmountOut: big.NewInt(0),
		Deadline:       f.unix() + 60,
		Type:           intent.TypeRFQ,
	})
	sig := intent.SignEd25519(f.codec.Hash(in), key)

	_, err = engine.FillIntent(f.ctx, solver, in, sig, big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), f.book.balance(tokenIn, solver))
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func mustEd25519(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, key
}
