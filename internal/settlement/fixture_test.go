package settlement

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"intent-settlement/internal/events"
	"intent-settlement/internal/intent"
)

var errInsufficientBalance = errors.New("insufficient balance")

type balanceKey struct {
	asset common.Address
	owner common.Address
}

// book is a transferer with failure injection.
type book struct {
	mu       sync.Mutex
	balances map[balanceKey]*big.Int
	fail     func(asset, from, to common.Address) error
}

func newBook() *book {
	return &book{balances: make(map[balanceKey]*big.Int)}
}

func (b *book) Transfer(_ context.Context, asset, from, to common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		if err := b.fail(asset, from, to); err != nil {
			return err
		}
	}
	src := b.get(asset, from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s", errInsufficientBalance, from.Hex(), src, asset.Hex())
	}
	src.Sub(src, amount)
	dst := b.get(asset, to)
	dst.Add(dst, amount)
	return nil
}

func (b *book) get(asset, owner common.Address) *big.Int {
	k := balanceKey{asset, owner}
	if b.balances[k] == nil {
		b.balances[k] = new(big.Int)
	}
	return b.balances[k]
}

func (b *book) mint(asset, owner common.Address, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.get(asset, owner).Add(b.get(asset, owner), big.NewInt(amount))
}

func (b *book) balance(asset, owner common.Address) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(asset, owner).Int64()
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) last(t *testing.T, typ events.Type, into any) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			require.NoError(t, r.events[i].Decode(into))
			return
		}
	}
	t.Fatalf("no %s event published", typ)
}

var (
	ownerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	feeAddr      = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	escrowAddr   = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	stakeAsset   = common.HexToAddress("0x0000000000000000000000000000000000005a4e")
	tokenIn      = common.HexToAddress("0x0000000000000000000000000000000000000aaa")
	tokenOut     = common.HexToAddress("0x0000000000000000000000000000000000000bbb")
	testMinStake = int64(1_000)
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	engine *Engine
	book   *book
	pub    *recorder
	codec  *intent.Codec

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T, mutate ...func(*Params)) *fixture {
	t.Helper()
	params := DefaultParams()
	params.Owner = ownerAddr
	params.FeeRecipient = feeAddr
	params.Escrow = escrowAddr
	params.StakeAsset = stakeAsset
	params.MinSolverStake = big.NewInt(testMinStake)
	for _, m := range mutate {
		m(&params)
	}

	f := &fixture{
		t:    t,
		ctx:  context.Background(),
		book: newBook(),
		pub:  &recorder{},
		now:  time.Unix(1_700_000_000, 0),
		codec: intent.NewCodec(intent.Domain{
			Name:              "IntentSettlement",
			Version:           "1",
			ChainID:           big.NewInt(1),
			VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000000c0"),
		}),
	}
	engine, err := New(f.codec, f.book, params,
		WithClock(f.clock),
		WithPublisher(f.pub),
	)
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) unix() uint64 {
	return uint64(f.clock().Unix())
}

type maker struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func (f *fixture) newMaker() maker {
	f.t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(f.t, err)
	m := maker{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
	f.book.mint(tokenIn, m.addr, 1_000_000)
	return m
}

func (f *fixture) newSolver() common.Address {
	f.t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(f.t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	f.book.mint(stakeAsset, addr, 10*testMinStake)
	f.book.mint(tokenOut, addr, 100_000_000)
	_, err = f.engine.RegisterSolver(f.ctx, addr, big.NewInt(testMinStake))
	require.NoError(f.t, err)
	return addr
}

// sign builds a LIMIT intent for m with the maker's current nonce, applies
// mutate and signs it.
func (f *fixture) sign(m maker, mutate func(*intent.Intent)) (intent.Intent, []byte) {
	f.t.Helper()
	in := intent.Intent{
		Maker:          m.addr,
		TokenIn:        tokenIn,
		TokenOut:       tokenOut,
		AmountIn:       big.NewInt(10_000),
		MinAmountOut:   big.NewInt(1_000_000),
		StartAmountOut: big.NewInt(0),
		Deadline:       f.unix() + 3600,
		Nonce:          f.engine.Nonce(m.addr),
		Type:           intent.TypeLimit,
	}
	if mutate != nil {
		mutate(&in)
	}
	signed, sig, err := intent.SignIntent(f.codec, in, m.key)
	require.NoError(f.t, err)
	return signed, sig
}
