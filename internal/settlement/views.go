package settlement

import (
	"github.com/ethereum/go-ethereum/common"

	"intent-settlement/internal/intent"
)

// Params returns a copy of the protocol parameters.
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params.clone()
}

// Nonce returns the next nonce expected from maker.
func (e *Engine) Nonce(maker common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonces.current(maker)
}

func (e *Engine) Solver(addr common.Address) (Solver, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.solvers.get(addr)
	if s == nil {
		return Solver{}, false
	}
	return s.view(e.params.MinSolverStake), true
}

// IntentStatus returns the ledger record of id. A pending record past its
// deadline reads as EXPIRED.
func (e *Engine) IntentStatus(id common.Hash) (Fill, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := e.fills.get(id)
	if f == nil {
		return Fill{}, false
	}
	out := f.clone()
	now := e.clock().Unix()
	if now > 0 {
		out.Status = f.statusAt(uint64(now))
	}
	return out, true
}

func (e *Engine) CurrentBatch() Batch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.batches.current
}

// Batch looks up the current batch or one of the recently closed ones.
func (e *Engine) Batch(id common.Hash) (Batch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batches.lookup(id)
}

// Codec returns the codec makers must sign with.
func (e *Engine) Codec() *intent.Codec {
	return e.codec
}
