package settlement

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// MaxProtocolFeeBps caps the protocol fee at 1%.
	MaxProtocolFeeBps = 100
	// BpsDenominator is the basis point scale.
	BpsDenominator = 10_000
)

// Params are the owner-controlled protocol settings.
type Params struct {
	Owner            common.Address `json:"owner"`
	FeeRecipient     common.Address `json:"fee_recipient"`
	Escrow           common.Address `json:"escrow"`
	StakeAsset       common.Address `json:"stake_asset"`
	ProtocolFeeBps   uint64         `json:"protocol_fee_bps"`
	MinSolverStake   *big.Int       `json:"min_solver_stake"`
	BatchInterval    time.Duration  `json:"batch_interval"`
	RevealTimeout    time.Duration  `json:"reveal_timeout"`
	DutchDecayPeriod time.Duration  `json:"dutch_decay_period"`
	Permissioned     bool           `json:"permissioned"`
}

// DefaultParams returns conservative defaults. Owner, fee recipient, escrow and
// stake asset have no default.
func DefaultParams() Params {
	return Params{
		ProtocolFeeBps:   5,
		MinSolverStake:   new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		BatchInterval:    12 * time.Second,
		RevealTimeout:    2 * time.Minute,
		DutchDecayPeriod: 10 * time.Minute,
	}
}

// Validate checks that the parameters can run an engine.
func (p Params) Validate() error {
	switch {
	case p.Owner == (common.Address{}):
		return ErrInvalidParameter.With(fmt.Errorf("owner is required"))
	case p.FeeRecipient == (common.Address{}):
		return ErrInvalidParameter.With(fmt.Errorf("fee recipient is required"))
	case p.Escrow == (common.Address{}):
		return ErrInvalidParameter.With(fmt.Errorf("escrow account is required"))
	case p.ProtocolFeeBps > MaxProtocolFeeBps:
		return ErrInvalidParameter.With(fmt.Errorf("protocol fee %d bps exceeds %d", p.ProtocolFeeBps, MaxProtocolFeeBps))
	case p.MinSolverStake == nil || p.MinSolverStake.Sign() < 0:
		return ErrInvalidParameter.With(fmt.Errorf("min solver stake must be non-negative"))
	case p.DutchDecayPeriod < time.Second:
		return ErrInvalidParameter.With(fmt.Errorf("dutch decay period must be at least one second"))
	case p.BatchInterval < 0 || p.RevealTimeout < 0:
		return ErrInvalidParameter.With(fmt.Errorf("durations must be non-negative"))
	}
	return nil
}

func (p Params) clone() Params {
	out := p
	if p.MinSolverStake != nil {
		out.MinSolverStake = new(big.Int).Set(p.MinSolverStake)
	}
	return out
}

func seconds(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Second)
}
