package settlement

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	InitialReputation = 100
	MaxReputation     = 1000
	successReward     = 1
	failurePenalty    = 5
	slashPenalty      = 10
)

// Solver is the registry record of a staked filler.
type Solver struct {
	Address      common.Address `json:"address"`
	Stake        *big.Int       `json:"stake"`
	Reputation   uint64         `json:"reputation"`
	TotalFills   uint64         `json:"total_fills"`
	FailedFills  uint64         `json:"failed_fills"`
	TotalVolume  *big.Int       `json:"total_volume"`
	IsActive     bool           `json:"is_active"`
	Whitelisted  bool           `json:"whitelisted"`
	RegisteredAt time.Time      `json:"registered_at"`
}

// view copies the record and derives IsActive against the current floor.
func (s *Solver) view(minStake *big.Int) Solver {
	out := *s
	out.Stake = new(big.Int).Set(s.Stake)
	out.TotalVolume = new(big.Int).Set(s.TotalVolume)
	out.IsActive = s.active(minStake)
	return out
}

func (s *Solver) active(minStake *big.Int) bool {
	return s.Stake.Cmp(minStake) >= 0
}

type solverRegistry struct {
	solvers map[common.Address]*Solver
}

func newSolverRegistry() solverRegistry {
	return solverRegistry{solvers: make(map[common.Address]*Solver)}
}

func (r *solverRegistry) get(addr common.Address) *Solver {
	return r.solvers[addr]
}

func (r *solverRegistry) ensure(addr common.Address, now time.Time) *Solver {
	s := r.solvers[addr]
	if s == nil {
		s = &Solver{
			Address:      addr,
			Stake:        new(big.Int),
			TotalVolume:  new(big.Int),
			Reputation:   InitialReputation,
			RegisteredAt: now,
		}
		r.solvers[addr] = s
	}
	return s
}

// deposit adds stake, creating the record on first registration. Every
// registration resets reputation.
func (r *solverRegistry) deposit(addr common.Address, amount *big.Int, now time.Time) *Solver {
	s := r.ensure(addr, now)
	s.Stake.Add(s.Stake, amount)
	s.Reputation = InitialReputation
	return s
}

// validate applies the stake, whitelist and activity checks in that order.
func (r *solverRegistry) validate(addr common.Address, minStake *big.Int, permissioned bool) error {
	s := r.solvers[addr]
	stake := new(big.Int)
	if s != nil {
		stake = s.Stake
	}
	if stake.Cmp(minStake) < 0 {
		return ErrInsufficientStake.With(fmt.Errorf("solver %s stake %s below minimum %s", addr.Hex(), stake, minStake))
	}
	if permissioned && (s == nil || !s.Whitelisted) {
		return ErrSolverNotWhitelisted.With(fmt.Errorf("solver %s", addr.Hex()))
	}
	if s == nil || !s.active(minStake) {
		return ErrInvalidSolver.With(fmt.Errorf("solver %s is inactive", addr.Hex()))
	}
	return nil
}

// recordSuccess credits one successful outcome covering fills settled intents.
func (r *solverRegistry) recordSuccess(addr common.Address, fills uint64, volume *big.Int) {
	s := r.solvers[addr]
	if s == nil {
		return
	}
	s.TotalFills += fills
	if volume != nil {
		s.TotalVolume.Add(s.TotalVolume, volume)
	}
	s.Reputation = min(s.Reputation+successReward, MaxReputation)
}

func (r *solverRegistry) recordFailure(addr common.Address) {
	s := r.solvers[addr]
	if s == nil {
		return
	}
	s.FailedFills++
	s.penalize(failurePenalty)
}

func (s *Solver) penalize(points uint64) {
	if s.Reputation < points {
		s.Reputation = 0
		return
	}
	s.Reputation -= points
}

// slashAmount caps a requested slash at the current stake.
func (r *solverRegistry) slashAmount(addr common.Address, amount *big.Int) *big.Int {
	s := r.solvers[addr]
	if s == nil || amount == nil {
		return new(big.Int)
	}
	if amount.Cmp(s.Stake) > 0 {
		return new(big.Int).Set(s.Stake)
	}
	return new(big.Int).Set(amount)
}

func (r *solverRegistry) slash(addr common.Address, amount *big.Int) {
	s := r.solvers[addr]
	if s == nil {
		return
	}
	s.Stake.Sub(s.Stake, amount)
	s.penalize(slashPenalty)
}

func (r *solverRegistry) withdraw(addr common.Address, amount *big.Int) {
	if s := r.solvers[addr]; s != nil {
		s.Stake.Sub(s.Stake, amount)
	}
}
