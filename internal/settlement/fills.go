package settlement

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FillStatus is the lifecycle state of an intent in the fill ledger.
type FillStatus string

const (
	StatusPending   FillStatus = "PENDING"
	StatusFilled    FillStatus = "FILLED"
	StatusCancelled FillStatus = "CANCELLED"
	StatusExpired   FillStatus = "EXPIRED"
)

// Terminal reports whether the status can no longer change.
func (s FillStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusExpired
}

// Fill is the ledger record of one intent.
type Fill struct {
	IntentID  common.Hash    `json:"intent_id"`
	Maker     common.Address `json:"maker"`
	Solver    common.Address `json:"solver"`
	Status    FillStatus     `json:"status"`
	AmountOut *big.Int       `json:"amount_out,omitempty"`
	Fee       *big.Int       `json:"fee,omitempty"`
	Deadline  uint64         `json:"deadline"`
	BatchID   common.Hash    `json:"batch_id"`
	FilledAt  time.Time      `json:"filled_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (f *Fill) clone() Fill {
	out := *f
	if f.AmountOut != nil {
		out.AmountOut = new(big.Int).Set(f.AmountOut)
	}
	if f.Fee != nil {
		out.Fee = new(big.Int).Set(f.Fee)
	}
	return out
}

// statusAt reports EXPIRED for a pending record whose deadline has passed.
func (f *Fill) statusAt(now uint64) FillStatus {
	if f.Status == StatusPending && now > f.Deadline {
		return StatusExpired
	}
	return f.Status
}

// terminalError maps a terminal status to the error a fill attempt returns.
func terminalError(s FillStatus) error {
	switch s {
	case StatusFilled:
		return ErrIntentAlreadyFilled
	case StatusCancelled:
		return ErrIntentCancelled
	case StatusExpired:
		return ErrIntentExpired
	}
	return nil
}

type fillLedger struct {
	entries map[common.Hash]*Fill
}

func newFillLedger() fillLedger {
	return fillLedger{entries: make(map[common.Hash]*Fill)}
}

func (l *fillLedger) get(id common.Hash) *Fill {
	return l.entries[id]
}

// track records the maker of an authenticated intent. Existing records are
// left alone.
func (l *fillLedger) track(id common.Hash, maker common.Address, deadline uint64, now time.Time) *Fill {
	if f := l.entries[id]; f != nil {
		return f
	}
	f := &Fill{IntentID: id, Maker: maker, Status: StatusPending, Deadline: deadline, UpdatedAt: now}
	l.entries[id] = f
	return f
}

func (l *fillLedger) markFilled(f *Fill, solver common.Address, amountOut, fee *big.Int, batch common.Hash, now time.Time) {
	f.Status = StatusFilled
	f.Solver = solver
	f.AmountOut = new(big.Int).Set(amountOut)
	f.Fee = new(big.Int).Set(fee)
	f.BatchID = batch
	f.FilledAt = now
	f.UpdatedAt = now
}

func (l *fillLedger) mark(f *Fill, status FillStatus, now time.Time) {
	f.Status = status
	f.UpdatedAt = now
}
