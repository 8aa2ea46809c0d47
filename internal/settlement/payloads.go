package settlement

import (
	"github.com/ethereum/go-ethereum/common"
)

// Event payloads. Amounts are decimal strings so that consumers in any
// language read them without precision loss.

type IntentSubmitted struct {
	IntentID common.Hash    `json:"intent_id"`
	Maker    common.Address `json:"maker"`
	Type     string         `json:"intent_type"`
	Nonce    uint64         `json:"nonce"`
	Deadline uint64         `json:"deadline"`
}

type IntentFilled struct {
	IntentID  common.Hash    `json:"intent_id"`
	Maker     common.Address `json:"maker"`
	Solver    common.Address `json:"solver"`
	TokenIn   common.Address `json:"token_in"`
	TokenOut  common.Address `json:"token_out"`
	AmountIn  string         `json:"amount_in"`
	AmountOut string         `json:"amount_out"`
	Fee       string         `json:"fee"`
	BatchID   *common.Hash   `json:"batch_id,omitempty"`
}

type IntentCancelled struct {
	IntentID common.Hash    `json:"intent_id"`
	Maker    common.Address `json:"maker"`
}

type IntentsInvalidated struct {
	Maker    common.Address `json:"maker"`
	NewNonce uint64         `json:"new_nonce"`
}

type BatchCommittedEvent struct {
	BatchID    common.Hash    `json:"batch_id"`
	Solver     common.Address `json:"solver"`
	CommitHash common.Hash    `json:"commit_hash"`
}

type BatchSettledEvent struct {
	BatchID      common.Hash    `json:"batch_id"`
	Solver       common.Address `json:"solver"`
	SettledCount int            `json:"settled_count"`
	SkippedCount int            `json:"skipped_count"`
	NextBatchID  common.Hash    `json:"next_batch_id"`
}

type BatchCancelledEvent struct {
	BatchID     common.Hash    `json:"batch_id"`
	Solver      common.Address `json:"solver"`
	CancelledBy common.Address `json:"cancelled_by"`
	NextBatchID common.Hash    `json:"next_batch_id"`
}

type SolverRegistered struct {
	Solver  common.Address `json:"solver"`
	Deposit string         `json:"deposit"`
	Stake   string         `json:"stake"`
}

type SolverSlashed struct {
	Solver     common.Address `json:"solver"`
	Amount     string         `json:"amount"`
	Reason     string         `json:"reason"`
	Stake      string         `json:"stake"`
	Reputation uint64         `json:"reputation"`
}

type StakeWithdrawn struct {
	Solver common.Address `json:"solver"`
	Amount string         `json:"amount"`
	Stake  string         `json:"stake"`
}

type SolverWhitelisted struct {
	Solver      common.Address `json:"solver"`
	Whitelisted bool           `json:"whitelisted"`
}

type ParamsUpdated struct {
	Field string `json:"field"`
	Value string `json:"value"`
}
