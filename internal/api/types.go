package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"intent-settlement/internal/intent"
)

// SubmitIntentRequest announces a signed intent.
type SubmitIntentRequest struct {
	Intent    intent.Intent `json:"intent"`
	Signature hexutil.Bytes `json:"signature"`
}

// FillRequest settles one intent as the calling solver.
type FillRequest struct {
	Intent    intent.Intent `json:"intent"`
	Signature hexutil.Bytes `json:"signature"`
	AmountOut string        `json:"amount_out"`
}

// AmountRequest carries a base-unit amount for staking and withdrawal.
type AmountRequest struct {
	Amount string `json:"amount"`
}

// CommitBatchRequest binds the current batch to the caller.
type CommitBatchRequest struct {
	CommitHash common.Hash `json:"commit_hash"`
}

// SettleBatchRequest reveals the committed batch.
type SettleBatchRequest struct {
	Intents    []intent.Intent `json:"intents"`
	Signatures []hexutil.Bytes `json:"signatures"`
	AmountsOut []string        `json:"amounts_out"`
	Salt       common.Hash     `json:"salt"`
}

// SlashRequest penalises a solver.
type SlashRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

// WhitelistRequest toggles a solver's permissioned-mode access.
type WhitelistRequest struct {
	Whitelisted bool `json:"whitelisted"`
}

// ParamsUpdate changes the provided fields in order. Durations use Go syntax
// such as "12s".
type ParamsUpdate struct {
	ProtocolFeeBps   *uint64         `json:"protocol_fee_bps,omitempty"`
	MinSolverStake   *string         `json:"min_solver_stake,omitempty"`
	BatchInterval    *string         `json:"batch_interval,omitempty"`
	RevealTimeout    *string         `json:"reveal_timeout,omitempty"`
	DutchDecayPeriod *string         `json:"dutch_decay_period,omitempty"`
	Permissioned     *bool           `json:"permissioned,omitempty"`
	FeeRecipient     *common.Address `json:"fee_recipient,omitempty"`
}

// OwnerRequest hands protocol ownership to NewOwner.
type OwnerRequest struct {
	NewOwner common.Address `json:"new_owner"`
}

// DomainResponse describes the signing domain.
type DomainResponse struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	ChainID           string         `json:"chain_id"`
	VerifyingContract common.Address `json:"verifying_contract"`
	Separator         common.Hash    `json:"separator"`
}

// NonceResponse reports a maker's current nonce.
type NonceResponse struct {
	Maker common.Address `json:"maker"`
	Nonce uint64         `json:"nonce"`
}

// SubmitIntentResponse echoes the content id and signing digest.
type SubmitIntentResponse struct {
	IntentID common.Hash `json:"intent_id"`
	Digest   common.Hash `json:"digest"`
	Status   string      `json:"status"`
	Deadline uint64      `json:"deadline"`
}

// SlashResponse reports the stake actually removed.
type SlashResponse struct {
	Solver  common.Address `json:"solver"`
	Slashed string         `json:"slashed"`
}

// Balance is one asset holding.
type Balance struct {
	Symbol  string         `json:"symbol"`
	Asset   common.Address `json:"asset"`
	Amount  string         `json:"amount"`
	Display string         `json:"display"`
}

// BalancesResponse lists an owner's holdings of every registered asset.
type BalancesResponse struct {
	Owner    common.Address `json:"owner"`
	Balances []Balance      `json:"balances"`
}
