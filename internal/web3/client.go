package web3

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/intent"
)

// ChainReader is the subset of ethclient.Client the checks need.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Snapshot is what the node reported during a domain check.
type Snapshot struct {
	ChainID      *big.Int `json:"chain_id"`
	BlockNumber  uint64   `json:"block_number"`
	ContractCode int      `json:"contract_code_size"`
}

// Client wraps a chain reader.
type Client struct {
	reader ChainReader
	close  func()
}

// Dial connects to an HTTP or websocket RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "rpc url is empty")
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "dial rpc")
	}
	return &Client{reader: eth, close: eth.Close}, nil
}

// NewClient wraps an existing reader, such as a simulated backend.
func NewClient(reader ChainReader) *Client {
	return &Client{reader: reader, close: func() {}}
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c != nil && c.close != nil {
		c.close()
	}
}

// CheckDomain verifies that the node serves the domain's chain and, when the
// domain names a verifying contract, that code is deployed there.
func (c *Client) CheckDomain(ctx context.Context, d intent.Domain) (Snapshot, error) {
	chainID, err := c.reader.ChainID(ctx)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "query chain id")
	}
	if d.ChainID == nil || chainID.Cmp(d.ChainID) != 0 {
		return Snapshot{}, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("node serves chain %s, domain expects %v", chainID, d.ChainID))
	}
	head, err := c.reader.BlockNumber(ctx)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "query block number")
	}
	snap := Snapshot{ChainID: chainID, BlockNumber: head}

	if d.VerifyingContract == (common.Address{}) {
		return snap, nil
	}
	code, err := c.reader.CodeAt(ctx, d.VerifyingContract, nil)
	if err != nil {
		return Snapshot{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "query contract code")
	}
	if len(code) == 0 {
		return Snapshot{}, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("no code at verifying contract %s", d.VerifyingContract.Hex()))
	}
	snap.ContractCode = len(code)
	return snap, nil
}
