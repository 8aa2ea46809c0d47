package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/settlement"
)

const CodeInsufficientBalance xerrors.Code = "INSUFFICIENT_BALANCE"

var ErrInsufficientBalance = xerrors.New(CodeInsufficientBalance, "insufficient balance")

func init() {
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{
		Message:  "insufficient balance",
		Severity: xerrors.SeverityWarning,
	})
}

// Book is a balance store the engine can move value through.
type Book interface {
	settlement.Transferer
	BalanceOf(ctx context.Context, asset, owner common.Address) (*big.Int, error)
	Credit(ctx context.Context, asset, owner common.Address, amount *big.Int) error
}
