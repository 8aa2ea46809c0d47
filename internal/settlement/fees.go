package settlement

import "math/big"

// SplitFee returns the protocol fee amountOut*bps/10000 (floored) and the
// remainder owed to the maker.
func SplitFee(amountOut *big.Int, bps uint64) (fee, makerReceives *big.Int) {
	fee = new(big.Int).Mul(amountOut, new(big.Int).SetUint64(bps))
	fee.Quo(fee, big.NewInt(BpsDenominator))
	return fee, new(big.Int).Sub(amountOut, fee)
}
