package intent

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDomain() Domain {
	return Domain{
		Name:              "IntentSettlement",
		Version:           "1",
		ChainID:           big.NewInt(1),
		VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000000c0"),
	}
}

func sampleIntent() Intent {
	in := Intent{
		Maker:          common.HexToAddress("0x1111111111111111111111111111111111111111"),
		TokenIn:        common.HexToAddress("0x2222222222222222222222222222222222222222"),
		TokenOut:       common.HexToAddress("0x3333333333333333333333333333333333333333"),
		AmountIn:       big.NewInt(1_000_000),
		MinAmountOut:   big.NewInt(800),
		StartAmountOut: big.NewInt(1000),
		Deadline:       1_700_000_600,
		Nonce:          7,
		Type:           TypeDutch,
	}
	return WithID(in)
}

func TestHashIsDeterministic(t *testing.T) {
	codec := NewCodec(testDomain())
	in := sampleIntent()
	assert.Equal(t, codec.Hash(in), codec.Hash(in.Clone()))
	assert.Equal(t, codec.Hash(in), NewCodec(testDomain()).Hash(in))
}

func TestHashChangesWithEveryField(t *testing.T) {
	codec := NewCodec(testDomain())
	base := sampleIntent()
	baseHash := codec.Hash(base)

	mutations := map[string]func(*Intent){
		"id":             func(in *Intent) { in.ID[0] ^= 0xff },
		"maker":          func(in *Intent) { in.Maker[19] ^= 0x01 },
		"tokenIn":        func(in *Intent) { in.TokenIn[19] ^= 0x01 },
		"tokenOut":       func(in *Intent) { in.TokenOut[19] ^= 0x01 },
		"amountIn":       func(in *Intent) { in.AmountIn.Add(in.AmountIn, big.NewInt(1)) },
		"minAmountOut":   func(in *Intent) { in.MinAmountOut.Add(in.MinAmountOut, big.NewInt(1)) },
		"startAmountOut": func(in *Intent) { in.StartAmountOut.Add(in.StartAmountOut, big.NewInt(1)) },
		"deadline":       func(in *Intent) { in.Deadline++ },
		"nonce":          func(in *Intent) { in.Nonce++ },
		"type":           func(in *Intent) { in.Type = TypeLimit },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			in := base.Clone()
			mutate(&in)
			assert.NotEqual(t, baseHash, codec.Hash(in))
		})
	}
}

func TestHashBindsDomain(t *testing.T) {
	in := sampleIntent()
	base := NewCodec(testDomain()).Hash(in)

	otherChain := testDomain()
	otherChain.ChainID = big.NewInt(10)
	assert.NotEqual(t, base, NewCodec(otherChain).Hash(in))

	otherContract := testDomain()
	otherContract.VerifyingContract = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	assert.NotEqual(t, base, NewCodec(otherContract).Hash(in))
}

func TestContentIDIgnoresID(t *testing.T) {
	in := sampleIntent()
	moved := in.Clone()
	moved.ID = common.HexToHash("0x01")
	assert.Equal(t, ContentID(in), ContentID(moved))
	assert.Equal(t, in.ID, ContentID(in))

	moved.Nonce++
	assert.NotEqual(t, ContentID(in), ContentID(moved))
}

func TestHashMatchesTypedData(t *testing.T) {
	domain := testDomain()
	in := sampleIntent()

	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Intent": {
				{Name: "intentId", Type: "bytes32"},
				{Name: "maker", Type: "address"},
				{Name: "tokenIn", Type: "address"},
				{Name: "tokenOut", Type: "address"},
				{Name: "amountIn", Type: "uint256"},
				{Name: "minAmountOut", Type: "uint256"},
				{Name: "startAmountOut", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "intentType", Type: "uint8"},
			},
		},
		PrimaryType: "Intent",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           math.NewHexOrDecimal256(domain.ChainID.Int64()),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"intentId":       hexutil.Encode(in.ID.Bytes()),
			"maker":          in.Maker.Hex(),
			"tokenIn":        in.TokenIn.Hex(),
			"tokenOut":       in.TokenOut.Hex(),
			"amountIn":       in.AmountIn.String(),
			"minAmountOut":   in.MinAmountOut.String(),
			"startAmountOut": in.StartAmountOut.String(),
			"deadline":       "1700000600",
			"nonce":          "7",
			"intentType":     "1",
		},
	}

	expected, _, err := apitypes.TypedDataAndHash(typed)
	require.NoError(t, err)
	assert.Equal(t, common.BytesToHash(expected), NewCodec(domain).Hash(in))

	separator, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	require.NoError(t, err)
	assert.Equal(t, common.BytesToHash(separator), domain.Separator())
}

func TestIntentJSONRoundTrip(t *testing.T) {
	in := sampleIntent()
	raw, err := in.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"intentType":"DUTCH"`)
	assert.Contains(t, string(raw), `"amountIn":"1000000"`)

	var decoded Intent
	require.NoError(t, decoded.UnmarshalJSON(raw))
	assert.Equal(t, in.ID, decoded.ID)
	assert.Equal(t, 0, in.AmountIn.Cmp(decoded.AmountIn))
	assert.Equal(t, in.Type, decoded.Type)
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("0x10")
	require.NoError(t, err)
	assert.Equal(t, int64(16), v.Int64())

	v, err = ParseAmount("0010")
	require.NoError(t, err)
	assert.Equal(t, int64(10), v.Int64())

	_, err = ParseAmount("-1")
	assert.Error(t, err)
	_, err = ParseAmount("1.5")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	in := sampleIntent()
	require.NoError(t, in.Validate())

	missing := in.Clone()
	missing.AmountIn = nil
	assert.Error(t, missing.Validate())

	noMaker := in.Clone()
	noMaker.Maker = common.Address{}
	assert.Error(t, noMaker.Validate())

	badType := in.Clone()
	badType.Type = Type(9)
	assert.Error(t, badType.Validate())
}
