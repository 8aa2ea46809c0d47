// Package intent defines signed trade intents, their EIP-712 digest and the
// signature schemes that authenticate makers.
package intent

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "intent-settlement/internal/errors"
)

// Type selects how an intent is priced.
type Type uint8

const (
	TypeLimit Type = iota
	TypeDutch
	TypeBatch
	TypeRFQ
	TypeTWAP
)

var typeNames = [...]string{"LIMIT", "DUTCH", "BATCH", "RFQ", "TWAP"}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Known reports whether t is one of the declared intent types.
func (t Type) Known() bool {
	return int(t) < len(typeNames)
}

// ParseType resolves a case-insensitive type name.
func ParseType(name string) (Type, error) {
	for i, n := range typeNames {
		if strings.EqualFold(name, n) {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown intent type %q", name)
}

func (t Type) MarshalText() ([]byte, error) {
	if !t.Known() {
		return nil, fmt.Errorf("unknown intent type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Intent is a maker's signed offer to sell AmountIn of TokenIn for at least a
// minimum amount of TokenOut before Deadline (unix seconds).
type Intent struct {
	ID             common.Hash
	Maker          common.Address
	TokenIn        common.Address
	TokenOut       common.Address
	AmountIn       *big.Int
	MinAmountOut   *big.Int
	StartAmountOut *big.Int
	Deadline       uint64
	Nonce          uint64
	Type           Type
}

// CodeMalformed marks an intent that fails structural checks.
const CodeMalformed xerrors.Code = "INTENT_MALFORMED"

func init() {
	xerrors.Register(CodeMalformed, xerrors.Attributes{
		Message:  "malformed intent",
		Severity: xerrors.SeverityInfo,
	})
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Validate checks the structural shape of the intent. It does not look at
// signatures, deadlines or nonces.
func (in Intent) Validate() error {
	if in.Maker == (common.Address{}) {
		return xerrors.New(CodeMalformed, "maker is required")
	}
	if !in.Type.Known() {
		return xerrors.New(CodeMalformed, fmt.Sprintf("unknown intent type %d", uint8(in.Type)))
	}
	for name, v := range map[string]*big.Int{
		"amountIn":       in.AmountIn,
		"minAmountOut":   in.MinAmountOut,
		"startAmountOut": in.StartAmountOut,
	} {
		if err := checkUint256(name, v); err != nil {
			return err
		}
	}
	return nil
}

func checkUint256(name string, v *big.Int) error {
	if v == nil {
		return xerrors.New(CodeMalformed, name+" is required")
	}
	if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return xerrors.New(CodeMalformed, name+" is outside the uint256 range")
	}
	return nil
}

// Clone returns a deep copy.
func (in Intent) Clone() Intent {
	out := in
	out.AmountIn = cloneInt(in.AmountIn)
	out.MinAmountOut = cloneInt(in.MinAmountOut)
	out.StartAmountOut = cloneInt(in.StartAmountOut)
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

type intentJSON struct {
	ID             common.Hash    `json:"intentId"`
	Maker          common.Address `json:"maker"`
	TokenIn        common.Address `json:"tokenIn"`
	TokenOut       common.Address `json:"tokenOut"`
	AmountIn       string         `json:"amountIn"`
	MinAmountOut   string         `json:"minAmountOut"`
	StartAmountOut string         `json:"startAmountOut"`
	Deadline       uint64         `json:"deadline"`
	Nonce          uint64         `json:"nonce"`
	Type           Type           `json:"intentType"`
}

func (in Intent) MarshalJSON() ([]byte, error) {
	return json.Marshal(intentJSON{
		ID:             in.ID,
		Maker:          in.Maker,
		TokenIn:        in.TokenIn,
		TokenOut:       in.TokenOut,
		AmountIn:       FormatAmount(in.AmountIn),
		MinAmountOut:   FormatAmount(in.MinAmountOut),
		StartAmountOut: FormatAmount(in.StartAmountOut),
		Deadline:       in.Deadline,
		Nonce:          in.Nonce,
		Type:           in.Type,
	})
}

func (in *Intent) UnmarshalJSON(data []byte) error {
	var raw intentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	amountIn, err := ParseAmount(raw.AmountIn)
	if err != nil {
		return fmt.Errorf("amountIn: %w", err)
	}
	minOut, err := ParseAmount(raw.MinAmountOut)
	if err != nil {
		return fmt.Errorf("minAmountOut: %w", err)
	}
	startOut := new(big.Int)
	if raw.StartAmountOut != "" {
		if startOut, err = ParseAmount(raw.StartAmountOut); err != nil {
			return fmt.Errorf("startAmountOut: %w", err)
		}
	}
	*in = Intent{
		ID:             raw.ID,
		Maker:          raw.Maker,
		TokenIn:        raw.TokenIn,
		TokenOut:       raw.TokenOut,
		AmountIn:       amountIn,
		MinAmountOut:   minOut,
		StartAmountOut: startOut,
		Deadline:       raw.Deadline,
		Nonce:          raw.Nonce,
		Type:           raw.Type,
	}
	return nil
}

// ParseAmount reads a base-unit amount in decimal or 0x-prefixed hex.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("amount %q is outside the uint256 range", s)
	}
	return v, nil
}

// FormatAmount renders a base-unit amount in decimal. Nil renders as "0".
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
