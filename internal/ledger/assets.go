package ledger

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// AssetFile models the assets YAML: the registry and genesis balances.
type AssetFile struct {
	Assets   []Asset   `yaml:"assets"`
	Balances []Genesis `yaml:"balances"`
}

// Asset maps a ticker to its ledger address and display precision.
type Asset struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	Address  string `yaml:"address" json:"address"`
	Decimals int32  `yaml:"decimals" json:"decimals"`
}

// Genesis credits owner with a human-readable amount of an asset.
type Genesis struct {
	Owner  string `yaml:"owner"`
	Asset  string `yaml:"asset"`
	Amount string `yaml:"amount"`
}

// Registry resolves assets by symbol or address.
type Registry struct {
	bySymbol  map[string]Asset
	byAddress map[common.Address]Asset
	ordered   []Asset
}

// LoadAssets parses the assets file. An empty path yields an empty file.
func LoadAssets(path string) (AssetFile, error) {
	if strings.TrimSpace(path) == "" {
		return AssetFile{}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return AssetFile{}, fmt.Errorf("read assets file: %w", err)
	}
	var file AssetFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return AssetFile{}, fmt.Errorf("parse assets file: %w", err)
	}
	return file, nil
}

// NewRegistry validates the declared assets.
func NewRegistry(assets []Asset) (*Registry, error) {
	r := &Registry{
		bySymbol:  make(map[string]Asset, len(assets)),
		byAddress: make(map[common.Address]Asset, len(assets)),
	}
	for _, a := range assets {
		symbol := strings.ToUpper(strings.TrimSpace(a.Symbol))
		if symbol == "" {
			return nil, fmt.Errorf("asset %q has no symbol", a.Address)
		}
		if !common.IsHexAddress(a.Address) {
			return nil, fmt.Errorf("asset %s: %q is not a hex address", symbol, a.Address)
		}
		if a.Decimals < 0 || a.Decimals > 36 {
			return nil, fmt.Errorf("asset %s: decimals %d out of range", symbol, a.Decimals)
		}
		addr := common.HexToAddress(a.Address)
		if _, dup := r.bySymbol[symbol]; dup {
			return nil, fmt.Errorf("asset %s declared twice", symbol)
		}
		if _, dup := r.byAddress[addr]; dup {
			return nil, fmt.Errorf("asset address %s declared twice", addr.Hex())
		}
		a.Symbol = symbol
		a.Address = addr.Hex()
		r.bySymbol[symbol] = a
		r.byAddress[addr] = a
		r.ordered = append(r.ordered, a)
	}
	return r, nil
}

// Assets lists the registry in declaration order.
func (r *Registry) Assets() []Asset {
	return append([]Asset(nil), r.ordered...)
}

// Lookup accepts a symbol or a hex address.
func (r *Registry) Lookup(ref string) (Asset, bool) {
	if common.IsHexAddress(ref) {
		a, ok := r.byAddress[common.HexToAddress(ref)]
		return a, ok
	}
	a, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(ref))]
	return a, ok
}

// ToBaseUnits converts a human amount such as "1.5" into integer base units.
// Amounts finer than the asset precision are rejected.
func (a Asset) ToBaseUnits(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("parse %s amount %q: %w", a.Symbol, amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%s amount %q is negative", a.Symbol, amount)
	}
	shifted := d.Shift(a.Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%s amount %q exceeds %d decimals", a.Symbol, amount, a.Decimals)
	}
	return shifted.BigInt(), nil
}

// FromBaseUnits renders base units as a human decimal string.
func (a Asset) FromBaseUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -a.Decimals).String()
}

// AddressOf returns the ledger address of the asset.
func (a Asset) AddressOf() common.Address {
	return common.HexToAddress(a.Address)
}

// Seed credits every genesis balance into book.
func Seed(ctx context.Context, book Book, reg *Registry, balances []Genesis) error {
	for i, g := range balances {
		asset, ok := reg.Lookup(g.Asset)
		if !ok {
			return fmt.Errorf("balance %d: unknown asset %q", i, g.Asset)
		}
		if !common.IsHexAddress(g.Owner) {
			return fmt.Errorf("balance %d: %q is not a hex address", i, g.Owner)
		}
		amount, err := asset.ToBaseUnits(g.Amount)
		if err != nil {
			return fmt.Errorf("balance %d: %w", i, err)
		}
		if err := book.Credit(ctx, asset.AddressOf(), common.HexToAddress(g.Owner), amount); err != nil {
			return fmt.Errorf("balance %d: %w", i, err)
		}
	}
	return nil
}
