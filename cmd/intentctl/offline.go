package main

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"intent-settlement/internal/api"
	"intent-settlement/internal/intent"
	"intent-settlement/internal/ledger"
	"intent-settlement/internal/settlement"
)

type buildFlags struct {
	assetsFile string
	maker      string
	sell       string
	buy        string
	amountIn   string
	minOut     string
	startOut   string
	kind       string
	ttl        time.Duration
	nonce      uint64
}

func newBuildCmd(g *globals) *cobra.Command {
	var f buildFlags
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an unsigned intent",
		Long: `Build an unsigned intent. With --assets, tokens are symbols and amounts are
human decimals converted with each asset's precision; otherwise tokens are hex
addresses and amounts are base units.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := f.intent(g, cmd)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), in)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.assetsFile, "assets", "", "assets YAML used to resolve symbols and decimals")
	flags.StringVar(&f.maker, "maker", "", "maker address (defaults to the signing key's address)")
	flags.StringVar(&f.sell, "sell", "", "token the maker gives")
	flags.StringVar(&f.buy, "buy", "", "token the maker receives")
	flags.StringVar(&f.amountIn, "amount-in", "", "amount the maker gives")
	flags.StringVar(&f.minOut, "min-out", "", "minimum amount the maker accepts")
	flags.StringVar(&f.startOut, "start-out", "0", "dutch auction starting amount")
	flags.StringVar(&f.kind, "type", "limit", "limit, dutch, batch, rfq or twap")
	flags.DurationVar(&f.ttl, "ttl", 30*time.Minute, "time until the intent expires")
	flags.Uint64Var(&f.nonce, "nonce", 0, "maker nonce (fetched from the server when unset)")
	for _, name := range []string{"sell", "buy", "amount-in", "min-out"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (f buildFlags) intent(g *globals, cmd *cobra.Command) (intent.Intent, error) {
	kind, err := intent.ParseType(f.kind)
	if err != nil {
		return intent.Intent{}, err
	}
	maker, err := f.makerAddress(g)
	if err != nil {
		return intent.Intent{}, err
	}

	var assets *ledger.Registry
	if f.assetsFile != "" {
		file, err := ledger.LoadAssets(f.assetsFile)
		if err != nil {
			return intent.Intent{}, err
		}
		if assets, err = ledger.NewRegistry(file.Assets); err != nil {
			return intent.Intent{}, err
		}
	}
	tokenIn, amountIn, err := resolve(assets, f.sell, f.amountIn)
	if err != nil {
		return intent.Intent{}, fmt.Errorf("--sell: %w", err)
	}
	tokenOut, minOut, err := resolve(assets, f.buy, f.minOut)
	if err != nil {
		return intent.Intent{}, fmt.Errorf("--buy: %w", err)
	}
	_, startOut, err := resolve(assets, f.buy, f.startOut)
	if err != nil {
		return intent.Intent{}, fmt.Errorf("--start-out: %w", err)
	}

	nonce := f.nonce
	if !cmd.Flags().Changed("nonce") {
		ctx, cancel := g.context(cmd)
		defer cancel()
		c, err := g.client()
		if err != nil {
			return intent.Intent{}, err
		}
		if nonce, err = c.Nonce(ctx, maker); err != nil {
			return intent.Intent{}, fmt.Errorf("fetch nonce (pass --nonce to skip): %w", err)
		}
	}

	in := intent.Intent{
		Maker:          maker,
		TokenIn:        tokenIn,
		TokenOut:       tokenOut,
		AmountIn:       amountIn,
		MinAmountOut:   minOut,
		StartAmountOut: startOut,
		Deadline:       uint64(time.Now().Add(f.ttl).Unix()),
		Nonce:          nonce,
		Type:           kind,
	}
	if err := in.Validate(); err != nil {
		return intent.Intent{}, err
	}
	return intent.WithID(in), nil
}

func (f buildFlags) makerAddress(g *globals) (common.Address, error) {
	if f.maker != "" {
		if !common.IsHexAddress(f.maker) {
			return common.Address{}, fmt.Errorf("--maker %q is not a hex address", f.maker)
		}
		return common.HexToAddress(f.maker), nil
	}
	s, err := g.signer()
	if err != nil {
		return common.Address{}, fmt.Errorf("pass --maker or a signing key: %w", err)
	}
	return s.Address(), nil
}

// resolve turns a token reference and amount into an address and base units.
func resolve(assets *ledger.Registry, token, amount string) (common.Address, *big.Int, error) {
	if assets != nil {
		asset, ok := assets.Lookup(token)
		if !ok {
			return common.Address{}, nil, fmt.Errorf("unknown asset %q", token)
		}
		v, err := asset.ToBaseUnits(amount)
		return asset.AddressOf(), v, err
	}
	if !common.IsHexAddress(token) {
		return common.Address{}, nil, fmt.Errorf("%q is not a hex address (pass --assets to use symbols)", token)
	}
	v, err := intent.ParseAmount(amount)
	return common.HexToAddress(token), v, err
}

// readEnvelope loads a signed envelope or a bare intent from path, or stdin
// when path is "-".
func readEnvelope(cmd *cobra.Command, path string) (api.SubmitIntentRequest, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return api.SubmitIntentRequest{}, err
		}
		defer file.Close()
		r = file
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return api.SubmitIntentRequest{}, err
	}

	var probe struct {
		Intent json.RawMessage `json:"intent"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return api.SubmitIntentRequest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	var env api.SubmitIntentRequest
	if probe.Intent != nil {
		err = json.Unmarshal(raw, &env)
	} else {
		err = json.Unmarshal(raw, &env.Intent)
	}
	if err != nil {
		return api.SubmitIntentRequest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return env, nil
}

type hashOutput struct {
	ContentID       common.Hash     `json:"content_id"`
	StructHash      common.Hash     `json:"struct_hash"`
	DomainSeparator common.Hash     `json:"domain_separator"`
	Digest          common.Hash     `json:"digest"`
	Signer          *common.Address `json:"signer,omitempty"`
	IDMatches       bool            `json:"id_matches"`
}

func newHashCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <intent.json|->",
		Short: "Print an intent's content id, struct hash and signing digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := readEnvelope(cmd, args[0])
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			codec, err := g.codec(ctx)
			if err != nil {
				return err
			}
			out := hashOutput{
				ContentID:       codec.ContentID(env.Intent),
				StructHash:      codec.StructHash(env.Intent),
				DomainSeparator: codec.DomainSeparator(),
				Digest:          codec.Hash(env.Intent),
			}
			out.IDMatches = out.ContentID == env.Intent.ID
			if len(env.Signature) > 0 {
				if addr, ok := recoverSigner(out.Digest, env.Signature); ok {
					out.Signer = &addr
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func recoverSigner(digest common.Hash, sig []byte) (common.Address, bool) {
	var v intent.Verifier = intent.Secp256k1Verifier{}
	if len(sig) == intent.Ed25519SignatureLength {
		v = intent.Ed25519Verifier{}
	}
	addr, err := v.Recover(digest, sig)
	return addr, err == nil
}

func newSignCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sign <intent.json|->",
		Short: "Sign an intent and print the submit envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := readEnvelope(cmd, args[0])
			if err != nil {
				return err
			}
			s, err := g.signer()
			if err != nil {
				return err
			}
			if env.Intent.Maker != s.Address() {
				return fmt.Errorf("key address %s is not the maker %s", s.Address().Hex(), env.Intent.Maker.Hex())
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			codec, err := g.codec(ctx)
			if err != nil {
				return err
			}
			signed := intent.WithID(env.Intent)
			sig, err := s.SignDigest(codec.Hash(signed))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.SubmitIntentRequest{Intent: signed, Signature: sig})
		},
	}
}

type commitmentOutput struct {
	Commitment common.Hash `json:"commitment"`
	Salt       common.Hash `json:"salt"`
	Count      int         `json:"count"`
	AmountsOut []string    `json:"amounts_out"`
}

func newCommitmentCmd() *cobra.Command {
	var salt string
	cmd := &cobra.Command{
		Use:   "commitment <amount_out>...",
		Short: "Compute a batch commitment over the revealed output amounts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := commitment(args, salt)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&salt, "salt", "", "32-byte hex salt (random when empty)")
	return cmd
}

func commitment(args []string, rawSalt string) (commitmentOutput, error) {
	amounts := make([]*big.Int, len(args))
	for i, arg := range args {
		v, err := intent.ParseAmount(arg)
		if err != nil {
			return commitmentOutput{}, fmt.Errorf("amount %d: %w", i, err)
		}
		amounts[i] = v
	}

	var salt common.Hash
	if rawSalt == "" {
		if _, err := rand.Read(salt[:]); err != nil {
			return commitmentOutput{}, err
		}
	} else {
		b, err := hexutil.Decode(strings.TrimSpace(rawSalt))
		if err != nil || len(b) != common.HashLength {
			return commitmentOutput{}, fmt.Errorf("--salt must be 32 bytes of 0x-prefixed hex")
		}
		salt = common.BytesToHash(b)
	}

	out := commitmentOutput{
		Commitment: settlement.Commitment(len(amounts), amounts, salt),
		Salt:       salt,
		Count:      len(amounts),
		AmountsOut: make([]string, len(amounts)),
	}
	for i, v := range amounts {
		out.AmountsOut[i] = v.String()
	}
	return out, nil
}
