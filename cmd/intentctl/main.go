// Command intentctl builds, signs and settles intents against a settlement
// daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"intent-settlement/internal/intent"
	"intent-settlement/sdk/go/settle"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	server    string
	token     string
	key       string
	keyFile   string
	timeout   time.Duration
	chainID   uint64
	contract  string
	domain    string
	version   string
	newClient func(server string, hc *http.Client) (*settle.Client, error)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{newClient: settle.NewClient}
	root := &cobra.Command{
		Use:           "intentctl",
		Short:         "Build, sign and settle intents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.server, "server", envOr("SETTLE_SERVER", "http://localhost:8080"), "settlement daemon base URL")
	flags.StringVar(&g.token, "token", os.Getenv("SETTLE_TOKEN"), "bearer token from a previous login")
	flags.StringVar(&g.key, "key", os.Getenv("SETTLE_KEY"), "signing key: secp256k1 hex or ed25519:<base58>")
	flags.StringVar(&g.keyFile, "key-file", "", "file holding the signing key")
	flags.DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")
	flags.Uint64Var(&g.chainID, "chain-id", 0, "sign offline for this chain id instead of fetching the domain")
	flags.StringVar(&g.contract, "verifying-contract", "", "offline domain verifying contract")
	flags.StringVar(&g.domain, "domain-name", "IntentSettlement", "offline domain name")
	flags.StringVar(&g.version, "domain-version", "1", "offline domain version")

	root.AddCommand(
		newKeygenCmd(),
		newBuildCmd(g),
		newHashCmd(g),
		newSignCmd(g),
		newCommitmentCmd(),
		newLoginCmd(g),
		newSubmitCmd(g),
		newFillCmd(g),
		newCancelCmd(g),
		newStatusCmd(g),
		newBalancesCmd(g),
		newSolverCmd(g),
		newBatchCmd(g),
		newEventsCmd(g),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (g *globals) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), g.timeout)
}

func (g *globals) client() (*settle.Client, error) {
	c, err := g.newClient(g.server, &http.Client{Timeout: g.timeout})
	if err != nil {
		return nil, err
	}
	if g.token != "" {
		c.SetAccessToken(g.token)
	}
	return c, nil
}

// authedClient returns a client carrying a token, logging in with the
// configured key when no token was given.
func (g *globals) authedClient(ctx context.Context) (*settle.Client, error) {
	c, err := g.client()
	if err != nil {
		return nil, err
	}
	if c.AccessToken() != "" {
		return c, nil
	}
	s, err := g.signer()
	if err != nil {
		return nil, fmt.Errorf("no token and no key to log in with: %w", err)
	}
	if _, err := login(ctx, c, s); err != nil {
		return nil, err
	}
	return c, nil
}

func (g *globals) signer() (signer, error) {
	raw := g.key
	if g.keyFile != "" {
		content, err := os.ReadFile(g.keyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		raw = string(content)
	}
	return parseSigner(raw)
}

// codec builds the signing codec offline when --chain-id is set and fetches
// the server's domain otherwise.
func (g *globals) codec(ctx context.Context) (*intent.Codec, error) {
	if g.chainID != 0 {
		var contract common.Address
		if g.contract != "" {
			if !common.IsHexAddress(g.contract) {
				return nil, fmt.Errorf("--verifying-contract %q is not a hex address", g.contract)
			}
			contract = common.HexToAddress(g.contract)
		}
		return intent.NewCodec(intent.Domain{
			Name:              g.domain,
			Version:           g.version,
			ChainID:           new(big.Int).SetUint64(g.chainID),
			VerifyingContract: contract,
		}), nil
	}
	c, err := g.client()
	if err != nil {
		return nil, err
	}
	return c.Codec(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
