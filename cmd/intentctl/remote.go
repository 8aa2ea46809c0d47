package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"intent-settlement/internal/api"
	"intent-settlement/internal/auth"
	"intent-settlement/internal/intent"
	"intent-settlement/internal/settlement"
	"intent-settlement/sdk/go/settle"
)

func login(ctx context.Context, c *settle.Client, s signer) (auth.Token, error) {
	addr := s.Address()
	ts := time.Now().Unix()
	sig, err := s.SignDigest(auth.LoginDigest(addr, ts))
	if err != nil {
		return auth.Token{}, fmt.Errorf("sign login: %w", err)
	}
	return c.LoginSigned(ctx, auth.LoginRequest{Address: addr, Timestamp: ts, Signature: hexutil.Encode(sig)})
}

func newLoginCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Exchange a key signature for a bearer token",
		Long:  "Exchange a key signature for a bearer token. Export it as SETTLE_TOKEN for later commands.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.signer()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			c, err := g.client()
			if err != nil {
				return err
			}
			token, err := login(ctx, c, s)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), token)
		},
	}
}

func newSubmitCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <signed.json|->",
		Short: "Announce a signed intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := readEnvelope(cmd, args[0])
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.Submit(ctx, env.Intent, env.Signature)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newFillCmd(g *globals) *cobra.Command {
	var amountOut string
	cmd := &cobra.Command{
		Use:   "fill <signed.json|->",
		Short: "Settle a signed intent as the logged-in solver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := readEnvelope(cmd, args[0])
			if err != nil {
				return err
			}
			amount, err := intent.ParseAmount(amountOut)
			if err != nil {
				return fmt.Errorf("--amount-out: %w", err)
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			c, err := g.authedClient(ctx)
			if err != nil {
				return err
			}
			res, err := c.Fill(ctx, env.Intent, env.Signature, amount)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&amountOut, "amount-out", "", "output amount in base units")
	_ = cmd.MarkFlagRequired("amount-out")
	return cmd
}

func newCancelCmd(g *globals) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "cancel [intent-id]",
		Short: "Cancel one intent, or every intent under the current nonce with --all",
		Args: func(_ *cobra.Command, args []string) error {
			if all != (len(args) == 0) {
				return fmt.Errorf("pass exactly one of an intent id or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()
			c, err := g.authedClient(ctx)
			if err != nil {
				return err
			}
			if all {
				nonce, err := c.CancelAll(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]uint64{"nonce": nonce})
			}
			id, err := parseHash(args[0])
			if err != nil {
				return err
			}
			fill, err := c.CancelIntent(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), fill)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "advance the nonce to invalidate every outstanding intent")
	return cmd
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status <intent-id>",
		Short: "Show the ledger record of an intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseHash(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			c, err := g.client()
			if err != nil {
				return err
			}
			fill, err := c.IntentStatus(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), fill)
		},
	}
}

func newBalancesCmd(g *globals) *cobra.Command {
	var asset string
	cmd := &cobra.Command{
		Use:   "balances [owner]",
		Short: "Show ledger balances (defaults to the signing key's address)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := ownerArg(g, args)
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.Balances(ctx, owner, asset)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&asset, "asset", "", "restrict to one asset symbol or address")
	return cmd
}

func newSolverCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "solver", Short: "Manage solver registration"}

	show := &cobra.Command{
		Use:   "show [address]",
		Short: "Show a solver record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := ownerArg(g, args)
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			c, err := g.client()
			if err != nil {
				return err
			}
			s, err := c.Solver(ctx, addr)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}

	stakeCmd := func(use, short string, call func(*settle.Client, context.Context, *big.Int) (settlement.Solver, error)) *cobra.Command {
		var amount string
		c := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				v, err := intent.ParseAmount(amount)
				if err != nil {
					return fmt.Errorf("--amount: %w", err)
				}
				ctx, cancel := g.context(cmd)
				defer cancel()
				client, err := g.authedClient(ctx)
				if err != nil {
					return err
				}
				s, err := call(client, ctx, v)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s)
			},
		}
		c.Flags().StringVar(&amount, "amount", "", "stake amount in base units")
		_ = c.MarkFlagRequired("amount")
		return c
	}

	cmd.AddCommand(show,
		stakeCmd("register", "Deposit stake and register as a solver", (*settle.Client).RegisterSolver),
		stakeCmd("withdraw", "Withdraw stake", (*settle.Client).WithdrawStake),
	)
	return cmd
}

func newBatchCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "batch", Short: "Drive commit-reveal batches"}

	current := &cobra.Command{
		Use:   "current",
		Short: "Show the open batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()
			c, err := g.client()
			if err != nil {
				return err
			}
			b, err := c.CurrentBatch(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}

	commit := &cobra.Command{
		Use:   "commit <commitment>",
		Short: "Commit to the current batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			c, err := g.authedClient(ctx)
			if err != nil {
				return err
			}
			b, err := c.CommitBatch(ctx, hash)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}

	settleCmd := &cobra.Command{
		Use:   "settle <reveal.json>",
		Short: "Reveal and settle the committed batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reveal, err := readReveal(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			c, err := g.authedClient(ctx)
			if err != nil {
				return err
			}
			res, err := c.SettleBatch(ctx, reveal)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	abandon := &cobra.Command{
		Use:   "cancel",
		Short: "Abandon the batch committed by the logged-in solver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()
			c, err := g.authedClient(ctx)
			if err != nil {
				return err
			}
			b, err := c.CancelBatch(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}

	cmd.AddCommand(current, commit, settleCmd, abandon)
	return cmd
}

func newEventsCmd(g *globals) *cobra.Command {
	var (
		after uint64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Page through the event journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()
			c, err := g.client()
			if err != nil {
				return err
			}
			page, err := c.Events(ctx, after, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().Uint64Var(&after, "after", 0, "return events after this sequence")
	cmd.Flags().IntVar(&limit, "limit", 100, "page size")
	return cmd
}

// readReveal loads a batch reveal in the same shape the API accepts.
func readReveal(path string) (settlement.BatchReveal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return settlement.BatchReveal{}, err
	}
	var req api.SettleBatchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return settlement.BatchReveal{}, fmt.Errorf("parse %s: %w", path, err)
	}
	reveal := settlement.BatchReveal{
		Intents:    req.Intents,
		Signatures: make([][]byte, len(req.Signatures)),
		AmountsOut: make([]*big.Int, len(req.AmountsOut)),
		Salt:       req.Salt,
	}
	for i, sig := range req.Signatures {
		reveal.Signatures[i] = sig
	}
	for i, s := range req.AmountsOut {
		v, err := intent.ParseAmount(s)
		if err != nil {
			return settlement.BatchReveal{}, fmt.Errorf("amounts_out[%d]: %w", i, err)
		}
		reveal.AmountsOut[i] = v
	}
	return reveal, nil
}

func ownerArg(g *globals, args []string) (common.Address, error) {
	if len(args) == 1 {
		if !common.IsHexAddress(args[0]) {
			return common.Address{}, fmt.Errorf("%q is not a hex address", args[0])
		}
		return common.HexToAddress(args[0]), nil
	}
	s, err := g.signer()
	if err != nil {
		return common.Address{}, fmt.Errorf("pass an address or a signing key: %w", err)
	}
	return s.Address(), nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%q is not a 32-byte hex hash", s)
	}
	return common.BytesToHash(b), nil
}
