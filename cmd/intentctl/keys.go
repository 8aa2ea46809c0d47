package main

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"intent-settlement/internal/intent"
)

const ed25519Prefix = "ed25519:"

// signer produces signatures the daemon's configured verifier accepts.
type signer interface {
	Address() common.Address
	SignDigest(digest common.Hash) ([]byte, error)
}

type secpSigner struct{ key *ecdsa.PrivateKey }

func (s secpSigner) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }

func (s secpSigner) SignDigest(digest common.Hash) ([]byte, error) {
	return intent.Sign(digest, s.key)
}

type edSigner struct{ key ed25519.PrivateKey }

func (s edSigner) Address() common.Address {
	return intent.Ed25519Address(s.key.Public().(ed25519.PublicKey))
}

func (s edSigner) SignDigest(digest common.Hash) ([]byte, error) {
	return intent.SignEd25519(digest, s.key), nil
}

// parseSigner reads a secp256k1 key as hex or an ed25519 seed as
// "ed25519:<base58>".
func parseSigner(raw string) (signer, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("signing key is empty")
	}
	if rest, ok := strings.CutPrefix(raw, ed25519Prefix); ok {
		seed, err := base58.Decode(rest)
		if err != nil {
			return nil, fmt.Errorf("decode ed25519 seed: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		return edSigner{key: ed25519.NewKeyFromSeed(seed)}, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse secp256k1 key: %w", err)
	}
	return secpSigner{key: key}, nil
}

type keyInfo struct {
	Scheme     string         `json:"scheme"`
	Address    common.Address `json:"address"`
	PublicKey  string         `json:"public_key"`
	PrivateKey string         `json:"private_key"`
}

func newKeygenCmd() *cobra.Command {
	var scheme string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a maker or solver key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := generateKey(scheme)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", "secp256k1", "secp256k1 or ed25519")
	return cmd
}

func generateKey(scheme string) (keyInfo, error) {
	switch scheme {
	case "secp256k1":
		key, err := crypto.GenerateKey()
		if err != nil {
			return keyInfo{}, err
		}
		return keyInfo{
			Scheme:     scheme,
			Address:    crypto.PubkeyToAddress(key.PublicKey),
			PublicKey:  hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey)),
			PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
		}, nil
	case "ed25519":
		pub, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return keyInfo{}, err
		}
		return keyInfo{
			Scheme:     scheme,
			Address:    intent.Ed25519Address(pub),
			PublicKey:  intent.EncodeEd25519Key(pub),
			PrivateKey: ed25519Prefix + base58.Encode(key.Seed()),
		}, nil
	default:
		return keyInfo{}, fmt.Errorf("unknown scheme %q", scheme)
	}
}
