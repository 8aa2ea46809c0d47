package intent

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

// Ed25519SignatureLength is the size of a pubkey‖signature blob.
const Ed25519SignatureLength = ed25519.PublicKeySize + ed25519.SignatureSize

// Ed25519Verifier authenticates makers holding ed25519 keys. The signature
// blob carries the public key, and the signer address is the last 20 bytes of
// keccak256(pubkey).
type Ed25519Verifier struct{}

func (Ed25519Verifier) Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != Ed25519SignatureLength {
		return common.Address{}, fmt.Errorf("ed25519 signature must be %d bytes", Ed25519SignatureLength)
	}
	pub := ed25519.PublicKey(sig[:ed25519.PublicKeySize])
	if _, err := new(edwards25519.Point).SetBytes(pub); err != nil {
		return common.Address{}, fmt.Errorf("invalid ed25519 public key: %w", err)
	}
	if !ed25519.Verify(pub, digest.Bytes(), sig[ed25519.PublicKeySize:]) {
		return common.Address{}, errors.New("ed25519 signature mismatch")
	}
	return Ed25519Address(pub), nil
}

// Ed25519Address maps a public key onto the maker address space.
func Ed25519Address(pub ed25519.PublicKey) common.Address {
	return common.BytesToAddress(crypto.Keccak256(pub)[12:])
}

// SignEd25519 returns the pubkey‖signature blob expected by Ed25519Verifier.
func SignEd25519(digest common.Hash, key ed25519.PrivateKey) []byte {
	pub := key.Public().(ed25519.PublicKey)
	out := make([]byte, 0, Ed25519SignatureLength)
	out = append(out, pub...)
	return append(out, ed25519.Sign(key, digest.Bytes())...)
}

// EncodeEd25519Key renders a public key in base58.
func EncodeEd25519Key(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// DecodeEd25519Key parses a base58 public key and checks it is a curve point.
func DecodeEd25519Key(s string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode base58 key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ed25519 key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return nil, fmt.Errorf("invalid ed25519 public key: %w", err)
	}
	return ed25519.PublicKey(raw), nil
}
