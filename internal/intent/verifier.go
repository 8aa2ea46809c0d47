package intent

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Verifier recovers the address that produced a signature over digest.
type Verifier interface {
	Recover(digest common.Hash, sig []byte) (common.Address, error)
}

// Verify reports whether sig over digest was produced by expected. Malformed
// signatures yield false.
func Verify(v Verifier, digest common.Hash, sig []byte, expected common.Address) bool {
	if v == nil || expected == (common.Address{}) {
		return false
	}
	signer, err := v.Recover(digest, sig)
	if err != nil {
		return false
	}
	return signer == expected
}

var (
	errSignatureLength = errors.New("signature must be 65 bytes")
	errSignatureValues = errors.New("signature values out of range")
)

// Secp256k1Verifier accepts 65-byte r‖s‖v signatures with v in {0,1,27,28}.
type Secp256k1Verifier struct{}

func (Secp256k1Verifier) Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errSignatureLength
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	v := normalized[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	normalized[crypto.RecoveryIDOffset] = v

	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, errSignatureValues
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces a 65-byte signature with v in {27,28}.
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignIntent fills in the content id, then signs the digest of the result.
func SignIntent(c *Codec, in Intent, key *ecdsa.PrivateKey) (Intent, []byte, error) {
	signed := WithID(in)
	sig, err := Sign(c.Hash(signed), key)
	if err != nil {
		return Intent{}, nil, err
	}
	return signed, sig, nil
}
