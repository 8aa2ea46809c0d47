package intent

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	domainTypeString = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
	intentTypeString = "Intent(bytes32 intentId,address maker,address tokenIn,address tokenOut," +
		"uint256 amountIn,uint256 minAmountOut,uint256 startAmountOut,uint256 deadline,uint256 nonce,uint8 intentType)"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(domainTypeString))
	// IntentTypeHash is the EIP-712 type hash of Intent.
	IntentTypeHash = crypto.Keccak256Hash([]byte(intentTypeString))
)

// Domain binds signatures to one deployment of the settlement engine.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Separator computes the EIP-712 domain separator.
func (d Domain) Separator() common.Hash {
	chainID := d.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		math.U256Bytes(new(big.Int).Set(chainID)),
		common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
	)
}

// Codec produces the digests makers sign. It is safe for concurrent use.
type Codec struct {
	domain    Domain
	separator common.Hash
}

// NewCodec precomputes the domain separator for domain.
func NewCodec(domain Domain) *Codec {
	return &Codec{domain: domain, separator: domain.Separator()}
}

// Domain returns the domain the codec was built with.
func (c *Codec) Domain() Domain {
	return c.domain
}

// DomainSeparator returns the cached separator.
func (c *Codec) DomainSeparator() common.Hash {
	return c.separator
}

// StructHash is keccak256(IntentTypeHash ‖ enc(fields)).
func (c *Codec) StructHash(in Intent) common.Hash {
	return crypto.Keccak256Hash(IntentTypeHash.Bytes(), in.ID.Bytes(), encodeContent(in))
}

// Hash returns the EIP-712 digest keccak256(0x1901 ‖ separator ‖ structHash).
func (c *Codec) Hash(in Intent) common.Hash {
	structHash := c.StructHash(in)
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, c.separator.Bytes(), structHash.Bytes())
}

// ContentID derives the canonical intent id from every field except the id.
// It is independent of the domain.
func (c *Codec) ContentID(in Intent) common.Hash {
	return ContentID(in)
}

// ContentID derives the canonical intent id from every field except the id.
func ContentID(in Intent) common.Hash {
	return crypto.Keccak256Hash(encodeContent(in))
}

// WithID returns a copy of in whose ID is its content id.
func WithID(in Intent) Intent {
	out := in.Clone()
	out.ID = ContentID(in)
	return out
}

func encodeContent(in Intent) []byte {
	buf := make([]byte, 0, 9*32)
	buf = append(buf, word(in.Maker.Bytes())...)
	buf = append(buf, word(in.TokenIn.Bytes())...)
	buf = append(buf, word(in.TokenOut.Bytes())...)
	buf = append(buf, uintWord(in.AmountIn)...)
	buf = append(buf, uintWord(in.MinAmountOut)...)
	buf = append(buf, uintWord(in.StartAmountOut)...)
	buf = append(buf, uintWord(new(big.Int).SetUint64(in.Deadline))...)
	buf = append(buf, uintWord(new(big.Int).SetUint64(in.Nonce))...)
	buf = append(buf, word([]byte{byte(in.Type)})...)
	return buf
}

func word(b []byte) []byte {
	return common.LeftPadBytes(b, 32)
}

// uintWord encodes v as a 32-byte big-endian word. Nil encodes as zero.
func uintWord(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return math.U256Bytes(new(big.Int).Set(v))
}

// Word exposes the 32-byte uint256 encoding used by the codec.
func Word(v *big.Int) []byte {
	return uintWord(v)
}
