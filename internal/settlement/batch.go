package settlement

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"intent-settlement/internal/intent"
)

// BatchStatus is the commit-reveal state of a batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "PENDING"
	BatchCommitted BatchStatus = "COMMITTED"
	BatchSettled   BatchStatus = "SETTLED"
	BatchCancelled BatchStatus = "CANCELLED"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:   {BatchCommitted},
	BatchCommitted: {BatchSettled, BatchCancelled},
}

// CanTransition reports whether the FSM allows s -> to.
func (s BatchStatus) CanTransition(to BatchStatus) bool {
	for _, next := range batchTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Batch is one commit-reveal round.
type Batch struct {
	ID           common.Hash    `json:"id"`
	Sequence     uint64         `json:"sequence"`
	OpenedAt     time.Time      `json:"opened_at"`
	CommitHash   common.Hash    `json:"commit_hash"`
	CommittedAt  time.Time      `json:"committed_at"`
	Solver       common.Address `json:"solver"`
	Status       BatchStatus    `json:"status"`
	SettledCount int            `json:"settled_count"`
	ClosedAt     time.Time      `json:"closed_at"`
}

// Commitment is the hash a solver commits before revealing a batch:
// keccak256(word(count) ‖ keccak256(word(a0) ‖ … ‖ word(an)) ‖ salt).
func Commitment(count int, amountsOut []*big.Int, salt common.Hash) common.Hash {
	packed := make([]byte, 0, 32*len(amountsOut))
	for _, amount := range amountsOut {
		packed = append(packed, intent.Word(amount)...)
	}
	return crypto.Keccak256Hash(
		intent.Word(big.NewInt(int64(count))),
		crypto.Keccak256(packed),
		salt.Bytes(),
	)
}

const batchHistoryLimit = 256

type batchCoordinator struct {
	current  *Batch
	history  map[common.Hash]Batch
	order    []common.Hash
	sequence uint64
	entropy  io.Reader
}

func newBatchCoordinator(entropy io.Reader) batchCoordinator {
	return batchCoordinator{history: make(map[common.Hash]Batch), entropy: entropy}
}

// draw reads the salt for the next batch id. It runs before any state
// changes so a failed read leaves the batch untouched.
func (c *batchCoordinator) draw() ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := io.ReadFull(c.entropy, salt); err != nil {
		return nil, fmt.Errorf("read batch entropy: %w", err)
	}
	return salt, nil
}

// open starts the next batch. Its id mixes the previous id, the time, the
// sequence, the previous settled count and salt.
func (c *batchCoordinator) open(now time.Time, salt []byte) {
	var (
		prev    common.Hash
		settled int
	)
	if c.current != nil {
		prev = c.current.ID
		settled = c.current.SettledCount
	}
	c.sequence++
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(now.Unix()))
	binary.BigEndian.PutUint64(buf[8:16], c.sequence)
	binary.BigEndian.PutUint64(buf[16:24], uint64(settled))

	c.current = &Batch{
		ID:       crypto.Keccak256Hash(prev.Bytes(), buf[:], salt),
		Sequence: c.sequence,
		OpenedAt: now,
		Status:   BatchPending,
	}
}

func (c *batchCoordinator) transition(to BatchStatus) error {
	if !c.current.Status.CanTransition(to) {
		return ErrInvalidBatch.With(fmt.Errorf("batch %s cannot move from %s to %s", c.current.ID.Hex(), c.current.Status, to))
	}
	c.current.Status = to
	return nil
}

// close archives the current batch and opens a new one.
func (c *batchCoordinator) close(now time.Time, salt []byte) Batch {
	c.current.ClosedAt = now
	closed := *c.current
	c.history[closed.ID] = closed
	c.order = append(c.order, closed.ID)
	if len(c.order) > batchHistoryLimit {
		delete(c.history, c.order[0])
		c.order = c.order[1:]
	}
	c.open(now, salt)
	return closed
}

func (c *batchCoordinator) lookup(id common.Hash) (Batch, bool) {
	if c.current != nil && c.current.ID == id {
		return *c.current, true
	}
	b, ok := c.history[id]
	return b, ok
}
