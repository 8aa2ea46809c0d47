package settlement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// nonceRegistry tracks the next expected nonce per maker. It relies on the
// engine lock, so check and advance form one atomic step.
type nonceRegistry struct {
	nonces map[common.Address]uint64
}

func newNonceRegistry() nonceRegistry {
	return nonceRegistry{nonces: make(map[common.Address]uint64)}
}

func (r *nonceRegistry) current(maker common.Address) uint64 {
	return r.nonces[maker]
}

func (r *nonceRegistry) check(maker common.Address, nonce uint64) error {
	if want := r.nonces[maker]; nonce != want {
		return ErrInvalidNonce.With(fmt.Errorf("maker %s expects nonce %d, got %d", maker.Hex(), want, nonce))
	}
	return nil
}

func (r *nonceRegistry) advance(maker common.Address) uint64 {
	r.nonces[maker]++
	return r.nonces[maker]
}
