package guardkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Contract is deployed code reachable at an Address. Invoke receives the
// caller in ctx (see GetCaller) and must pass ctx on to any nested calls so
// that reentrancy guards can see them.
type Contract interface {
	Invoke(ctx context.Context, payload []byte) ([]byte, error)
}

// ContractFunc adapts a function to the Contract interface.
type ContractFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Invoke calls f.
func (f ContractFunc) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// ContractResolver looks up deployed contracts.
type ContractResolver interface {
	Resolve(addr Address) (Contract, bool)
}

// ErrAlreadyDeployed is returned when deploying over an existing contract.
var ErrAlreadyDeployed = errors.New("guardkit: address already has a contract")

// Directory maps addresses to deployed contracts.
type Directory struct {
	mu        sync.RWMutex
	contracts map[Address]Contract
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{contracts: make(map[Address]Contract)}
}

// Deploy registers c at addr.
func (d *Directory) Deploy(addr Address, c Contract) error {
	if addr.IsZero() {
		return NewError(ErrInvalidAccount, "cannot deploy at the zero address")
	}
	if c == nil {
		return NewError(ErrNotAContract, "nil contract").WithAccount(addr)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.contracts[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyDeployed, addr)
	}
	d.contracts[addr] = c
	return nil
}

// Destroy removes the contract at addr. It reports whether one was present.
func (d *Directory) Destroy(addr Address) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.contracts[addr]; !ok {
		return false
	}
	delete(d.contracts, addr)
	return true
}

// Resolve returns the contract at addr.
func (d *Directory) Resolve(addr Address) (Contract, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.contracts[addr]
	return c, ok
}

// HasCode reports whether addr has a deployed contract.
func (d *Directory) HasCode(addr Address) bool {
	_, ok := d.Resolve(addr)
	return ok
}

func hasCode(r ContractResolver, addr Address) bool {
	if r == nil || addr.IsZero() {
		return false
	}
	_, ok := r.Resolve(addr)
	return ok
}
