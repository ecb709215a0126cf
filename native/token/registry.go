package token

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownToken    = errors.New("token: not registered")
	ErrDuplicateToken  = errors.New("token: already registered")
	ErrInvalidMetadata = errors.New("token: invalid metadata")
)

// Metadata captures the immutable description of a fungible token. Decimals
// are read once at registration and cached for the lifetime of the process; a
// token that later changes its reported precision would desynchronise pricing,
// which matches the on-chain contract the protocol was designed against.
type Metadata struct {
	Symbol        string
	Decimals      uint8
	WrappedNative bool
	Stable        bool
}

// Registry enumerates the tokens known to a deployment. At most one token may
// be flagged as the wrapped native asset and at most one as the stable
// reference used for commission bases.
type Registry struct {
	mu      sync.RWMutex
	tokens  map[common.Address]Metadata
	order   []common.Address
	wrapped common.Address
	stable  common.Address
}

// NewRegistry constructs an empty token registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]Metadata)}
}

// Register adds a token to the registry. Re-registering an address fails so
// cached decimals can never silently change.
func (r *Registry) Register(addr common.Address, meta Metadata) error {
	if r == nil {
		return ErrInvalidMetadata
	}
	meta.Symbol = strings.ToUpper(strings.TrimSpace(meta.Symbol))
	if meta.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidMetadata)
	}
	if meta.Decimals > 18 {
		return fmt.Errorf("%w: decimals above 18 unsupported", ErrInvalidMetadata)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[addr]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateToken, addr.Hex())
	}
	if meta.WrappedNative {
		if r.wrapped != (common.Address{}) {
			return fmt.Errorf("%w: wrapped native already set", ErrInvalidMetadata)
		}
		r.wrapped = addr
	}
	if meta.Stable {
		if r.stable != (common.Address{}) {
			return fmt.Errorf("%w: stable token already set", ErrInvalidMetadata)
		}
		r.stable = addr
	}
	r.tokens[addr] = meta
	r.order = append(r.order, addr)
	return nil
}

// Metadata returns the registered metadata for addr.
func (r *Registry) Metadata(addr common.Address) (Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.tokens[addr]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return meta, nil
}

// Decimals returns the cached decimal precision for addr.
func (r *Registry) Decimals(addr common.Address) (uint8, error) {
	meta, err := r.Metadata(addr)
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}

// WrappedNative returns the wrapped native token address, zero when unset.
func (r *Registry) WrappedNative() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wrapped
}

// Stable returns the stable reference token address, zero when unset.
func (r *Registry) Stable() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stable
}

// Tokens returns all registered addresses in registration order.
func (r *Registry) Tokens() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]common.Address(nil), r.order...)
}
