package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errNilState              = errors.New("token ledger: state not configured")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrNativeSendRejected    = errors.New("token: native send rejected by recipient")
	ErrNoWrappedNative       = errors.New("token: wrapped native token not configured")
)

var (
	tokenBalancePrefix   = []byte("token/balance/")
	tokenAllowancePrefix = []byte("token/allowance/")
	nativeBalancePrefix  = []byte("native/balance/")
)

func balanceKey(tok, addr common.Address) []byte {
	buf := make([]byte, 0, len(tokenBalancePrefix)+40)
	buf = append(buf, tokenBalancePrefix...)
	buf = append(buf, tok.Bytes()...)
	buf = append(buf, addr.Bytes()...)
	return buf
}

func allowanceKey(tok, owner, spender common.Address) []byte {
	buf := make([]byte, 0, len(tokenAllowancePrefix)+60)
	buf = append(buf, tokenAllowancePrefix...)
	buf = append(buf, tok.Bytes()...)
	buf = append(buf, owner.Bytes()...)
	buf = append(buf, spender.Bytes()...)
	return buf
}

func nativeKey(addr common.Address) []byte {
	buf := make([]byte, 0, len(nativeBalancePrefix)+20)
	buf = append(buf, nativeBalancePrefix...)
	buf = append(buf, addr.Bytes()...)
	return buf
}

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger is the state-backed fungible token ledger. It models the standard
// pull (TransferFrom with prior allowance) and push (Transfer) surfaces plus
// raw native-currency balances and the wrap/unwrap bridge between the two.
type Ledger struct {
	state    ledgerState
	registry *Registry

	mu       sync.RWMutex
	rejected map[common.Address]bool
}

// NewLedger constructs a ledger over the supplied token registry.
func NewLedger(registry *Registry) *Ledger {
	return &Ledger{registry: registry, rejected: make(map[common.Address]bool)}
}

// SetState wires the ledger to the current state transaction.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// Registry returns the registry the ledger validates tokens against.
func (l *Ledger) Registry() *Registry { return l.registry }

// SetNativeRejector marks addr as refusing inbound native transfers, modelling
// a recipient that rejects funds. Used by tests exercising the vault's
// distinguished send-failure path.
func (l *Ledger) SetNativeRejector(addr common.Address, rejects bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejected[addr] = rejects
}

func (l *Ledger) rejectsNative(addr common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rejected[addr]
}

func (l *Ledger) loadAmount(key []byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	value := new(big.Int)
	ok, err := l.state.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (l *Ledger) storeAmount(key []byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return l.state.KVPut(key, amount)
}

func (l *Ledger) checkToken(tok common.Address) error {
	if l.registry == nil {
		return ErrUnknownToken
	}
	_, err := l.registry.Metadata(tok)
	return err
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// BalanceOf returns the token balance of addr.
func (l *Ledger) BalanceOf(tok, addr common.Address) (*big.Int, error) {
	if err := l.checkToken(tok); err != nil {
		return nil, err
	}
	return l.loadAmount(balanceKey(tok, addr))
}

// Mint credits freshly issued tokens to an account. Only genesis seeding and
// tests call this; the protocol itself never mints.
func (l *Ledger) Mint(tok, to common.Address, amount *big.Int) error {
	if err := l.checkToken(tok); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	balance, err := l.loadAmount(balanceKey(tok, to))
	if err != nil {
		return err
	}
	return l.storeAmount(balanceKey(tok, to), new(big.Int).Add(balance, amount))
}

// Transfer moves tokens from one holder to another.
func (l *Ledger) Transfer(tok, from, to common.Address, amount *big.Int) error {
	if err := l.checkToken(tok); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	fromBal, err := l.loadAmount(balanceKey(tok, from))
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, from.Hex())
	}
	toBal, err := l.loadAmount(balanceKey(tok, to))
	if err != nil {
		return err
	}
	if err := l.storeAmount(balanceKey(tok, from), new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.storeAmount(balanceKey(tok, to), new(big.Int).Add(toBal, amount))
}

// Approve grants spender the right to pull up to amount from owner.
func (l *Ledger) Approve(tok, owner, spender common.Address, amount *big.Int) error {
	if err := l.checkToken(tok); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.storeAmount(allowanceKey(tok, owner, spender), amount)
}

// Allowance returns the remaining pull allowance granted by owner to spender.
func (l *Ledger) Allowance(tok, owner, spender common.Address) (*big.Int, error) {
	if err := l.checkToken(tok); err != nil {
		return nil, err
	}
	return l.loadAmount(allowanceKey(tok, owner, spender))
}

// TransferFrom pulls tokens from owner to recipient on behalf of spender,
// consuming the allowance.
func (l *Ledger) TransferFrom(tok, spender, owner, to common.Address, amount *big.Int) error {
	if err := l.checkToken(tok); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	allowance, err := l.loadAmount(allowanceKey(tok, owner, spender))
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInsufficientAllowance, owner.Hex(), spender.Hex())
	}
	if err := l.Transfer(tok, owner, to, amount); err != nil {
		return err
	}
	return l.storeAmount(allowanceKey(tok, owner, spender), new(big.Int).Sub(allowance, amount))
}

// NativeBalanceOf returns the raw native-currency balance of addr.
func (l *Ledger) NativeBalanceOf(addr common.Address) (*big.Int, error) {
	return l.loadAmount(nativeKey(addr))
}

// NativeMint credits raw native currency. Genesis and test seeding only.
func (l *Ledger) NativeMint(to common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	balance, err := l.loadAmount(nativeKey(to))
	if err != nil {
		return err
	}
	return l.storeAmount(nativeKey(to), new(big.Int).Add(balance, amount))
}

// NativeTransfer moves raw native currency between accounts. Transfers to a
// recipient marked as rejecting fail with ErrNativeSendRejected before any
// balance moves.
func (l *Ledger) NativeTransfer(from, to common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	if l.rejectsNative(to) {
		return fmt.Errorf("%w: %s", ErrNativeSendRejected, to.Hex())
	}
	fromBal, err := l.loadAmount(nativeKey(from))
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, from.Hex())
	}
	toBal, err := l.loadAmount(nativeKey(to))
	if err != nil {
		return err
	}
	if err := l.storeAmount(nativeKey(from), new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.storeAmount(nativeKey(to), new(big.Int).Add(toBal, amount))
}

// Wrap converts raw native balance held by addr into the wrapped native token.
func (l *Ledger) Wrap(addr common.Address, amount *big.Int) error {
	wrapped := l.registry.WrappedNative()
	if wrapped == (common.Address{}) {
		return ErrNoWrappedNative
	}
	if err := positive(amount); err != nil {
		return err
	}
	nativeBal, err := l.loadAmount(nativeKey(addr))
	if err != nil {
		return err
	}
	if nativeBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, addr.Hex())
	}
	tokenBal, err := l.loadAmount(balanceKey(wrapped, addr))
	if err != nil {
		return err
	}
	if err := l.storeAmount(nativeKey(addr), new(big.Int).Sub(nativeBal, amount)); err != nil {
		return err
	}
	return l.storeAmount(balanceKey(wrapped, addr), new(big.Int).Add(tokenBal, amount))
}

// Unwrap converts wrapped native tokens held by addr back into raw native
// balance.
func (l *Ledger) Unwrap(addr common.Address, amount *big.Int) error {
	wrapped := l.registry.WrappedNative()
	if wrapped == (common.Address{}) {
		return ErrNoWrappedNative
	}
	if err := positive(amount); err != nil {
		return err
	}
	tokenBal, err := l.loadAmount(balanceKey(wrapped, addr))
	if err != nil {
		return err
	}
	if tokenBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, addr.Hex())
	}
	nativeBal, err := l.loadAmount(nativeKey(addr))
	if err != nil {
		return err
	}
	if err := l.storeAmount(balanceKey(wrapped, addr), new(big.Int).Sub(tokenBal, amount)); err != nil {
		return err
	}
	return l.storeAmount(nativeKey(addr), new(big.Int).Add(nativeBal, amount))
}
