package vault

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dualstake/core/types"
	nativecommon "dualstake/native/common"
	"dualstake/native/token"
)

var (
	errNilState      = errors.New("vault engine: state not configured")
	errNilLedger     = errors.New("vault engine: ledger not configured")
	ErrUnauthorized  = errors.New("vault: unauthorized caller")
	ErrNoBucket      = errors.New("vault: bucket not configured")
	ErrInvalidAmount = errors.New("vault: amount must be positive")
	ErrSendFailed    = errors.New("vault: native send failed")
)

const moduleName = "vault"

var (
	thresholdPrefix   = []byte("vault/threshold/")
	thresholdIndexKey = []byte("vault/threshold/index")
)

func thresholdKey(tok common.Address) []byte {
	buf := make([]byte, 0, len(thresholdPrefix)+20)
	buf = append(buf, thresholdPrefix...)
	buf = append(buf, tok.Bytes()...)
	return buf
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVList(key []byte) ([][]byte, error)
	HasRole(role string, addr common.Address) bool
	AppendEvent(evt *types.Event)
}

// Engine is the pooled custody treasury. It holds raw native currency plus
// arbitrary registered tokens under a single custody address, and redirects
// any single inbound transfer whose amount exceeds the per-token threshold to
// the external bucket reserve instead of retaining it. All fund movement is
// gated on the caller holding a custody capability; end users never reach the
// vault directly.
type Engine struct {
	state   engineState
	ledger  *token.Ledger
	address common.Address
	bucket  common.Address
	pauses  nativecommon.PauseView
}

// NewEngine constructs a vault engine custodying funds under the supplied
// address.
func NewEngine(address common.Address, ledger *token.Ledger) *Engine {
	return &Engine{address: address, ledger: ledger}
}

// SetState wires the engine to the current state transaction.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBucket configures the external reserve receiving swept transfers.
func (e *Engine) SetBucket(bucket common.Address) { e.bucket = bucket }

// SetPauses wires the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// Address returns the custody account address.
func (e *Engine) Address() common.Address { return e.address }

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

func (e *Engine) authorize(caller common.Address) error {
	if e.state.HasRole(nativecommon.RoleAdmin, caller) {
		return nil
	}
	if e.state.HasRole(nativecommon.RoleCustodian, caller) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
}

// Threshold returns the configured sweep cutoff for tok. Unregistered tokens
// report zero, which sweeps every inbound transfer.
func (e *Engine) Threshold(tok common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	threshold := new(big.Int)
	ok, err := e.state.KVGet(thresholdKey(tok), threshold)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return threshold, nil
}

// ThresholdTokens enumerates every token a threshold was ever registered for,
// in first-registration order.
func (e *Engine) ThresholdTokens() ([]common.Address, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	raw, err := e.state.KVList(thresholdIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		out = append(out, common.BytesToAddress(entry))
	}
	return out, nil
}

// UpdateThreshold registers or overwrites a token's sweep cutoff. Registration
// into the enumeration happens on first write regardless of the stored value,
// so resetting a threshold to zero never duplicates the entry.
func (e *Engine) UpdateThreshold(caller, tok common.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !e.state.HasRole(nativecommon.RoleAdmin, caller) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	registered, err := e.state.KVGet(thresholdKey(tok), nil)
	if err != nil {
		return err
	}
	if !registered {
		if err := e.state.KVAppend(thresholdIndexKey, tok.Bytes()); err != nil {
			return err
		}
	}
	if err := e.state.KVPut(thresholdKey(tok), amount); err != nil {
		return err
	}
	e.state.AppendEvent(newThresholdEvent(tok, amount))
	return nil
}

// DepositTokens pulls amount of tok from the holder into custody. Transfers
// above the token's threshold are forwarded in full to the bucket without ever
// touching vault balance; wrapped-native deposits are unwrapped immediately so
// the vault only ever holds raw native currency.
func (e *Engine) DepositTokens(caller, tok, from common.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.authorize(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	threshold, err := e.Threshold(tok)
	if err != nil {
		return err
	}
	wrapped := e.ledger.Registry().WrappedNative()
	sweep := amount.Cmp(threshold) > 0
	if sweep && e.bucket == (common.Address{}) {
		return ErrNoBucket
	}
	if sweep && tok != wrapped {
		// The entire transfer bypasses custody.
		if err := e.ledger.TransferFrom(tok, e.address, from, e.bucket, amount); err != nil {
			return err
		}
		e.state.AppendEvent(newSweptEvent(tok, from, amount))
		return nil
	}
	if err := e.ledger.TransferFrom(tok, e.address, from, e.address, amount); err != nil {
		return err
	}
	if tok == wrapped {
		if err := e.ledger.Unwrap(e.address, amount); err != nil {
			return err
		}
		if sweep {
			if err := e.sendNative(e.bucket, amount); err != nil {
				return err
			}
			e.state.AppendEvent(newSweptEvent(tok, from, amount))
			return nil
		}
	}
	e.state.AppendEvent(newDepositedEvent(tok, from, amount))
	return nil
}

// Deposit receives raw native currency from the holder. The same threshold
// sweep applies: an over-threshold deposit is forwarded in full to the bucket.
func (e *Engine) Deposit(caller, from common.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.authorize(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	wrapped := e.ledger.Registry().WrappedNative()
	if wrapped == (common.Address{}) {
		return token.ErrNoWrappedNative
	}
	threshold, err := e.Threshold(wrapped)
	if err != nil {
		return err
	}
	if err := e.ledger.NativeTransfer(from, e.address, amount); err != nil {
		return err
	}
	if amount.Cmp(threshold) > 0 {
		if e.bucket == (common.Address{}) {
			return ErrNoBucket
		}
		if err := e.sendNative(e.bucket, amount); err != nil {
			return err
		}
		e.state.AppendEvent(newSweptEvent(wrapped, from, amount))
		return nil
	}
	e.state.AppendEvent(newDepositedEvent(wrapped, from, amount))
	return nil
}

// WithdrawTokens pushes amount of tok out of custody to the recipient. For the
// wrapped native token the raw native balance is wrapped first, mirroring the
// unwrap-on-deposit convention.
func (e *Engine) WithdrawTokens(caller, tok, to common.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.authorize(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if tok == e.ledger.Registry().WrappedNative() {
		if err := e.ledger.Wrap(e.address, amount); err != nil {
			return err
		}
	}
	if err := e.ledger.Transfer(tok, e.address, to, amount); err != nil {
		return err
	}
	e.state.AppendEvent(newWithdrawnEvent(tok, to, amount))
	return nil
}

// Withdraw pushes raw native currency to the recipient. A rejected send is the
// protocol's only synchronous money-out failure and surfaces as ErrSendFailed.
func (e *Engine) Withdraw(caller, to common.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.authorize(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.sendNative(to, amount); err != nil {
		return err
	}
	e.state.AppendEvent(newWithdrawnEvent(common.Address{}, to, amount))
	return nil
}

func (e *Engine) sendNative(to common.Address, amount *big.Int) error {
	if err := e.ledger.NativeTransfer(e.address, to, amount); err != nil {
		if errors.Is(err, token.ErrNativeSendRejected) {
			return fmt.Errorf("%w: %s", ErrSendFailed, to.Hex())
		}
		return err
	}
	return nil
}
