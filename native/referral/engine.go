package referral

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dualstake/core/types"
	nativecommon "dualstake/native/common"
)

var (
	errNilState          = errors.New("referral engine: state not configured")
	errNilCustodian      = errors.New("referral engine: custodian not configured")
	ErrNothingToWithdraw = errors.New("referral: nothing to withdraw")
	ErrInvalidParams     = errors.New("referral: invalid params")
)

const moduleName = "referral"

// percentBase is the fixed-point basis for level percentages: 1e8 == 100%.
var percentBase = big.NewInt(100_000_000)

// maxDepthCap is the hard ceiling on the inviter-chain walk, independent of
// configuration. The original accumulator recursed without bound; the walk
// here is iterative and capped.
const maxDepthCap = 10

var (
	inviterPrefix = []byte("referral/inviter/")
	rewardPrefix  = []byte("referral/reward/")
	earnedPrefix  = []byte("referral/earned/")
)

func inviterKey(addr common.Address) []byte {
	return append(append([]byte(nil), inviterPrefix...), addr.Bytes()...)
}

func rewardKey(addr common.Address) []byte {
	return append(append([]byte(nil), rewardPrefix...), addr.Bytes()...)
}

func earnedKey(addr common.Address) []byte {
	return append(append([]byte(nil), earnedPrefix...), addr.Bytes()...)
}

// Params configures the commission schedule. Levels holds the per-level
// percentage of the reported profit (1e8 basis); entry 0 pays the direct
// inviter.
type Params struct {
	Enabled bool
	Levels  []uint64
}

// Validate checks the schedule stays within the fixed-point basis.
func (p Params) Validate() error {
	if len(p.Levels) > maxDepthCap {
		return fmt.Errorf("%w: more than %d levels", ErrInvalidParams, maxDepthCap)
	}
	for i, pct := range p.Levels {
		if pct > percentBase.Uint64() {
			return fmt.Errorf("%w: level %d above 100%%", ErrInvalidParams, i)
		}
	}
	return nil
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	AppendEvent(evt *types.Event)
}

// Custodian is the vault surface the referral module draws rewards from.
type Custodian interface {
	WithdrawTokens(caller, tok, to common.Address, amount *big.Int) error
}

// Engine accumulates multi-level commissions on reported trading profit.
// Earn is deliberately forgiving: conditions like a disabled schedule, a zero
// profit, or self-referral are silent skips, never failures, so the position
// engine can fire-and-forget its commission reports.
type Engine struct {
	state         engineState
	custodian     Custodian
	stableToken   common.Address
	moduleAddress common.Address
	params        Params
	pauses        nativecommon.PauseView
}

// NewEngine constructs a referral engine paying rewards in the stable token.
// The module address is the capability holder used when drawing on the vault.
func NewEngine(moduleAddress, stableToken common.Address, params Params) *Engine {
	return &Engine{moduleAddress: moduleAddress, stableToken: stableToken, params: params}
}

// SetState wires the engine to the current state transaction.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustodian wires the vault the engine withdraws accrued rewards from.
func (e *Engine) SetCustodian(c Custodian) { e.custodian = c }

// SetPauses wires the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// InviterOf returns the recorded inviter for user, zero when unbound.
func (e *Engine) InviterOf(user common.Address) (common.Address, error) {
	if e == nil || e.state == nil {
		return common.Address{}, errNilState
	}
	var stored []byte
	ok, err := e.state.KVGet(inviterKey(user), &stored)
	if err != nil || !ok {
		return common.Address{}, err
	}
	return common.BytesToAddress(stored), nil
}

// RewardBalance returns the withdrawable reward balance of addr.
func (e *Engine) RewardBalance(addr common.Address) (*big.Int, error) {
	return e.loadAmount(rewardKey(addr))
}

// TotalEarned returns the lifetime accrued rewards of addr.
func (e *Engine) TotalEarned(addr common.Address) (*big.Int, error) {
	return e.loadAmount(earnedKey(addr))
}

func (e *Engine) loadAmount(key []byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	amount := new(big.Int)
	ok, err := e.state.KVGet(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// Earn reports a commission base for user and accrues rewards up the inviter
// chain. The inviter argument only matters for a user with no recorded
// relationship: the first report wins and later inviters are ignored. The
// walk is iterative with a hard depth cap and stops at the first account
// without an inviter.
func (e *Engine) Earn(user common.Address, profit *big.Int, inviter common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	// Silent skips, per the payout ledger's contract.
	if !e.params.Enabled {
		return nil
	}
	if profit == nil || profit.Sign() <= 0 {
		return nil
	}
	if err := e.bind(user, inviter); err != nil {
		return err
	}

	depth := len(e.params.Levels)
	if depth > maxDepthCap {
		depth = maxDepthCap
	}
	current := user
	for level := 0; level < depth; level++ {
		next, err := e.InviterOf(current)
		if err != nil {
			return err
		}
		if next == (common.Address{}) {
			return nil
		}
		pct := e.params.Levels[level]
		if pct > 0 {
			reward := new(big.Int).Mul(profit, new(big.Int).SetUint64(pct))
			reward.Quo(reward, percentBase)
			if reward.Sign() > 0 {
				if err := e.accrue(next, reward); err != nil {
					return err
				}
				e.state.AppendEvent(newAccruedEvent(next, user, level, reward))
			}
		}
		current = next
	}
	return nil
}

// bind records user -> inviter when the user has no relationship yet.
// Self-referral and an empty inviter are silent skips.
func (e *Engine) bind(user, inviter common.Address) error {
	if inviter == (common.Address{}) || inviter == user {
		return nil
	}
	existing, err := e.InviterOf(user)
	if err != nil {
		return err
	}
	if existing != (common.Address{}) {
		return nil
	}
	if err := e.state.KVPut(inviterKey(user), inviter.Bytes()); err != nil {
		return err
	}
	e.state.AppendEvent(newBoundEvent(user, inviter))
	return nil
}

func (e *Engine) accrue(addr common.Address, reward *big.Int) error {
	balance, err := e.loadAmount(rewardKey(addr))
	if err != nil {
		return err
	}
	if err := e.state.KVPut(rewardKey(addr), new(big.Int).Add(balance, reward)); err != nil {
		return err
	}
	earned, err := e.loadAmount(earnedKey(addr))
	if err != nil {
		return err
	}
	return e.state.KVPut(earnedKey(addr), new(big.Int).Add(earned, reward))
}

// WithdrawRewards pays the caller's accrued balance out of the vault in the
// stable token and resets the balance. An empty balance is an error, not a
// skip: the caller asked for money that is not there.
func (e *Engine) WithdrawRewards(caller common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.custodian == nil {
		return nil, errNilCustodian
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	balance, err := e.loadAmount(rewardKey(caller))
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	if err := e.custodian.WithdrawTokens(e.moduleAddress, e.stableToken, caller, balance); err != nil {
		return nil, err
	}
	if err := e.state.KVPut(rewardKey(caller), big.NewInt(0)); err != nil {
		return nil, err
	}
	e.state.AppendEvent(newWithdrawnEvent(caller, balance))
	return balance, nil
}
