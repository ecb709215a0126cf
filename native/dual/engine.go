package dual

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dualstake/core/types"
	nativecommon "dualstake/native/common"
	"dualstake/native/token"
)

var errNilState = errors.New("dual engine: state not configured")

const moduleName = "dual"

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVList(key []byte) ([][]byte, error)
	HasRole(role string, addr common.Address) bool
	AppendEvent(evt *types.Event)
}

// PriceOracle is the pricing surface the engine consumes. Current rates stamp
// new positions; historical rates settle matured ones at exactly their
// maturity timestamp.
type PriceOracle interface {
	CurrentCrossPrice(base, quote common.Address) (*big.Int, error)
	HistoricalCrossPrice(base common.Address, baseRound uint64, quote common.Address, quoteRound uint64, ts int64) (*big.Int, error)
}

// Custodian is the vault surface the engine moves funds through.
type Custodian interface {
	DepositTokens(caller, tok, from common.Address, amount *big.Int) error
	Deposit(caller, from common.Address, amount *big.Int) error
	WithdrawTokens(caller, tok, to common.Address, amount *big.Int) error
}

// Rewards receives fire-and-forget commission reports at position-open time.
type Rewards interface {
	Earn(user common.Address, profit *big.Int, inviter common.Address) error
}

// Engine owns the tariff catalog, per-token input limits and the position
// ledger, and orchestrates the vault, oracle and referral collaborators. The
// collaborators have no knowledge of the engine; it is the sole driver.
type Engine struct {
	state         engineState
	oracle        PriceOracle
	custodian     Custodian
	rewards       Rewards
	tokens        *token.Registry
	moduleAddress common.Address
	pauses        nativecommon.PauseView
	nowFn         func() int64
}

// NewEngine constructs a position engine. The module address is the capability
// holder used when driving the custodian.
func NewEngine(moduleAddress common.Address, tokens *token.Registry) *Engine {
	return &Engine{
		moduleAddress: moduleAddress,
		tokens:        tokens,
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the current state transaction.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOracle wires the pricing collaborator.
func (e *Engine) SetOracle(oracle PriceOracle) { e.oracle = oracle }

// SetCustodian wires the vault collaborator.
func (e *Engine) SetCustodian(custodian Custodian) { e.custodian = custodian }

// SetRewards wires the referral collaborator.
func (e *Engine) SetRewards(rewards Rewards) { e.rewards = rewards }

// SetPauses wires the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) requireAdmin(caller common.Address) error {
	if !e.state.HasRole(nativecommon.RoleAdmin, caller) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// --- Tariff catalog ---

func (e *Engine) nextSequence(key []byte, start uint64) (uint64, error) {
	var next uint64
	ok, err := e.state.KVGet(key, &next)
	if err != nil {
		return 0, err
	}
	if !ok {
		next = start
	}
	if err := e.state.KVPut(key, next+1); err != nil {
		return 0, err
	}
	return next, nil
}

// AddTariff appends a pair configuration to the catalog and returns its
// permanent identifier. Tariff IDs start at 1; 0 is reserved as the "reuse the
// settled tariff" sentinel on replay.
func (e *Engine) AddTariff(caller common.Address, t *Tariff) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if err := e.requireAdmin(caller); err != nil {
		return 0, err
	}
	if t == nil || t.BaseToken == t.QuoteToken || t.StakingPeriodHours == 0 {
		return 0, ErrInvalidTariff
	}
	if _, err := e.tokens.Metadata(t.BaseToken); err != nil {
		return 0, fmt.Errorf("%w: base: %v", ErrInvalidTariff, err)
	}
	if _, err := e.tokens.Metadata(t.QuoteToken); err != nil {
		return 0, fmt.Errorf("%w: quote: %v", ErrInvalidTariff, err)
	}
	if t.YieldRate == 0 || t.YieldRate > YieldBase {
		return 0, fmt.Errorf("%w: yield rate", ErrInvalidTariff)
	}
	id, err := e.nextSequence(tariffSeqKey, 1)
	if err != nil {
		return 0, err
	}
	stored := toStoredTariff(t)
	stored.ID = id
	// New entries always start enabled; disabling is a separate, explicit step.
	stored.Enabled = true
	if err := e.state.KVPut(tariffKey(id), stored); err != nil {
		return 0, err
	}
	e.state.AppendEvent(newTariffAddedEvent(stored.toTariff()))
	return id, nil
}

// SetTariffEnabled flips the enabled flag; the entry is never removed.
func (e *Engine) SetTariffEnabled(caller common.Address, id uint64, enabled bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	stored := new(storedTariff)
	ok, err := e.state.KVGet(tariffKey(id), stored)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrTariffNotFound, id)
	}
	stored.Enabled = enabled
	if err := e.state.KVPut(tariffKey(id), stored); err != nil {
		return err
	}
	e.state.AppendEvent(newTariffUpdatedEvent(stored.toTariff()))
	return nil
}

// Tariff loads a catalog entry by ID.
func (e *Engine) Tariff(id uint64) (*Tariff, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	stored := new(storedTariff)
	ok, err := e.state.KVGet(tariffKey(id), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTariffNotFound, id)
	}
	return stored.toTariff(), nil
}

// Tariffs returns the full catalog in append order.
func (e *Engine) Tariffs() ([]*Tariff, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var next uint64
	ok, err := e.state.KVGet(tariffSeqKey, &next)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	out := make([]*Tariff, 0, next-1)
	for id := uint64(1); id < next; id++ {
		t, err := e.Tariff(id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// EnabledTariffs filters the catalog to enabled entries. IDs are stable across
// the filter: disabling an entry leaves every other ID untouched.
func (e *Engine) EnabledTariffs() ([]*Tariff, error) {
	all, err := e.Tariffs()
	if err != nil {
		return nil, err
	}
	out := make([]*Tariff, 0, len(all))
	for _, t := range all {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

// --- Input limits ---

// UpdateLimit registers or overwrites a token's input bounds. Registration
// into the enumeration happens on first write regardless of the stored
// values.
func (e *Engine) UpdateLimit(caller, tok common.Address, min, max *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if min == nil || max == nil || min.Sign() < 0 || min.Cmp(max) > 0 {
		return ErrInvalidLimit
	}
	registered, err := e.state.KVGet(limitKey(tok), nil)
	if err != nil {
		return err
	}
	if !registered {
		if err := e.state.KVAppend(limitIndexKey, tok.Bytes()); err != nil {
			return err
		}
	}
	stored := &storedLimit{MinAmount: cloneAmount(min), MaxAmount: cloneAmount(max)}
	if err := e.state.KVPut(limitKey(tok), stored); err != nil {
		return err
	}
	e.state.AppendEvent(newLimitUpdatedEvent(tok, min, max))
	return nil
}

// Limit loads a token's input bounds; unregistered tokens report {0, 0},
// which rejects every positive amount.
func (e *Engine) Limit(tok common.Address) (*Limit, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	stored := new(storedLimit)
	ok, err := e.state.KVGet(limitKey(tok), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Limit{MinAmount: big.NewInt(0), MaxAmount: big.NewInt(0)}, nil
	}
	return &Limit{MinAmount: cloneAmount(stored.MinAmount), MaxAmount: cloneAmount(stored.MaxAmount)}, nil
}

// LimitTokens enumerates every token a limit was ever registered for.
func (e *Engine) LimitTokens() ([]common.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	raw, err := e.state.KVList(limitIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		out = append(out, common.BytesToAddress(entry))
	}
	return out, nil
}

// --- Global switch ---

// CreationEnabled reports the protocol-wide creation switch.
func (e *Engine) CreationEnabled() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	var enabled bool
	ok, err := e.state.KVGet(creationEnabledKey, &enabled)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return enabled, nil
}

// SetCreationEnabled toggles the protocol-wide creation switch.
func (e *Engine) SetCreationEnabled(caller common.Address, enabled bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	return e.state.KVPut(creationEnabledKey, enabled)
}

// --- Position lifecycle ---

// Get loads a position by ID.
func (e *Engine) Get(id uint64) (*Dual, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	stored := new(storedDual)
	ok, err := e.state.KVGet(positionKey(id), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return stored.toDual(), nil
}

func (e *Engine) put(d *Dual) error {
	return e.state.KVPut(positionKey(d.ID), toStoredDual(d))
}

func (e *Engine) validateCreate(tariff *Tariff, inputToken common.Address, amount *big.Int) error {
	enabled, err := e.CreationEnabled()
	if err != nil {
		return err
	}
	if !enabled {
		return ErrCreationDisabled
	}
	if !tariff.Enabled {
		return fmt.Errorf("%w: %d", ErrTariffDisabled, tariff.ID)
	}
	if !tariff.PairMember(inputToken) {
		return ErrInvalidPairToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	limit, err := e.Limit(inputToken)
	if err != nil {
		return err
	}
	if !limit.Contains(amount) {
		return fmt.Errorf("%w: %s", ErrAmountOutOfBounds, amount.String())
	}
	return nil
}

// newPosition persists a freshly opened position, indexes it for its owner and
// reports the commission base to the referral collaborator. The caller has
// already moved (or retained) the input funds.
func (e *Engine) newPosition(tariff *Tariff, user, inputToken common.Address, amount, initialPrice *big.Int, inviter common.Address) (uint64, error) {
	id, err := e.nextSequence(positionSeqKey, 0)
	if err != nil {
		return 0, err
	}
	d := &Dual{
		ID:                 id,
		TariffID:           tariff.ID,
		User:               user,
		BaseToken:          tariff.BaseToken,
		QuoteToken:         tariff.QuoteToken,
		InputBaseAmount:    big.NewInt(0),
		InputQuoteAmount:   big.NewInt(0),
		StakingPeriodHours: tariff.StakingPeriodHours,
		YieldRate:          tariff.YieldRate,
		InitialPrice:       cloneAmount(initialPrice),
		ClosedPrice:        big.NewInt(0),
		CreatedAt:          e.now(),
	}
	if inputToken == tariff.QuoteToken {
		d.InputQuoteAmount = cloneAmount(amount)
	} else {
		d.InputBaseAmount = cloneAmount(amount)
	}
	if err := e.put(d); err != nil {
		return 0, err
	}
	if err := e.state.KVAppend(userIndexKey(user), idBytes(id)); err != nil {
		return 0, err
	}
	e.state.AppendEvent(newCreatedEvent(d))
	if err := e.reportCommission(d, inviter); err != nil {
		return 0, err
	}
	return id, nil
}

// reportCommission converts the expected yield on the input into the stable
// reference token at current rates and reports it to the referral ledger. The
// base is the expected profit at open time, not the realised payout.
func (e *Engine) reportCommission(d *Dual, inviter common.Address) error {
	if e.rewards == nil {
		return nil
	}
	stable := e.tokens.Stable()
	if stable == (common.Address{}) {
		return ErrNoStableToken
	}
	inputToken := d.InputToken()
	price, err := e.oracle.CurrentCrossPrice(inputToken, stable)
	if err != nil {
		return err
	}
	inputDecimals, err := e.tokens.Decimals(inputToken)
	if err != nil {
		return err
	}
	stableAmount := new(big.Int).Mul(d.InputAmount(), price)
	stableAmount.Quo(stableAmount, pow10(inputDecimals))
	profit := new(big.Int).Mul(stableAmount, new(big.Int).SetUint64(d.YieldRate))
	profit.Quo(profit, big.NewInt(YieldBase))
	return e.rewards.Earn(d.User, profit, inviter)
}

// Create opens a position: funds are pulled into the vault, the current cross
// price is locked in as the initial price, and the commission base is
// reported. Only the owner themselves or an administrator may open a position
// for a user.
func (e *Engine) Create(caller common.Address, tariffID uint64, user, inputToken common.Address, amount *big.Int, inviter common.Address) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if caller != user {
		if err := e.requireAdmin(caller); err != nil {
			return 0, err
		}
	}
	tariff, err := e.Tariff(tariffID)
	if err != nil {
		return 0, err
	}
	if err := e.validateCreate(tariff, inputToken, amount); err != nil {
		return 0, err
	}
	if err := e.custodian.DepositTokens(e.moduleAddress, inputToken, user, amount); err != nil {
		return 0, err
	}
	initialPrice, err := e.oracle.CurrentCrossPrice(tariff.BaseToken, tariff.QuoteToken)
	if err != nil {
		return 0, err
	}
	return e.newPosition(tariff, user, inputToken, amount, initialPrice, inviter)
}

// CreateNative opens a position funded with raw native currency. The input is
// implicitly the wrapped native token; validation and limits are identical to
// Create.
func (e *Engine) CreateNative(caller common.Address, tariffID uint64, user common.Address, amount *big.Int, inviter common.Address) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if caller != user {
		if err := e.requireAdmin(caller); err != nil {
			return 0, err
		}
	}
	wrapped := e.tokens.WrappedNative()
	if wrapped == (common.Address{}) {
		return 0, token.ErrNoWrappedNative
	}
	tariff, err := e.Tariff(tariffID)
	if err != nil {
		return 0, err
	}
	if err := e.validateCreate(tariff, wrapped, amount); err != nil {
		return 0, err
	}
	if err := e.custodian.Deposit(e.moduleAddress, user, amount); err != nil {
		return 0, err
	}
	initialPrice, err := e.oracle.CurrentCrossPrice(tariff.BaseToken, tariff.QuoteToken)
	if err != nil {
		return 0, err
	}
	return e.newPosition(tariff, user, wrapped, amount, initialPrice, inviter)
}

// close is the single irrevocable settlement step shared by Claim and Replay:
// it verifies maturity, verifies the position is unsettled, and records the
// historical cross price at exactly the maturity timestamp.
func (e *Engine) close(d *Dual, baseRound, quoteRound uint64) error {
	if d.Settled() {
		return fmt.Errorf("%w: %d", ErrAlreadyClaimed, d.ID)
	}
	if e.now() < d.FinishAt() {
		return fmt.Errorf("%w: %d", ErrNotFinishedYet, d.ID)
	}
	closed, err := e.oracle.HistoricalCrossPrice(d.BaseToken, baseRound, d.QuoteToken, quoteRound, d.FinishAt())
	if err != nil {
		return err
	}
	// A zero price would leave the position reading as unsettled forever.
	if closed == nil || closed.Sign() == 0 {
		return fmt.Errorf("%w: %d", ErrZeroClosedPrice, d.ID)
	}
	d.ClosedPrice = closed
	return e.put(d)
}

// output derives the settlement payout from the closed price against the
// initial price. Quote at or above open means the payout is quote-denominated;
// below means base-denominated. Conversions always use the rate locked in at
// open, and yield is simple interest on the converted amount.
func (e *Engine) output(d *Dual) (common.Address, *big.Int, error) {
	if d.InitialPrice == nil || d.InitialPrice.Sign() == 0 {
		return common.Address{}, nil, fmt.Errorf("dual: zero initial price on %d", d.ID)
	}
	baseDecimals, err := e.tokens.Decimals(d.BaseToken)
	if err != nil {
		return common.Address{}, nil, err
	}
	var outToken common.Address
	amount := new(big.Int)
	if d.ClosedPrice.Cmp(d.InitialPrice) >= 0 {
		outToken = d.QuoteToken
		if d.InputQuoteAmount.Sign() > 0 {
			amount.Set(d.InputQuoteAmount)
		} else {
			amount.Mul(d.InputBaseAmount, d.InitialPrice)
			amount.Quo(amount, pow10(baseDecimals))
		}
	} else {
		outToken = d.BaseToken
		if d.InputBaseAmount.Sign() > 0 {
			amount.Set(d.InputBaseAmount)
		} else {
			amount.Mul(d.InputQuoteAmount, pow10(baseDecimals))
			amount.Quo(amount, d.InitialPrice)
		}
	}
	yield := new(big.Int).Mul(amount, new(big.Int).SetUint64(d.YieldRate))
	yield.Quo(yield, big.NewInt(YieldBase))
	return outToken, amount.Add(amount, yield), nil
}

func (e *Engine) authorizeOwner(caller common.Address, d *Dual) error {
	if caller == d.User {
		return nil
	}
	return e.requireAdmin(caller)
}

// Claim settles a matured position and pushes the derived payout out of the
// vault to the owner.
func (e *Engine) Claim(caller common.Address, id, baseRound, quoteRound uint64) (common.Address, *big.Int, error) {
	if e == nil || e.state == nil {
		return common.Address{}, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return common.Address{}, nil, err
	}
	d, err := e.Get(id)
	if err != nil {
		return common.Address{}, nil, err
	}
	if err := e.authorizeOwner(caller, d); err != nil {
		return common.Address{}, nil, err
	}
	if err := e.close(d, baseRound, quoteRound); err != nil {
		return common.Address{}, nil, err
	}
	outToken, outAmount, err := e.output(d)
	if err != nil {
		return common.Address{}, nil, err
	}
	if err := e.custodian.WithdrawTokens(e.moduleAddress, outToken, d.User, outAmount); err != nil {
		return common.Address{}, nil, err
	}
	e.state.AppendEvent(newClaimedEvent(d, outToken, outAmount))
	return outToken, outAmount, nil
}

// Replay settles a matured position and immediately re-invests its payout as
// the input of a brand-new position, without funds leaving custody. A zero
// tariffID reuses the settled position's tariff; a different tariff must
// reference the same ordered pair so the carried-over price stays in the same
// units. Replay never attributes a new referral relationship.
func (e *Engine) Replay(caller common.Address, id, tariffID, baseRound, quoteRound uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	d, err := e.Get(id)
	if err != nil {
		return 0, err
	}
	if err := e.authorizeOwner(caller, d); err != nil {
		return 0, err
	}
	if tariffID == 0 {
		tariffID = d.TariffID
	}
	tariff, err := e.Tariff(tariffID)
	if err != nil {
		return 0, err
	}
	if tariff.BaseToken != d.BaseToken || tariff.QuoteToken != d.QuoteToken {
		return 0, fmt.Errorf("%w: tariff %d", ErrReplayPairMismatch, tariffID)
	}
	if err := e.close(d, baseRound, quoteRound); err != nil {
		return 0, err
	}
	outToken, outAmount, err := e.output(d)
	if err != nil {
		return 0, err
	}
	if err := e.validateCreate(tariff, outToken, outAmount); err != nil {
		return 0, err
	}
	newID, err := e.newPosition(tariff, d.User, outToken, outAmount, d.ClosedPrice, common.Address{})
	if err != nil {
		return 0, err
	}
	e.state.AppendEvent(newReplayedEvent(d, newID, outToken, outAmount))
	return newID, nil
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
