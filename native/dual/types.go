package dual

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// YieldBase is the fixed-point basis for yield rates: 1e8 == 100%.
const YieldBase = 100_000_000

// secondsPerHour converts tariff staking periods into maturity offsets.
const secondsPerHour = 3600

// Tariff is an enabled trading-pair configuration. IDs are assigned at append
// time, start at 1 and are never reused; disabling only flips the flag, the
// entry itself is permanent.
type Tariff struct {
	ID                 uint64
	BaseToken          common.Address
	QuoteToken         common.Address
	StakingPeriodHours uint64
	YieldRate          uint64
	Enabled            bool
}

// PairMember reports whether tok is one of the tariff's two pair members.
func (t *Tariff) PairMember(tok common.Address) bool {
	if t == nil {
		return false
	}
	return tok == t.BaseToken || tok == t.QuoteToken
}

// Clone returns a copy of the tariff.
func (t *Tariff) Clone() *Tariff {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// Limit bounds the allowed input sizes for a token on creation and replay.
type Limit struct {
	MinAmount *big.Int
	MaxAmount *big.Int
}

// Contains reports whether amount falls within [MinAmount, MaxAmount].
func (l *Limit) Contains(amount *big.Int) bool {
	if l == nil || amount == nil {
		return false
	}
	min := l.MinAmount
	if min == nil {
		min = big.NewInt(0)
	}
	max := l.MaxAmount
	if max == nil {
		max = big.NewInt(0)
	}
	return amount.Cmp(min) >= 0 && amount.Cmp(max) <= 0
}

// Clone returns a deep copy of the limit.
func (l *Limit) Clone() *Limit {
	if l == nil {
		return nil
	}
	return &Limit{MinAmount: cloneAmount(l.MinAmount), MaxAmount: cloneAmount(l.MaxAmount)}
}

// State classifies a position as derived from its authoritative fields. There
// is no stored status: Claimed follows from a nonzero closed price, the
// Opened/Closed split from maturity against the clock.
type State uint8

const (
	StateOpened State = iota
	StateClosed
	StateClaimed
)

// Dual is one structured-product position. Exactly one of InputBaseAmount and
// InputQuoteAmount is nonzero; a zero ClosedPrice means unsettled, and once
// set it never changes.
type Dual struct {
	ID                 uint64
	TariffID           uint64
	User               common.Address
	BaseToken          common.Address
	QuoteToken         common.Address
	InputBaseAmount    *big.Int
	InputQuoteAmount   *big.Int
	StakingPeriodHours uint64
	YieldRate          uint64
	InitialPrice       *big.Int
	ClosedPrice        *big.Int
	CreatedAt          int64
}

// FinishAt returns the maturity timestamp.
func (d *Dual) FinishAt() int64 {
	if d == nil {
		return 0
	}
	return d.CreatedAt + int64(d.StakingPeriodHours)*secondsPerHour
}

// Settled reports whether the position has been irrevocably closed.
func (d *Dual) Settled() bool {
	return d != nil && d.ClosedPrice != nil && d.ClosedPrice.Sign() != 0
}

// InputToken returns the asset the position was funded with.
func (d *Dual) InputToken() common.Address {
	if d == nil {
		return common.Address{}
	}
	if d.InputQuoteAmount != nil && d.InputQuoteAmount.Sign() > 0 {
		return d.QuoteToken
	}
	return d.BaseToken
}

// InputAmount returns the funded amount regardless of side.
func (d *Dual) InputAmount() *big.Int {
	if d == nil {
		return big.NewInt(0)
	}
	if d.InputQuoteAmount != nil && d.InputQuoteAmount.Sign() > 0 {
		return cloneAmount(d.InputQuoteAmount)
	}
	return cloneAmount(d.InputBaseAmount)
}

// StateAt classifies the position at the supplied time.
func (d *Dual) StateAt(now int64) State {
	if d.Settled() {
		return StateClaimed
	}
	if now >= d.FinishAt() {
		return StateClosed
	}
	return StateOpened
}

// Clone returns a deep copy of the position.
func (d *Dual) Clone() *Dual {
	if d == nil {
		return nil
	}
	clone := *d
	clone.InputBaseAmount = cloneAmount(d.InputBaseAmount)
	clone.InputQuoteAmount = cloneAmount(d.InputQuoteAmount)
	clone.InitialPrice = cloneAmount(d.InitialPrice)
	clone.ClosedPrice = cloneAmount(d.ClosedPrice)
	return &clone
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
