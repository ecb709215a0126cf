package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotBound        = errors.New("oracle: token not bound")
	ErrNilSource       = errors.New("oracle: nil source")
	ErrZeroPrice       = errors.New("oracle: zero price")
	ErrPriceOutOfRange = errors.New("oracle: price out of range")
)

// DecimalsView resolves a token's own decimal precision at bind time.
type DecimalsView interface {
	Decimals(tok common.Address) (uint8, error)
}

// binding caches everything the oracle needs about a token's feed. Both
// decimal counts are captured once at bind time; the sources themselves are
// trusted to keep reporting the same precision.
type binding struct {
	source         Source
	sourceDecimals uint8
	tokenDecimals  uint8
}

// Oracle computes cross rates between registered tokens, each priced
// independently against a common reference by its bound Source.
type Oracle struct {
	mu       sync.RWMutex
	tokens   DecimalsView
	bindings map[common.Address]binding
	order    []common.Address
}

// New constructs an oracle resolving token precision through the supplied
// view.
func New(tokens DecimalsView) *Oracle {
	return &Oracle{tokens: tokens, bindings: make(map[common.Address]binding)}
}

// Bind registers or replaces the price source for a token. First-time
// bindings append the token to the enumeration; repeat bindings update in
// place without growing the list. The source's reported precision and the
// token's own precision are read once and cached. No validation of the source
// beyond a nil check is performed; garbage-in is the caller's responsibility.
func (o *Oracle) Bind(tok common.Address, src Source) error {
	if o == nil {
		return ErrNilSource
	}
	if src == nil {
		return ErrNilSource
	}
	tokenDecimals, err := o.tokens.Decimals(tok)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.bindings[tok]; !ok {
		o.order = append(o.order, tok)
	}
	o.bindings[tok] = binding{
		source:         src,
		sourceDecimals: src.Decimals(),
		tokenDecimals:  tokenDecimals,
	}
	return nil
}

// Bound returns the bound token addresses in first-bind order.
func (o *Oracle) Bound() []common.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]common.Address(nil), o.order...)
}

func (o *Oracle) binding(tok common.Address) (binding, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.bindings[tok]
	if !ok {
		return binding{}, fmt.Errorf("%w: %s", ErrNotBound, tok.Hex())
	}
	return b, nil
}

// scaleTo18 normalises a raw source answer to the canonical 18-decimal
// fixed-point form. Source precision above 18 is unsupported and the value is
// passed through unchanged.
func scaleTo18(raw *big.Int, sourceDecimals uint8) *big.Int {
	if raw == nil {
		return big.NewInt(0)
	}
	if sourceDecimals >= 18 {
		return new(big.Int).Set(raw)
	}
	return new(big.Int).Mul(raw, pow10(18-sourceDecimals))
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// crossRate rejects a zero answer on either side. A zero result would be
// indistinguishable from an unsettled position downstream, so both feeds must
// report a live price.
func crossRate(baseScaled, quoteScaled *big.Int, quoteTokenDecimals uint8) (*big.Int, error) {
	if baseScaled.Sign() == 0 || quoteScaled.Sign() == 0 {
		return nil, ErrZeroPrice
	}
	price := new(big.Int).Mul(baseScaled, pow10(quoteTokenDecimals))
	price.Quo(price, quoteScaled)
	if price.Sign() == 0 {
		return nil, ErrZeroPrice
	}
	return price, nil
}

// CurrentCrossPrice returns the latest quote-per-base rate between two bound
// tokens, expressed in the quote token's native decimal precision. This is a
// view of live feed state: no history, no staleness check.
func (o *Oracle) CurrentCrossPrice(base, quote common.Address) (*big.Int, error) {
	baseBinding, err := o.binding(base)
	if err != nil {
		return nil, err
	}
	quoteBinding, err := o.binding(quote)
	if err != nil {
		return nil, err
	}
	baseRaw, _, err := baseBinding.source.Latest()
	if err != nil {
		return nil, fmt.Errorf("oracle: base feed: %w", err)
	}
	quoteRaw, _, err := quoteBinding.source.Latest()
	if err != nil {
		return nil, fmt.Errorf("oracle: quote feed: %w", err)
	}
	return crossRate(
		scaleTo18(baseRaw, baseBinding.sourceDecimals),
		scaleTo18(quoteRaw, quoteBinding.sourceDecimals),
		quoteBinding.tokenDecimals,
	)
}

// roundAnswerAt verifies that the caller-supplied round was the feed's active
// round at the target timestamp and returns its answer. The round must exist
// (nonzero start), must have started at or before the timestamp, and its
// successor must either not exist yet or start at or after the timestamp. The
// oracle only validates the claim; locating the correct round is the caller's
// job.
func roundAnswerAt(src Source, round uint64, ts int64) (*big.Int, error) {
	answer, startedAt, err := src.Round(round)
	if err != nil {
		return nil, err
	}
	if startedAt == 0 || startedAt > ts {
		return nil, ErrPriceOutOfRange
	}
	_, nextStartedAt, err := src.Round(round + 1)
	if err != nil {
		return nil, err
	}
	if nextStartedAt != 0 && nextStartedAt < ts {
		return nil, ErrPriceOutOfRange
	}
	return answer, nil
}

// HistoricalCrossPrice computes the quote-per-base rate as of the supplied
// timestamp using caller-supplied round identifiers for each side. Each side
// is validated independently against its round bracket; any bracket miss
// fails the whole call with ErrPriceOutOfRange.
func (o *Oracle) HistoricalCrossPrice(base common.Address, baseRound uint64, quote common.Address, quoteRound uint64, ts int64) (*big.Int, error) {
	baseBinding, err := o.binding(base)
	if err != nil {
		return nil, err
	}
	quoteBinding, err := o.binding(quote)
	if err != nil {
		return nil, err
	}
	baseRaw, err := roundAnswerAt(baseBinding.source, baseRound, ts)
	if err != nil {
		return nil, err
	}
	quoteRaw, err := roundAnswerAt(quoteBinding.source, quoteRound, ts)
	if err != nil {
		return nil, err
	}
	return crossRate(
		scaleTo18(baseRaw, baseBinding.sourceDecimals),
		scaleTo18(quoteRaw, quoteBinding.sourceDecimals),
		quoteBinding.tokenDecimals,
	)
}
