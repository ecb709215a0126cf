package oracle

import (
	"math/big"
	"sort"
	"sync"
)

// Source is the per-token price feed the oracle reads. Implementations report
// observations with their own native decimal precision and expose an opaque,
// monotonically increasing round history. A round that does not exist is
// reported with a zero start timestamp rather than an error; errors are
// reserved for backend failures.
type Source interface {
	Decimals() uint8
	Latest() (answer *big.Int, startedAt int64, err error)
	Round(round uint64) (answer *big.Int, startedAt int64, err error)
}

type manualRound struct {
	answer    *big.Int
	startedAt int64
}

// ManualSource is an in-memory Source used for tests and manual overrides
// during incident response.
type ManualSource struct {
	mu       sync.RWMutex
	decimals uint8
	rounds   map[uint64]manualRound
	order    []uint64
}

// NewManualSource constructs an empty source reporting the given precision.
func NewManualSource(decimals uint8) *ManualSource {
	return &ManualSource{decimals: decimals, rounds: make(map[uint64]manualRound)}
}

// Decimals implements Source.
func (s *ManualSource) Decimals() uint8 { return s.decimals }

// SetRound records an observation under the supplied round identifier.
func (s *ManualSource) SetRound(round uint64, answer *big.Int, startedAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rounds[round]; !ok {
		s.order = append(s.order, round)
		sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	}
	stored := manualRound{startedAt: startedAt}
	if answer != nil {
		stored.answer = new(big.Int).Set(answer)
	}
	s.rounds[round] = stored
}

// Latest implements Source, returning the highest recorded round.
func (s *ManualSource) Latest() (*big.Int, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return nil, 0, nil
	}
	round := s.rounds[s.order[len(s.order)-1]]
	return cloneAnswer(round.answer), round.startedAt, nil
}

// Round implements Source. Unknown rounds report a zero start timestamp.
func (s *ManualSource) Round(round uint64) (*big.Int, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.rounds[round]
	if !ok {
		return nil, 0, nil
	}
	return cloneAnswer(stored.answer), stored.startedAt, nil
}

func cloneAnswer(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
