package dual

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	positionPrefix     = []byte("dual/position/")
	positionSeqKey     = []byte("dual/position/sequence")
	userIndexPrefix    = []byte("dual/user/")
	tariffPrefix       = []byte("dual/tariff/")
	tariffSeqKey       = []byte("dual/tariff/sequence")
	limitPrefix        = []byte("dual/limit/")
	limitIndexKey      = []byte("dual/limit/index")
	creationEnabledKey = []byte("dual/creation_enabled")
)

func idBytes(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func idFromBytes(raw []byte) uint64 {
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func positionKey(id uint64) []byte {
	return append(append([]byte(nil), positionPrefix...), idBytes(id)...)
}

func userIndexKey(user common.Address) []byte {
	return append(append([]byte(nil), userIndexPrefix...), user.Bytes()...)
}

func tariffKey(id uint64) []byte {
	return append(append([]byte(nil), tariffPrefix...), idBytes(id)...)
}

func limitKey(tok common.Address) []byte {
	return append(append([]byte(nil), limitPrefix...), tok.Bytes()...)
}

// Stored mirrors keep timestamps unsigned for RLP, matching the convention of
// persisting records through the KV codec.

type storedDual struct {
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
	CreatedAt          uint64
}

func toStoredDual(d *Dual) *storedDual {
	return &storedDual{
		ID:                 d.ID,
		TariffID:           d.TariffID,
		User:               d.User,
		BaseToken:          d.BaseToken,
		QuoteToken:         d.QuoteToken,
		InputBaseAmount:    cloneAmount(d.InputBaseAmount),
		InputQuoteAmount:   cloneAmount(d.InputQuoteAmount),
		StakingPeriodHours: d.StakingPeriodHours,
		YieldRate:          d.YieldRate,
		InitialPrice:       cloneAmount(d.InitialPrice),
		ClosedPrice:        cloneAmount(d.ClosedPrice),
		CreatedAt:          uint64(d.CreatedAt),
	}
}

func (s *storedDual) toDual() *Dual {
	return &Dual{
		ID:                 s.ID,
		TariffID:           s.TariffID,
		User:               s.User,
		BaseToken:          s.BaseToken,
		QuoteToken:         s.QuoteToken,
		InputBaseAmount:    cloneAmount(s.InputBaseAmount),
		InputQuoteAmount:   cloneAmount(s.InputQuoteAmount),
		StakingPeriodHours: s.StakingPeriodHours,
		YieldRate:          s.YieldRate,
		InitialPrice:       cloneAmount(s.InitialPrice),
		ClosedPrice:        cloneAmount(s.ClosedPrice),
		CreatedAt:          int64(s.CreatedAt),
	}
}

type storedTariff struct {
	ID                 uint64
	BaseToken          common.Address
	QuoteToken         common.Address
	StakingPeriodHours uint64
	YieldRate          uint64
	Enabled            bool
}

func toStoredTariff(t *Tariff) *storedTariff {
	return &storedTariff{
		ID:                 t.ID,
		BaseToken:          t.BaseToken,
		QuoteToken:         t.QuoteToken,
		StakingPeriodHours: t.StakingPeriodHours,
		YieldRate:          t.YieldRate,
		Enabled:            t.Enabled,
	}
}

func (s *storedTariff) toTariff() *Tariff {
	return &Tariff{
		ID:                 s.ID,
		BaseToken:          s.BaseToken,
		QuoteToken:         s.QuoteToken,
		StakingPeriodHours: s.StakingPeriodHours,
		YieldRate:          s.YieldRate,
		Enabled:            s.Enabled,
	}
}

type storedLimit struct {
	MinAmount *big.Int
	MaxAmount *big.Int
}
