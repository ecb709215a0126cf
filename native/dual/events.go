package dual

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"dualstake/core/types"
)

const (
	EventTypeCreated       = "dual.created"
	EventTypeClaimed       = "dual.claimed"
	EventTypeReplayed      = "dual.replayed"
	EventTypeTariffAdded   = "dual.tariff.added"
	EventTypeTariffUpdated = "dual.tariff.updated"
	EventTypeLimitUpdated  = "dual.limit.updated"
)

func newCreatedEvent(d *Dual) *types.Event {
	return &types.Event{Type: EventTypeCreated, Attributes: map[string]string{
		"id":           strconv.FormatUint(d.ID, 10),
		"tariff":       strconv.FormatUint(d.TariffID, 10),
		"user":         d.User.Hex(),
		"inputToken":   d.InputToken().Hex(),
		"inputAmount":  d.InputAmount().String(),
		"initialPrice": d.InitialPrice.String(),
		"finishAt":     strconv.FormatInt(d.FinishAt(), 10),
	}}
}

func newClaimedEvent(d *Dual, outToken common.Address, outAmount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeClaimed, Attributes: map[string]string{
		"id":          strconv.FormatUint(d.ID, 10),
		"user":        d.User.Hex(),
		"closedPrice": d.ClosedPrice.String(),
		"outToken":    outToken.Hex(),
		"outAmount":   outAmount.String(),
	}}
}

func newReplayedEvent(d *Dual, newID uint64, outToken common.Address, outAmount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeReplayed, Attributes: map[string]string{
		"id":          strconv.FormatUint(d.ID, 10),
		"newId":       strconv.FormatUint(newID, 10),
		"user":        d.User.Hex(),
		"closedPrice": d.ClosedPrice.String(),
		"outToken":    outToken.Hex(),
		"outAmount":   outAmount.String(),
	}}
}

func newTariffAddedEvent(t *Tariff) *types.Event {
	return &types.Event{Type: EventTypeTariffAdded, Attributes: tariffAttributes(t)}
}

func newTariffUpdatedEvent(t *Tariff) *types.Event {
	return &types.Event{Type: EventTypeTariffUpdated, Attributes: tariffAttributes(t)}
}

func tariffAttributes(t *Tariff) map[string]string {
	return map[string]string{
		"id":      strconv.FormatUint(t.ID, 10),
		"base":    t.BaseToken.Hex(),
		"quote":   t.QuoteToken.Hex(),
		"hours":   strconv.FormatUint(t.StakingPeriodHours, 10),
		"yield":   strconv.FormatUint(t.YieldRate, 10),
		"enabled": strconv.FormatBool(t.Enabled),
	}
}

func newLimitUpdatedEvent(tok common.Address, min, max *big.Int) *types.Event {
	return &types.Event{Type: EventTypeLimitUpdated, Attributes: map[string]string{
		"token": tok.Hex(),
		"min":   min.String(),
		"max":   max.String(),
	}}
}
