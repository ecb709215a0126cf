package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dualstake/core/types"
)

const (
	EventTypeDeposited        = "vault.deposited"
	EventTypeSwept            = "vault.swept"
	EventTypeWithdrawn        = "vault.withdrawn"
	EventTypeThresholdUpdated = "vault.threshold_updated"
)

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func newDepositedEvent(tok, from common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeDeposited, Attributes: map[string]string{
		"token":  tok.Hex(),
		"from":   from.Hex(),
		"amount": amountString(amount),
	}}
}

func newSweptEvent(tok, from common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeSwept, Attributes: map[string]string{
		"token":  tok.Hex(),
		"from":   from.Hex(),
		"amount": amountString(amount),
	}}
}

func newWithdrawnEvent(tok, to common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeWithdrawn, Attributes: map[string]string{
		"token":  tok.Hex(),
		"to":     to.Hex(),
		"amount": amountString(amount),
	}}
}

func newThresholdEvent(tok common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeThresholdUpdated, Attributes: map[string]string{
		"token":  tok.Hex(),
		"amount": amountString(amount),
	}}
}
