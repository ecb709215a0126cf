package referral

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"dualstake/core/types"
)

const (
	EventTypeBound     = "referral.bound"
	EventTypeAccrued   = "referral.accrued"
	EventTypeWithdrawn = "referral.withdrawn"
)

func newBoundEvent(user, inviter common.Address) *types.Event {
	return &types.Event{Type: EventTypeBound, Attributes: map[string]string{
		"user":    user.Hex(),
		"inviter": inviter.Hex(),
	}}
}

func newAccruedEvent(beneficiary, origin common.Address, level int, reward *big.Int) *types.Event {
	return &types.Event{Type: EventTypeAccrued, Attributes: map[string]string{
		"beneficiary": beneficiary.Hex(),
		"origin":      origin.Hex(),
		"level":       strconv.Itoa(level),
		"reward":      reward.String(),
	}}
}

func newWithdrawnEvent(user common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeWithdrawn, Attributes: map[string]string{
		"user":   user.Hex(),
		"amount": amount.String(),
	}}
}
