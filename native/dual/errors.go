package dual

import "errors"

var (
	ErrCreationDisabled   = errors.New("dual: creation disabled")
	ErrTariffNotFound     = errors.New("dual: tariff not found")
	ErrTariffDisabled     = errors.New("dual: tariff disabled")
	ErrInvalidPairToken   = errors.New("dual: input must be one of the pair")
	ErrAmountOutOfBounds  = errors.New("dual: amount out of limits")
	ErrNotFound           = errors.New("dual: not found")
	ErrNotFinishedYet     = errors.New("dual: not finished yet")
	ErrAlreadyClaimed     = errors.New("dual: already claimed")
	ErrUnauthorized       = errors.New("dual: unauthorized caller")
	ErrReplayPairMismatch = errors.New("dual: tariff pair mismatch on replay")
	ErrInvalidTariff      = errors.New("dual: invalid tariff")
	ErrInvalidLimit       = errors.New("dual: invalid limit")
	ErrInvalidAmount      = errors.New("dual: amount must be positive")
	ErrZeroClosedPrice    = errors.New("dual: zero closed price")
	ErrNoStableToken      = errors.New("dual: stable token not configured")
)
