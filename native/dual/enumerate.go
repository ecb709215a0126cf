package dual

import (
	"github.com/ethereum/go-ethereum/common"
)

// Enumeration helpers walk a user's position index in reverse chronological
// order (most recent first), classify each position from its authoritative
// fields at the current time, and page over the filtered subsequence with
// skip-then-take limit/offset semantics. Counting variants run the identical
// classification pass without paging; cost is linear in the user's total
// positions ever created.

// UserDualIDs returns every position ID ever created for user, oldest first.
func (e *Engine) UserDualIDs(user common.Address) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	raw, err := e.state.KVList(userIndexKey(user))
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(raw))
	for _, entry := range raw {
		out = append(out, idFromBytes(entry))
	}
	return out, nil
}

func (e *Engine) filterUserDuals(user common.Address, want State, limit, offset uint64, countOnly bool) ([]*Dual, uint64, error) {
	ids, err := e.UserDualIDs(user)
	if err != nil {
		return nil, 0, err
	}
	now := e.now()
	var matched uint64
	var page []*Dual
	for i := len(ids) - 1; i >= 0; i-- {
		d, err := e.Get(ids[i])
		if err != nil {
			return nil, 0, err
		}
		if d.StateAt(now) != want {
			continue
		}
		if !countOnly && matched >= offset && uint64(len(page)) < limit {
			page = append(page, d)
		}
		matched++
	}
	return page, matched, nil
}

// UserOpenedDuals pages the user's unsettled, not-yet-due positions.
func (e *Engine) UserOpenedDuals(user common.Address, limit, offset uint64) ([]*Dual, error) {
	page, _, err := e.filterUserDuals(user, StateOpened, limit, offset, false)
	return page, err
}

// UserClosedDuals pages the user's unsettled positions that are past maturity.
func (e *Engine) UserClosedDuals(user common.Address, limit, offset uint64) ([]*Dual, error) {
	page, _, err := e.filterUserDuals(user, StateClosed, limit, offset, false)
	return page, err
}

// UserClaimedDuals pages the user's settled positions.
func (e *Engine) UserClaimedDuals(user common.Address, limit, offset uint64) ([]*Dual, error) {
	page, _, err := e.filterUserDuals(user, StateClaimed, limit, offset, false)
	return page, err
}

// CountUserOpenedDuals counts the user's unsettled, not-yet-due positions.
func (e *Engine) CountUserOpenedDuals(user common.Address) (uint64, error) {
	_, n, err := e.filterUserDuals(user, StateOpened, 0, 0, true)
	return n, err
}

// CountUserClosedDuals counts the user's due-but-unsettled positions.
func (e *Engine) CountUserClosedDuals(user common.Address) (uint64, error) {
	_, n, err := e.filterUserDuals(user, StateClosed, 0, 0, true)
	return n, err
}

// CountUserClaimedDuals counts the user's settled positions.
func (e *Engine) CountUserClaimedDuals(user common.Address) (uint64, error) {
	_, n, err := e.filterUserDuals(user, StateClaimed, 0, 0, true)
	return n, err
}
