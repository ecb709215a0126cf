package common

import "errors"

// ErrModulePaused is returned by Guard when operations on a module are
// administratively suspended.
var ErrModulePaused = errors.New("module paused")

// Role identifiers shared across the native modules. Roles are capability
// checks: holders of ROLE_ADMIN may drive any privileged operation, holders
// of ROLE_CUSTODIAN may move vault funds.
const (
	RoleAdmin     = "ROLE_ADMIN"
	RoleCustodian = "ROLE_CUSTODIAN"
)

// PauseView reports the pause status of a named module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the module is paused. A nil view or an
// empty module name always passes.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
