package core

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ModuleAddress derives the deterministic capability-holder address for a
// named protocol module. Module addresses have no keys; they exist so the
// role checks can treat modules and external administrators uniformly.
func ModuleAddress(name string) common.Address {
	hash := ethcrypto.Keccak256([]byte("dualstake/module/" + name))
	return common.BytesToAddress(hash[12:])
}
