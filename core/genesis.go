package core

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"dualstake/config"
	nativecommon "dualstake/native/common"
	"dualstake/native/dual"
	"dualstake/state"
)

var genesisMarkerKey = []byte("core/genesis/applied")

// applyGenesis seeds a fresh database from the config: role grants, the
// tariff catalog, limits, thresholds, the creation switch and any initial
// balances. The marker key makes it a no-op on every later start, so edits
// to the genesis sections of an existing deployment's config are ignored.
func (c *Core) applyGenesis(cfg *config.Config) error {
	genesis := ModuleAddress("genesis")
	return c.state.Update(func(s *state.State) error {
		c.bind(s)

		var applied bool
		if found, err := s.KVGet(genesisMarkerKey, &applied); err != nil {
			return err
		} else if found && applied {
			return nil
		}

		// The genesis authority performs the privileged seeding calls and
		// stays granted afterwards so tests and tooling can reuse it.
		if err := s.GrantRole(nativecommon.RoleAdmin, genesis); err != nil {
			return err
		}
		for _, raw := range cfg.Admins {
			admin, err := config.ParseAddress(raw)
			if err != nil {
				return err
			}
			if err := s.GrantRole(nativecommon.RoleAdmin, admin); err != nil {
				return err
			}
		}
		// The position and referral engines move custody funds under their
		// own module addresses.
		if err := s.GrantRole(nativecommon.RoleCustodian, ModuleAddress("dual")); err != nil {
			return err
		}
		if err := s.GrantRole(nativecommon.RoleCustodian, ModuleAddress("referral")); err != nil {
			return err
		}

		for i, t := range cfg.Tariffs {
			base, err := cfg.ResolveToken(t.Base)
			if err != nil {
				return fmt.Errorf("genesis tariff %d: %w", i, err)
			}
			quote, err := cfg.ResolveToken(t.Quote)
			if err != nil {
				return fmt.Errorf("genesis tariff %d: %w", i, err)
			}
			id, err := c.duals.AddTariff(genesis, &dual.Tariff{
				BaseToken:          base,
				QuoteToken:         quote,
				StakingPeriodHours: t.StakingPeriodHours,
				YieldRate:          t.YieldRate,
			})
			if err != nil {
				return fmt.Errorf("genesis tariff %d: %w", i, err)
			}
			if !t.Enabled {
				if err := c.duals.SetTariffEnabled(genesis, id, false); err != nil {
					return fmt.Errorf("genesis tariff %d: %w", i, err)
				}
			}
		}

		for i, l := range cfg.Limits {
			tok, err := cfg.ResolveToken(l.Token)
			if err != nil {
				return fmt.Errorf("genesis limit %d: %w", i, err)
			}
			min, err := config.ParseAmount(l.Min)
			if err != nil {
				return fmt.Errorf("genesis limit %d: %w", i, err)
			}
			max, err := config.ParseAmount(l.Max)
			if err != nil {
				return fmt.Errorf("genesis limit %d: %w", i, err)
			}
			if err := c.duals.UpdateLimit(genesis, tok, min, max); err != nil {
				return fmt.Errorf("genesis limit %d: %w", i, err)
			}
		}

		for i, t := range cfg.Thresholds {
			tok, err := cfg.ResolveToken(t.Token)
			if err != nil {
				return fmt.Errorf("genesis threshold %d: %w", i, err)
			}
			amount, err := config.ParseAmount(t.Amount)
			if err != nil {
				return fmt.Errorf("genesis threshold %d: %w", i, err)
			}
			if err := c.vault.UpdateThreshold(genesis, tok, amount); err != nil {
				return fmt.Errorf("genesis threshold %d: %w", i, err)
			}
		}

		if err := c.duals.SetCreationEnabled(genesis, cfg.CreationEnabled); err != nil {
			return err
		}

		for i, b := range cfg.Balances {
			addr, err := config.ParseAddress(b.Address)
			if err != nil {
				return fmt.Errorf("genesis balance %d: %w", i, err)
			}
			amount, err := config.ParseAmount(b.Amount)
			if err != nil {
				return fmt.Errorf("genesis balance %d: %w", i, err)
			}
			if strings.TrimSpace(b.Token) == "" {
				if err := c.ledger.NativeMint(addr, amount); err != nil {
					return fmt.Errorf("genesis balance %d: %w", i, err)
				}
				continue
			}
			tok, err := cfg.ResolveToken(b.Token)
			if err != nil {
				return fmt.Errorf("genesis balance %d: %w", i, err)
			}
			if err := c.ledger.Mint(tok, addr, amount); err != nil {
				return fmt.Errorf("genesis balance %d: %w", i, err)
			}
		}

		return s.KVPut(genesisMarkerKey, true)
	})
}

// GenesisAuthority returns the built-in admin address granted at genesis.
func GenesisAuthority() common.Address {
	return ModuleAddress("genesis")
}
