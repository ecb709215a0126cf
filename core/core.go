package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dualstake/config"
	"dualstake/core/events"
	"dualstake/core/types"
	nativecommon "dualstake/native/common"
	"dualstake/native/dual"
	"dualstake/native/oracle"
	"dualstake/native/referral"
	"dualstake/native/token"
	"dualstake/native/vault"
	"dualstake/observability"
	"dualstake/state"
	"dualstake/storage"
)

// ErrUnauthorized is returned for privileged core operations invoked by an
// address without the required capability.
var ErrUnauthorized = errors.New("core: unauthorized caller")

// Core is the protocol orchestrator. It owns the state manager and the native
// engines and exposes the protocol's entire callable surface. Every public
// operation runs inside exactly one state transaction: a failure anywhere
// unwinds the whole operation with no partial state change, and buffered
// events are only delivered after a successful commit.
type Core struct {
	log     *slog.Logger
	state   *state.Manager
	tokens  *token.Registry
	ledger  *token.Ledger
	oracle  *oracle.Oracle
	vault   *vault.Engine
	refs    *referral.Engine
	duals   *dual.Engine
	pauses  *PauseSet
	metrics *observability.CoreMetrics
}

// meterEmitter forwards events to the configured emitter while counting the
// metrics-relevant ones.
type meterEmitter struct {
	next    events.Emitter
	metrics *observability.CoreMetrics
}

func (m meterEmitter) Emit(evt *types.Event) {
	if evt != nil && evt.Type == vault.EventTypeSwept {
		m.metrics.RecordSweep()
	}
	m.next.Emit(evt)
}

// New wires a protocol core over the supplied database. The genesis content
// of cfg is applied once, on the first start against a fresh database; later
// starts reuse the persisted state. A nil logger defaults to slog.Default and
// a nil emitter discards events.
func New(cfg *config.Config, db storage.Database, logger *slog.Logger, emitter events.Emitter) (*Core, error) {
	if cfg == nil {
		return nil, errors.New("core: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}

	registry := token.NewRegistry()
	for _, t := range cfg.Tokens {
		addr, err := config.ParseAddress(t.Address)
		if err != nil {
			return nil, err
		}
		meta := token.Metadata{
			Symbol:        t.Symbol,
			Decimals:      t.Decimals,
			WrappedNative: t.WrappedNative,
			Stable:        t.Stable,
		}
		if err := registry.Register(addr, meta); err != nil {
			return nil, err
		}
	}

	metrics := observability.Metrics()
	manager := state.NewManager(db)
	manager.SetEmitter(meterEmitter{next: emitter, metrics: metrics})

	ledger := token.NewLedger(registry)
	pauses := NewPauseSet()

	vaultEngine := vault.NewEngine(ModuleAddress("vault"), ledger)
	vaultEngine.SetPauses(pauses)
	if cfg.Vault.Bucket != "" {
		bucket, err := config.ParseAddress(cfg.Vault.Bucket)
		if err != nil {
			return nil, err
		}
		vaultEngine.SetBucket(bucket)
	}

	priceOracle := oracle.New(registry)

	refEngine := referral.NewEngine(ModuleAddress("referral"), registry.Stable(), referral.Params{
		Enabled: cfg.Referral.Enabled,
		Levels:  append([]uint64(nil), cfg.Referral.Levels...),
	})
	refEngine.SetCustodian(vaultEngine)
	refEngine.SetPauses(pauses)

	dualEngine := dual.NewEngine(ModuleAddress("dual"), registry)
	dualEngine.SetOracle(priceOracle)
	dualEngine.SetCustodian(vaultEngine)
	dualEngine.SetRewards(refEngine)
	dualEngine.SetPauses(pauses)

	c := &Core{
		log:     logger,
		state:   manager,
		tokens:  registry,
		ledger:  ledger,
		oracle:  priceOracle,
		vault:   vaultEngine,
		refs:    refEngine,
		duals:   dualEngine,
		pauses:  pauses,
		metrics: metrics,
	}
	if err := c.applyGenesis(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// bind wires every engine to the supplied transaction state. Engines are
// stateless between operations; the orchestrator rebinds them on each call.
func (c *Core) bind(s *state.State) {
	c.ledger.SetState(s)
	c.vault.SetState(s)
	c.refs.SetState(s)
	c.duals.SetState(s)
}

func (c *Core) update(module, op string, fn func(s *state.State) error) error {
	err := c.state.Update(func(s *state.State) error {
		c.bind(s)
		return fn(s)
	})
	c.metrics.RecordOperation(module, op, err)
	if err != nil {
		if errors.Is(err, oracle.ErrPriceOutOfRange) {
			c.metrics.RecordRangeMiss()
		}
		c.log.Warn("operation failed", "module", module, "op", op, "error", err)
		return err
	}
	c.log.Info("operation applied", "module", module, "op", op)
	return nil
}

func (c *Core) view(fn func(s *state.State) error) error {
	return c.state.View(func(s *state.State) error {
		c.bind(s)
		return fn(s)
	})
}

// SetNowFunc overrides the position engine's time source. Test hook.
func (c *Core) SetNowFunc(now func() int64) { c.duals.SetNowFunc(now) }

// Oracle exposes the price oracle for direct read access.
func (c *Core) Oracle() *oracle.Oracle { return c.oracle }

// Pauses exposes the operator pause switchboard.
func (c *Core) Pauses() *PauseSet { return c.pauses }

// --- Administration ---

func (c *Core) requireAdmin(caller common.Address) error {
	var authorized bool
	if err := c.view(func(s *state.State) error {
		authorized = s.HasRole(nativecommon.RoleAdmin, caller)
		return nil
	}); err != nil {
		return err
	}
	if !authorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// BindAggregator binds a token's price source on the oracle. The source is a
// live collaborator, not persisted state, so bindings must be re-established
// on process start.
func (c *Core) BindAggregator(caller common.Address, tok common.Address, src oracle.Source) error {
	if err := c.requireAdmin(caller); err != nil {
		c.metrics.RecordOperation("oracle", "bind", err)
		return err
	}
	err := c.oracle.Bind(tok, src)
	c.metrics.RecordOperation("oracle", "bind", err)
	return err
}

// AddTariff appends a tariff to the catalog.
func (c *Core) AddTariff(caller common.Address, t *dual.Tariff) (uint64, error) {
	var id uint64
	err := c.update("dual", "add_tariff", func(s *state.State) error {
		var err error
		id, err = c.duals.AddTariff(caller, t)
		return err
	})
	return id, err
}

// SetTariffEnabled flips a tariff's enabled flag.
func (c *Core) SetTariffEnabled(caller common.Address, id uint64, enabled bool) error {
	return c.update("dual", "set_tariff_enabled", func(s *state.State) error {
		return c.duals.SetTariffEnabled(caller, id, enabled)
	})
}

// UpdateLimit configures a token's input bounds.
func (c *Core) UpdateLimit(caller, tok common.Address, min, max *big.Int) error {
	return c.update("dual", "update_limit", func(s *state.State) error {
		return c.duals.UpdateLimit(caller, tok, min, max)
	})
}

// SetCreationEnabled toggles the protocol-wide creation switch.
func (c *Core) SetCreationEnabled(caller common.Address, enabled bool) error {
	return c.update("dual", "set_creation_enabled", func(s *state.State) error {
		return c.duals.SetCreationEnabled(caller, enabled)
	})
}

// UpdateThreshold configures a token's vault sweep cutoff.
func (c *Core) UpdateThreshold(caller, tok common.Address, amount *big.Int) error {
	return c.update("vault", "update_threshold", func(s *state.State) error {
		return c.vault.UpdateThreshold(caller, tok, amount)
	})
}

// WithdrawVaultTokens moves custody funds out to an arbitrary recipient.
// Administrator treasury surface; end users go through Claim.
func (c *Core) WithdrawVaultTokens(caller, tok, to common.Address, amount *big.Int) error {
	return c.update("vault", "withdraw_tokens", func(s *state.State) error {
		if !s.HasRole(nativecommon.RoleAdmin, caller) {
			return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
		}
		return c.vault.WithdrawTokens(caller, tok, to, amount)
	})
}

// WithdrawVaultNative moves raw native custody funds out to a recipient.
func (c *Core) WithdrawVaultNative(caller, to common.Address, amount *big.Int) error {
	return c.update("vault", "withdraw_native", func(s *state.State) error {
		if !s.HasRole(nativecommon.RoleAdmin, caller) {
			return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
		}
		return c.vault.Withdraw(caller, to, amount)
	})
}

// --- Position lifecycle ---

// ApproveVault grants the vault a pull allowance on the owner's tokens.
// Creation pulls funds through the vault, which requires this prior approval,
// mirroring the standard token allowance flow.
func (c *Core) ApproveVault(owner, tok common.Address, amount *big.Int) error {
	return c.update("token", "approve", func(s *state.State) error {
		return c.ledger.Approve(tok, owner, c.vault.Address(), amount)
	})
}

// CreateDual opens a position funded with a token input.
func (c *Core) CreateDual(caller common.Address, tariffID uint64, user, inputToken common.Address, amount *big.Int, inviter common.Address) (uint64, error) {
	var id uint64
	err := c.update("dual", "create", func(s *state.State) error {
		var err error
		id, err = c.duals.Create(caller, tariffID, user, inputToken, amount, inviter)
		return err
	})
	return id, err
}

// CreateDualNative opens a position funded with raw native currency.
func (c *Core) CreateDualNative(caller common.Address, tariffID uint64, user common.Address, amount *big.Int, inviter common.Address) (uint64, error) {
	var id uint64
	err := c.update("dual", "create_native", func(s *state.State) error {
		var err error
		id, err = c.duals.CreateNative(caller, tariffID, user, amount, inviter)
		return err
	})
	return id, err
}

// ClaimDual settles a matured position and pays the output to its owner.
func (c *Core) ClaimDual(caller common.Address, id, baseRound, quoteRound uint64) (common.Address, *big.Int, error) {
	var outToken common.Address
	var outAmount *big.Int
	err := c.update("dual", "claim", func(s *state.State) error {
		var err error
		outToken, outAmount, err = c.duals.Claim(caller, id, baseRound, quoteRound)
		return err
	})
	return outToken, outAmount, err
}

// ReplayDual settles a matured position and reinvests its output into a new
// position without funds leaving custody.
func (c *Core) ReplayDual(caller common.Address, id, tariffID, baseRound, quoteRound uint64) (uint64, error) {
	var newID uint64
	err := c.update("dual", "replay", func(s *state.State) error {
		var err error
		newID, err = c.duals.Replay(caller, id, tariffID, baseRound, quoteRound)
		return err
	})
	return newID, err
}

// WithdrawReferralRewards pays out the caller's accrued referral balance.
func (c *Core) WithdrawReferralRewards(caller common.Address) (*big.Int, error) {
	var amount *big.Int
	err := c.update("referral", "withdraw", func(s *state.State) error {
		var err error
		amount, err = c.refs.WithdrawRewards(caller)
		return err
	})
	return amount, err
}

// --- Queries ---

// Dual loads one position.
func (c *Core) Dual(id uint64) (*dual.Dual, error) {
	var d *dual.Dual
	err := c.view(func(s *state.State) error {
		var err error
		d, err = c.duals.Get(id)
		return err
	})
	return d, err
}

// Tariffs returns the full catalog.
func (c *Core) Tariffs() ([]*dual.Tariff, error) {
	var out []*dual.Tariff
	err := c.view(func(s *state.State) error {
		var err error
		out, err = c.duals.Tariffs()
		return err
	})
	return out, err
}

// EnabledTariffs returns the enabled catalog entries with stable IDs.
func (c *Core) EnabledTariffs() ([]*dual.Tariff, error) {
	var out []*dual.Tariff
	err := c.view(func(s *state.State) error {
		var err error
		out, err = c.duals.EnabledTariffs()
		return err
	})
	return out, err
}

// Limit returns a token's input bounds.
func (c *Core) Limit(tok common.Address) (*dual.Limit, error) {
	var out *dual.Limit
	err := c.view(func(s *state.State) error {
		var err error
		out, err = c.duals.Limit(tok)
		return err
	})
	return out, err
}

// Threshold returns a token's vault sweep cutoff.
func (c *Core) Threshold(tok common.Address) (*big.Int, error) {
	var out *big.Int
	err := c.view(func(s *state.State) error {
		var err error
		out, err = c.vault.Threshold(tok)
		return err
	})
	return out, err
}

// UserOpenedDuals pages a user's open positions, most recent first.
func (c *Core) UserOpenedDuals(user common.Address, limit, offset uint64) ([]*dual.Dual, error) {
	var out []*dual.Dual
	err := c.view(func(s *state.State) error {
		var err error
		out, err = c.duals.UserOpenedDuals(user, limit, offset)
		return err
	})
	return out, err
}

// UserClosedDuals pages a user's due-but-unsettled positions.
func (c *Core) UserClosedDuals(user common.Address, limit, offset uint64) ([]*dual.Dual, error) {
	var out []*dual.Dual
	err := c.view(func(s *state.State) error {
		var err error
		out, err = c.duals.UserClosedDuals(user, limit, offset)
		return err
	})
	return out, err
}

// UserClaimedDuals pages a user's settled positions.
func (c *Core) UserClaimedDuals(user common.Address, limit, offset uint64) ([]*dual.Dual, error) {
	var out []*dual.Dual
	err := c.view(func(s *state.State) error {
		var err error
		out, err = c.duals.UserClaimedDuals(user, limit, offset)
		return err
	})
	return out, err
}

// CountUserOpenedDuals counts a user's open positions.
func (c *Core) CountUserOpenedDuals(user common.Address) (uint64, error) {
	var n uint64
	err := c.view(func(s *state.State) error {
		var err error
		n, err = c.duals.CountUserOpenedDuals(user)
		return err
	})
	return n, err
}

// CountUserClosedDuals counts a user's due-but-unsettled positions.
func (c *Core) CountUserClosedDuals(user common.Address) (uint64, error) {
	var n uint64
	err := c.view(func(s *state.State) error {
		var err error
		n, err = c.duals.CountUserClosedDuals(user)
		return err
	})
	return n, err
}

// CountUserClaimedDuals counts a user's settled positions.
func (c *Core) CountUserClaimedDuals(user common.Address) (uint64, error) {
	var n uint64
	err := c.view(func(s *state.State) error {
		var err error
		n, err = c.duals.CountUserClaimedDuals(user)
		return err
	})
	return n, err
}

// RewardBalance returns a user's withdrawable referral balance.
func (c *Core) RewardBalance(user common.Address) (*big.Int, error) {
	var out *big.Int
	err := c.view(func(s *state.State) error {
		var err error
		out, err = c.refs.RewardBalance(user)
		return err
	})
	return out, err
}

// InviterOf returns a user's recorded inviter, zero when unbound.
func (c *Core) InviterOf(user common.Address) (common.Address, error) {
	var out common.Address
	err := c.view(func(s *state.State) error {
		var err error
		out, err = c.refs.InviterOf(user)
		return err
	})
	return out, err
}

// BalanceOf returns a token balance from the ledger.
func (c *Core) BalanceOf(tok, addr common.Address) (*big.Int, error) {
	var out *big.Int
	err := c.view(func(s *state.State) error {
		var err error
		out, err = c.ledger.BalanceOf(tok, addr)
		return err
	})
	return out, err
}

// NativeBalanceOf returns a raw native balance from the ledger.
func (c *Core) NativeBalanceOf(addr common.Address) (*big.Int, error) {
	var out *big.Int
	err := c.view(func(s *state.State) error {
		var err error
		out, err = c.ledger.NativeBalanceOf(addr)
		return err
	})
	return out, err
}
