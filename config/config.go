package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the protocol genesis/deployment file. It declares the token set,
// the tariff catalog, input limits, vault thresholds, the referral schedule
// and the administrator grants applied to a fresh state.
type Config struct {
	Service         string `toml:"Service"`
	Env             string `toml:"Env"`
	DataDir         string `toml:"DataDir"`
	CreationEnabled bool   `toml:"CreationEnabled"`

	Admins []string `toml:"Admins"`

	Vault    VaultConfig    `toml:"Vault"`
	Referral ReferralConfig `toml:"Referral"`

	Tokens     []TokenConfig     `toml:"Token"`
	Tariffs    []TariffConfig    `toml:"Tariff"`
	Limits     []LimitConfig     `toml:"Limit"`
	Thresholds []ThresholdConfig `toml:"Threshold"`
	Balances   []BalanceConfig   `toml:"Balance"`
}

type VaultConfig struct {
	Bucket string `toml:"Bucket"`
}

type ReferralConfig struct {
	Enabled bool     `toml:"Enabled"`
	Levels  []uint64 `toml:"Levels"`
}

type TokenConfig struct {
	Address       string `toml:"Address"`
	Symbol        string `toml:"Symbol"`
	Decimals      uint8  `toml:"Decimals"`
	WrappedNative bool   `toml:"WrappedNative"`
	Stable        bool   `toml:"Stable"`
}

type TariffConfig struct {
	Base               string `toml:"Base"`
	Quote              string `toml:"Quote"`
	StakingPeriodHours uint64 `toml:"StakingPeriodHours"`
	YieldRate          uint64 `toml:"YieldRate"`
	Enabled            bool   `toml:"Enabled"`
}

type LimitConfig struct {
	Token string `toml:"Token"`
	Min   string `toml:"Min"`
	Max   string `toml:"Max"`
}

type ThresholdConfig struct {
	Token  string `toml:"Token"`
	Amount string `toml:"Amount"`
}

// BalanceConfig seeds token or native holdings for local and test
// deployments. An empty Token seeds raw native currency.
type BalanceConfig struct {
	Address string `toml:"Address"`
	Token   string `toml:"Token"`
	Amount  string `toml:"Amount"`
}

// Load parses and validates the configuration at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseAddress decodes a 0x-prefixed hex address.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("config: invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

// ParseAmount decodes a base-10 big integer amount.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid amount %q", raw)
	}
	return amount, nil
}

// Validate checks internal consistency without touching any state.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil config")
	}
	symbols := make(map[string]string, len(c.Tokens))
	wrapped := 0
	stable := 0
	for _, t := range c.Tokens {
		if _, err := ParseAddress(t.Address); err != nil {
			return err
		}
		sym := strings.ToUpper(strings.TrimSpace(t.Symbol))
		if sym == "" {
			return fmt.Errorf("config: token %s missing symbol", t.Address)
		}
		if _, ok := symbols[sym]; ok {
			return fmt.Errorf("config: duplicate token symbol %s", sym)
		}
		symbols[sym] = t.Address
		if t.Decimals > 18 {
			return fmt.Errorf("config: token %s decimals above 18", sym)
		}
		if t.WrappedNative {
			wrapped++
		}
		if t.Stable {
			stable++
		}
	}
	if wrapped > 1 {
		return fmt.Errorf("config: multiple wrapped native tokens")
	}
	if stable > 1 {
		return fmt.Errorf("config: multiple stable tokens")
	}
	resolve := func(ref string) error {
		if _, err := ParseAddress(ref); err == nil {
			return nil
		}
		if _, ok := symbols[strings.ToUpper(strings.TrimSpace(ref))]; ok {
			return nil
		}
		return fmt.Errorf("config: unknown token reference %q", ref)
	}
	for i, t := range c.Tariffs {
		if err := resolve(t.Base); err != nil {
			return fmt.Errorf("tariff %d: %w", i, err)
		}
		if err := resolve(t.Quote); err != nil {
			return fmt.Errorf("tariff %d: %w", i, err)
		}
		if t.StakingPeriodHours == 0 {
			return fmt.Errorf("config: tariff %d zero staking period", i)
		}
		if t.YieldRate == 0 || t.YieldRate > 100_000_000 {
			return fmt.Errorf("config: tariff %d yield rate out of range", i)
		}
	}
	for i, l := range c.Limits {
		if err := resolve(l.Token); err != nil {
			return fmt.Errorf("limit %d: %w", i, err)
		}
		min, err := ParseAmount(l.Min)
		if err != nil {
			return fmt.Errorf("limit %d: %w", i, err)
		}
		max, err := ParseAmount(l.Max)
		if err != nil {
			return fmt.Errorf("limit %d: %w", i, err)
		}
		if min.Cmp(max) > 0 {
			return fmt.Errorf("config: limit %d min above max", i)
		}
	}
	for i, t := range c.Thresholds {
		if err := resolve(t.Token); err != nil {
			return fmt.Errorf("threshold %d: %w", i, err)
		}
		if _, err := ParseAmount(t.Amount); err != nil {
			return fmt.Errorf("threshold %d: %w", i, err)
		}
	}
	for i, b := range c.Balances {
		if _, err := ParseAddress(b.Address); err != nil {
			return fmt.Errorf("balance %d: %w", i, err)
		}
		if strings.TrimSpace(b.Token) != "" {
			if err := resolve(b.Token); err != nil {
				return fmt.Errorf("balance %d: %w", i, err)
			}
		}
		if _, err := ParseAmount(b.Amount); err != nil {
			return fmt.Errorf("balance %d: %w", i, err)
		}
	}
	if c.Vault.Bucket != "" {
		if _, err := ParseAddress(c.Vault.Bucket); err != nil {
			return err
		}
	}
	for _, admin := range c.Admins {
		if _, err := ParseAddress(admin); err != nil {
			return err
		}
	}
	if len(c.Referral.Levels) > 10 {
		return fmt.Errorf("config: referral levels above depth cap")
	}
	for i, pct := range c.Referral.Levels {
		if pct > 100_000_000 {
			return fmt.Errorf("config: referral level %d above 100%%", i)
		}
	}
	return nil
}

// ResolveToken maps a symbol or hex address reference to an address using the
// declared token set.
func (c *Config) ResolveToken(ref string) (common.Address, error) {
	if addr, err := ParseAddress(ref); err == nil {
		return addr, nil
	}
	sym := strings.ToUpper(strings.TrimSpace(ref))
	for _, t := range c.Tokens {
		if strings.ToUpper(strings.TrimSpace(t.Symbol)) == sym {
			return ParseAddress(t.Address)
		}
	}
	return common.Address{}, fmt.Errorf("config: unknown token reference %q", ref)
}
