package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
Service = "dualstake"
Env = "test"
DataDir = "./data"
CreationEnabled = true
Admins = ["0x5000000000000000000000000000000000000001"]

[Vault]
Bucket = "0x4000000000000000000000000000000000000002"

[Referral]
Enabled = true
Levels = [10000000, 5000000]

[[Token]]
Address = "0x2000000000000000000000000000000000000001"
Symbol = "BTC"
Decimals = 8

[[Token]]
Address = "0x2000000000000000000000000000000000000002"
Symbol = "USDT"
Decimals = 6
Stable = true

[[Token]]
Address = "0x2000000000000000000000000000000000000003"
Symbol = "WNAT"
Decimals = 18
WrappedNative = true

[[Tariff]]
Base = "BTC"
Quote = "USDT"
StakingPeriodHours = 24
YieldRate = 500000
Enabled = true

[[Limit]]
Token = "USDT"
Min = "1000000"
Max = "1000000000000"

[[Threshold]]
Token = "USDT"
Amount = "100000000"

[[Balance]]
Address = "0x6000000000000000000000000000000000000001"
Token = "USDT"
Amount = "50000000000"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAndValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "dualstake", cfg.Service)
	require.True(t, cfg.CreationEnabled)
	require.Len(t, cfg.Tokens, 3)
	require.Len(t, cfg.Tariffs, 1)
	require.Equal(t, uint64(24), cfg.Tariffs[0].StakingPeriodHours)
	require.Equal(t, []uint64{10_000_000, 5_000_000}, cfg.Referral.Levels)
}

func TestResolveToken(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	bySymbol, err := cfg.ResolveToken("usdt")
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x2000000000000000000000000000000000000002"), bySymbol)

	byHex, err := cfg.ResolveToken("0x2000000000000000000000000000000000000001")
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x2000000000000000000000000000000000000001"), byHex)

	_, err = cfg.ResolveToken("DOGE")
	require.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	base, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"duplicate symbol", func(c *Config) {
			c.Tokens = append(c.Tokens, TokenConfig{Address: "0x2000000000000000000000000000000000000009", Symbol: "btc", Decimals: 8})
		}},
		{"bad token address", func(c *Config) { c.Tokens[0].Address = "not-an-address" }},
		{"decimals above 18", func(c *Config) { c.Tokens[0].Decimals = 19 }},
		{"two wrapped natives", func(c *Config) {
			c.Tokens = append(c.Tokens, TokenConfig{Address: "0x2000000000000000000000000000000000000009", Symbol: "W2", Decimals: 18, WrappedNative: true})
		}},
		{"tariff unknown token", func(c *Config) { c.Tariffs[0].Base = "DOGE" }},
		{"tariff zero period", func(c *Config) { c.Tariffs[0].StakingPeriodHours = 0 }},
		{"tariff yield above basis", func(c *Config) { c.Tariffs[0].YieldRate = 100_000_001 }},
		{"limit min above max", func(c *Config) { c.Limits[0].Min = "2000000000000" }},
		{"threshold bad amount", func(c *Config) { c.Thresholds[0].Amount = "-5" }},
		{"bad admin", func(c *Config) { c.Admins = []string{"nope"} }},
		{"too many referral levels", func(c *Config) { c.Referral.Levels = make([]uint64, 11) }},
		{"referral level above 100%", func(c *Config) { c.Referral.Levels = []uint64{100_000_001} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := *base
			cfg.Tokens = append([]TokenConfig(nil), base.Tokens...)
			cfg.Tariffs = append([]TariffConfig(nil), base.Tariffs...)
			cfg.Limits = append([]LimitConfig(nil), base.Limits...)
			cfg.Thresholds = append([]ThresholdConfig(nil), base.Thresholds...)
			cfg.Admins = append([]string(nil), base.Admins...)
			cfg.Referral.Levels = append([]uint64(nil), base.Referral.Levels...)
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount("123456789012345678901234567890")
	require.NoError(t, err)
	require.Equal(t, "123456789012345678901234567890", amount.String())

	zero, err := ParseAmount("  ")
	require.NoError(t, err)
	require.Zero(t, zero.Sign())

	_, err = ParseAmount("-1")
	require.Error(t, err)
	_, err = ParseAmount("1.5")
	require.Error(t, err)
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x5000000000000000000000000000000000000001")
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x5000000000000000000000000000000000000001"), addr)

	_, err = ParseAddress("0x123")
	require.Error(t, err)
	_, err = ParseAddress("")
	require.Error(t, err)
}
