package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[protocol]
program_id = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
admin = "So11111111111111111111111111111111111111112"
fee_receiver = "11111111111111111111111111111111"
max_supply = 1000000000000
sweep_limit = 30

[fees]
buy_fee = 980
sell_fee = 985
buy_fee_leverage = 5

[server]
listen_addr = ":9000"
sweep_interval = "30s"

[storage]
use_memory = true

[custody.wallets]
So11111111111111111111111111111111111111112 = 5000000000000

[log]
level = "debug"
format = "console"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, "ledger.toml", sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint64(980), cfg.Fees.BuyFee)
	assert.Equal(t, uint64(5), cfg.FeeParams().BuyFeeLeverage)
	assert.Equal(t, 30, cfg.Protocol.SweepLimit)
	assert.Equal(t, uint64(1_000_000_000_000), cfg.Protocol.MaxSupply)
	assert.Equal(t, 30*time.Second, cfg.Server.SweepInterval)
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)

	// defaults survive for keys the file omits
	assert.Equal(t, uint8(9), cfg.Protocol.Decimals)
	assert.Equal(t, uint64(20), cfg.Protocol.ReferralSharePercent)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, time.Minute, cfg.Server.SignatureWindow)
	assert.False(t, cfg.Server.InsecureSkipAuth)

	addrs, err := cfg.Addresses()
	require.NoError(t, err)
	assert.Equal(t, "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", addrs.ProgramID.String())
	assert.True(t, addrs.FeeReceiver.IsZero())

	wallets, err := cfg.Wallets()
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000_000_000), wallets[addrs.Admin])
}

func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeFile(t, "ledger.toml", "[fees]\nbuy_fe = 980\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://u:p@db:5432/ledger")
	t.Setenv("LISTEN_ADDR", ":7000")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(writeFile(t, "ledger.toml", sample))
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/ledger", cfg.Storage.PostgresDSN)
	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv("CLICKHOUSE_DSN", "clickhouse://existing/db")
	t.Setenv("SOLANA_RPC_ENDPOINT", "")

	path := writeFile(t, ".env", `
# comment
CLICKHOUSE_DSN=clickhouse://from-file/db
SOLANA_RPC_ENDPOINT="https://rpc.example"
not a pair
`)
	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "clickhouse://existing/db", os.Getenv("CLICKHOUSE_DSN"), "existing env wins")
	assert.Equal(t, "https://rpc.example", os.Getenv("SOLANA_RPC_ENDPOINT"))

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(writeFile(t, "ledger.toml", sample))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"buy fee too low", func(c *Config) { c.Fees.BuyFee = 900 }},
		{"sell fee too high", func(c *Config) { c.Fees.SellFee = 999 }},
		{"leverage fee too high", func(c *Config) { c.Fees.BuyFeeLeverage = 26 }},
		{"referral share", func(c *Config) { c.Protocol.ReferralSharePercent = 101 }},
		{"negative sweep limit", func(c *Config) { c.Protocol.SweepLimit = -1 }},
		{"bad admin", func(c *Config) { c.Protocol.Admin = "not-base58-0OIl" }},
		{"missing program", func(c *Config) { c.Protocol.ProgramID = "" }},
		{"bad wallet", func(c *Config) { c.Custody.Wallets = map[string]uint64{"0OIl": 1} }},
		{"postgres required", func(c *Config) { c.Storage.UseMemory = false }},
		{"zero sweep interval", func(c *Config) { c.Server.SweepInterval = 0 }},
		{"zero signature window", func(c *Config) { c.Server.SignatureWindow = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "test").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"test"`)

	_, err = LogConfig{Level: "loud"}.NewLogger(&buf)
	assert.Error(t, err)
}
