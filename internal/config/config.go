// Package config loads the ledger service configuration from a TOML file,
// an optional .env file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/fees"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full service configuration.
type Config struct {
	Protocol ProtocolConfig `toml:"protocol"`
	Fees     FeesConfig     `toml:"fees"`
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Custody  CustodyConfig  `toml:"custody"`
	Solana   SolanaConfig   `toml:"solana"`
	Log      LogConfig      `toml:"log"`
}

// ProtocolConfig names the protocol accounts and supply limits.
type ProtocolConfig struct {
	ProgramID            string `toml:"program_id"`
	Admin                string `toml:"admin"`
	FeeReceiver          string `toml:"fee_receiver"`
	Decimals             uint8  `toml:"decimals"`
	MaxSupply            uint64 `toml:"max_supply"` // 0 = unlimited
	ReferralSharePercent uint64 `toml:"referral_share_percent"`
	SweepLimit           int    `toml:"sweep_limit"` // buckets per implicit sweep, 0 = unlimited
}

// FeesConfig holds the initial trading fee multipliers.
type FeesConfig struct {
	BuyFee         uint64 `toml:"buy_fee"`
	SellFee        uint64 `toml:"sell_fee"`
	BuyFeeLeverage uint64 `toml:"buy_fee_leverage"`
}

// ServerConfig configures the HTTP server and background loops.
type ServerConfig struct {
	ListenAddr      string        `toml:"listen_addr"`
	SweepInterval   time.Duration `toml:"sweep_interval"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	FeedBuffer      int           `toml:"feed_buffer"`
	// SignatureWindow bounds the X-Timestamp skew of signed operation requests.
	SignatureWindow time.Duration `toml:"signature_window"`
	// InsecureSkipAuth accepts unsigned operation requests. Local use only.
	InsecureSkipAuth bool `toml:"insecure_skip_auth"`
}

// StorageConfig selects the stores.
type StorageConfig struct {
	UseMemory     bool   `toml:"use_memory"`
	PostgresDSN   string `toml:"postgres_dsn"`
	ClickhouseDSN string `toml:"clickhouse_dsn"`
}

// CustodyConfig seeds the process-local reserve wallets.
type CustodyConfig struct {
	// Wallets maps a base58 address to its starting base-unit balance.
	Wallets map[string]uint64 `toml:"wallets"`
}

// SolanaConfig configures read-only chain reconciliation.
type SolanaConfig struct {
	RPCEndpoint string `toml:"rpc_endpoint"`
	ReserveMint string `toml:"reserve_mint"`
	TokenMint   string `toml:"token_mint"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json or console
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	f := fees.DefaultParams()
	return &Config{
		Protocol: ProtocolConfig{
			Decimals:             9,
			ReferralSharePercent: fees.DefaultReferralSharePercent,
		},
		Fees: FeesConfig{
			BuyFee:         f.BuyFee,
			SellFee:        f.SellFee,
			BuyFeeLeverage: f.BuyFeeLeverage,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			SweepInterval:   time.Minute,
			ShutdownTimeout: 10 * time.Second,
			FeedBuffer:      64,
			SignatureWindow: time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load decodes path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: unknown key %s in %s", ErrInvalidConfig, undecoded[0], path)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// envOverrides maps environment variables onto config fields.
var envOverrides = []struct {
	key   string
	apply func(c *Config, v string)
}{
	{"POSTGRES_DSN", func(c *Config, v string) { c.Storage.PostgresDSN = v }},
	{"CLICKHOUSE_DSN", func(c *Config, v string) { c.Storage.ClickhouseDSN = v }},
	{"LISTEN_ADDR", func(c *Config, v string) { c.Server.ListenAddr = v }},
	{"SOLANA_RPC_ENDPOINT", func(c *Config, v string) { c.Solana.RPCEndpoint = v }},
	{"LOG_LEVEL", func(c *Config, v string) { c.Log.Level = v }},
	{"LOG_FORMAT", func(c *Config, v string) { c.Log.Format = v }},
}

func (c *Config) applyEnv() {
	for _, o := range envOverrides {
		if v := strings.TrimSpace(os.Getenv(o.key)); v != "" {
			o.apply(c, v)
		}
	}
}

// LoadEnvFile sets variables from a KEY=VALUE file. Existing variables win.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	return nil
}

// FeeParams returns the configured fees in ledger form.
func (c *Config) FeeParams() domain.FeeParams {
	return domain.FeeParams{
		BuyFee:         c.Fees.BuyFee,
		SellFee:        c.Fees.SellFee,
		BuyFeeLeverage: c.Fees.BuyFeeLeverage,
	}
}

// Addresses holds the parsed protocol addresses.
type Addresses struct {
	ProgramID   domain.Address
	Admin       domain.Address
	FeeReceiver domain.Address
}

// Addresses parses the protocol section.
func (c *Config) Addresses() (Addresses, error) {
	var a Addresses
	var err error
	if a.ProgramID, err = domain.ParseAddress(c.Protocol.ProgramID); err != nil {
		return a, fmt.Errorf("%w: protocol.program_id: %v", ErrInvalidConfig, err)
	}
	if a.Admin, err = domain.ParseAddress(c.Protocol.Admin); err != nil {
		return a, fmt.Errorf("%w: protocol.admin: %v", ErrInvalidConfig, err)
	}
	if a.FeeReceiver, err = domain.ParseAddress(c.Protocol.FeeReceiver); err != nil {
		return a, fmt.Errorf("%w: protocol.fee_receiver: %v", ErrInvalidConfig, err)
	}
	return a, nil
}

// Wallets parses the custody wallet balances.
func (c *Config) Wallets() (map[domain.Address]uint64, error) {
	out := make(map[domain.Address]uint64, len(c.Custody.Wallets))
	for k, v := range c.Custody.Wallets {
		a, err := domain.ParseAddress(k)
		if err != nil {
			return nil, fmt.Errorf("%w: custody.wallets %q: %v", ErrInvalidConfig, k, err)
		}
		out[a] = v
	}
	return out, nil
}

// Validate checks fee bounds, addresses and storage settings.
func (c *Config) Validate() error {
	if err := fees.ValidateParams(c.FeeParams()); err != nil {
		return fmt.Errorf("%w: fees: %v", ErrInvalidConfig, err)
	}
	if c.Protocol.ReferralSharePercent > 100 {
		return fmt.Errorf("%w: protocol.referral_share_percent must be at most 100", ErrInvalidConfig)
	}
	if c.Protocol.SweepLimit < 0 {
		return fmt.Errorf("%w: protocol.sweep_limit must not be negative", ErrInvalidConfig)
	}
	if c.Protocol.Decimals > 18 {
		return fmt.Errorf("%w: protocol.decimals must be at most 18", ErrInvalidConfig)
	}
	if _, err := c.Addresses(); err != nil {
		return err
	}
	if _, err := c.Wallets(); err != nil {
		return err
	}
	if !c.Storage.UseMemory && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("%w: storage.postgres_dsn is required unless use_memory is set", ErrInvalidConfig)
	}
	if c.Server.SweepInterval <= 0 {
		return fmt.Errorf("%w: server.sweep_interval must be positive", ErrInvalidConfig)
	}
	if c.Server.SignatureWindow <= 0 {
		return fmt.Errorf("%w: server.signature_window must be positive", ErrInvalidConfig)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log.format must be json or console", ErrInvalidConfig)
	}
	return nil
}

// NewLogger builds the root logger described by c.
func (c LogConfig) NewLogger(w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse log level: %w", err)
	}
	if c.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
