// Package config defines the top-level configuration for the rwavault service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RWAVAULT_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Archive  ArchiveConfig  `toml:"archive"`
	Simulate SimulateConfig `toml:"simulate"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the investor signing key. Either a raw hex key or an
// encrypted key file (geth keystore JSON or the legacy AES-GCM format).
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig points at the JSON-RPC node and the deployed registry.
type ChainConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	ChainID         int64    `toml:"chain_id"`
	RegistryAddress string   `toml:"registry_address"`
	TokenAddress    string   `toml:"token_address"`
	ReceiptPoll     duration `toml:"receipt_poll"`
	GasLimitBuffer  float64  `toml:"gas_limit_buffer"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	PositionTTL duration `toml:"position_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LedgerConfig holds action-ledger policy knobs.
type LedgerConfig struct {
	// RequireKYC=false treats every account as APPROVED (demo deployments).
	RequireKYC         bool     `toml:"require_kyc"`
	CallTimeout        duration `toml:"call_timeout"`
	PlatformFeePct     float64  `toml:"platform_fee_pct"`
	ExpectedROIPct     float64  `toml:"expected_roi_pct"`
	MinInvestment      float64  `toml:"min_investment"`
	MaxInvestmentShare float64  `toml:"max_investment_share"`
	LockedAssets       []string `toml:"locked_assets"`
	// Assets is the set of asset ids the portfolio tracks on startup.
	Assets []string `toml:"assets"`
}

// ArchiveConfig controls export of transaction history to S3.
type ArchiveConfig struct {
	// LookbackDays is how many whole UTC days before today one run exports.
	LookbackDays int    `toml:"lookback_days"`
	Prefix       string `toml:"prefix"`
	Overwrite    bool   `toml:"overwrite"`
}

// SimulateConfig tunes the in-memory registry used in simulate mode.
type SimulateConfig struct {
	Account     string   `toml:"account"`
	Latency     duration `toml:"latency"`
	FailureRate float64  `toml:"failure_rate"`
	StakingAPY  float64  `toml:"staking_apy"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RatePerSec  float64  `toml:"rate_per_sec"`
	RateBurst   int      `toml:"rate_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:         "http://localhost:8545",
			ChainID:        31337,
			ReceiptPoll:    duration{time.Second},
			GasLimitBuffer: 1.2,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "rwavault",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:     true,
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			PositionTTL: duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "rwavault-history",
			ForcePathStyle: true,
		},
		Ledger: LedgerConfig{
			RequireKYC:         true,
			CallTimeout:        duration{2 * time.Minute},
			PlatformFeePct:     2.0,
			ExpectedROIPct:     8.0,
			MinInvestment:      100,
			MaxInvestmentShare: 0.5,
		},
		Archive: ArchiveConfig{
			LookbackDays: 1,
			Prefix:       "transactions",
		},
		Simulate: SimulateConfig{
			Account:    "0x00000000000000000000000000000000000000A1",
			Latency:    duration{750 * time.Millisecond},
			StakingAPY: 8.0,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RatePerSec:  10,
			RateBurst:   20,
		},
		Notify: NotifyConfig{
			Events: []string{"tx_completed", "tx_failed"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":    true,
	"simulate": true,
	"archive":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, simulate, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet and chain are only needed when talking to a real node.
	if mode == "serve" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode serve")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if !common.IsHexAddress(c.Chain.RegistryAddress) {
			errs = append(errs, fmt.Sprintf("chain: registry_address %q is not a hex address", c.Chain.RegistryAddress))
		}
		if c.Chain.TokenAddress != "" && !common.IsHexAddress(c.Chain.TokenAddress) {
			errs = append(errs, fmt.Sprintf("chain: token_address %q is not a hex address", c.Chain.TokenAddress))
		}
		if c.Chain.GasLimitBuffer < 1 {
			errs = append(errs, "chain: gas_limit_buffer must be >= 1")
		}
	}

	if mode == "serve" || mode == "archive" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.LookbackDays < 1 {
			errs = append(errs, "archive: lookback_days must be >= 1")
		}
	}

	// Ledger
	if c.Ledger.CallTimeout.Duration <= 0 {
		errs = append(errs, "ledger: call_timeout must be > 0")
	}
	if c.Ledger.PlatformFeePct < 0 || c.Ledger.PlatformFeePct >= 100 {
		errs = append(errs, fmt.Sprintf("ledger: platform_fee_pct must be in [0,100), got %g", c.Ledger.PlatformFeePct))
	}
	if c.Ledger.ExpectedROIPct < 0 {
		errs = append(errs, "ledger: expected_roi_pct must be >= 0")
	}
	if c.Ledger.MinInvestment < 0 {
		errs = append(errs, "ledger: min_investment must be >= 0")
	}
	if c.Ledger.MaxInvestmentShare <= 0 || c.Ledger.MaxInvestmentShare > 1 {
		errs = append(errs, fmt.Sprintf("ledger: max_investment_share must be in (0,1], got %g", c.Ledger.MaxInvestmentShare))
	}

	if mode == "simulate" {
		if c.Simulate.FailureRate < 0 || c.Simulate.FailureRate >= 1 {
			errs = append(errs, fmt.Sprintf("simulate: failure_rate must be in [0,1), got %g", c.Simulate.FailureRate))
		}
		if c.Simulate.Latency.Duration < 0 {
			errs = append(errs, "simulate: latency must be >= 0")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RatePerSec < 0 {
			errs = append(errs, "server: rate_per_sec must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
