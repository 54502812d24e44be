package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RWAVAULT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// An empty path runs on defaults plus environment (simulate mode, tests).
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RWAVAULT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "RWAVAULT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "RWAVAULT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "RWAVAULT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "RWAVAULT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "RWAVAULT_CHAIN_ID")
	setStr(&cfg.Chain.RegistryAddress, "RWAVAULT_CHAIN_REGISTRY_ADDRESS")
	setStr(&cfg.Chain.TokenAddress, "RWAVAULT_CHAIN_TOKEN_ADDRESS")
	setDuration(&cfg.Chain.ReceiptPoll, "RWAVAULT_CHAIN_RECEIPT_POLL")
	setFloat64(&cfg.Chain.GasLimitBuffer, "RWAVAULT_CHAIN_GAS_LIMIT_BUFFER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RWAVAULT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "RWAVAULT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RWAVAULT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RWAVAULT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RWAVAULT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RWAVAULT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RWAVAULT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RWAVAULT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RWAVAULT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RWAVAULT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "RWAVAULT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "RWAVAULT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RWAVAULT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RWAVAULT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RWAVAULT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RWAVAULT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RWAVAULT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PositionTTL, "RWAVAULT_REDIS_POSITION_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "RWAVAULT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RWAVAULT_S3_REGION")
	setStr(&cfg.S3.Bucket, "RWAVAULT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RWAVAULT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RWAVAULT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RWAVAULT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RWAVAULT_S3_FORCE_PATH_STYLE")

	// ── Ledger ──
	setBool(&cfg.Ledger.RequireKYC, "RWAVAULT_LEDGER_REQUIRE_KYC")
	setBool(&cfg.Ledger.RequireKYC, "REQUIRE_KYC") // front-end compatibility alias
	setDuration(&cfg.Ledger.CallTimeout, "RWAVAULT_LEDGER_CALL_TIMEOUT")
	setFloat64(&cfg.Ledger.PlatformFeePct, "RWAVAULT_LEDGER_PLATFORM_FEE_PCT")
	setFloat64(&cfg.Ledger.ExpectedROIPct, "RWAVAULT_LEDGER_EXPECTED_ROI_PCT")
	setFloat64(&cfg.Ledger.MinInvestment, "RWAVAULT_LEDGER_MIN_INVESTMENT")
	setFloat64(&cfg.Ledger.MaxInvestmentShare, "RWAVAULT_LEDGER_MAX_INVESTMENT_SHARE")
	setStringSlice(&cfg.Ledger.LockedAssets, "RWAVAULT_LEDGER_LOCKED_ASSETS")
	setStringSlice(&cfg.Ledger.Assets, "RWAVAULT_LEDGER_ASSETS")

	// ── Archive ──
	setInt(&cfg.Archive.LookbackDays, "RWAVAULT_ARCHIVE_LOOKBACK_DAYS")
	setStr(&cfg.Archive.Prefix, "RWAVAULT_ARCHIVE_PREFIX")
	setBool(&cfg.Archive.Overwrite, "RWAVAULT_ARCHIVE_OVERWRITE")

	// ── Simulate ──
	setStr(&cfg.Simulate.Account, "RWAVAULT_SIMULATE_ACCOUNT")
	setDuration(&cfg.Simulate.Latency, "RWAVAULT_SIMULATE_LATENCY")
	setFloat64(&cfg.Simulate.FailureRate, "RWAVAULT_SIMULATE_FAILURE_RATE")
	setFloat64(&cfg.Simulate.StakingAPY, "RWAVAULT_SIMULATE_STAKING_APY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RWAVAULT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RWAVAULT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "RWAVAULT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "RWAVAULT_SERVER_CORS_ORIGINS")
	setFloat64(&cfg.Server.RatePerSec, "RWAVAULT_SERVER_RATE_PER_SEC")
	setInt(&cfg.Server.RateBurst, "RWAVAULT_SERVER_RATE_BURST")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RWAVAULT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RWAVAULT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RWAVAULT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RWAVAULT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "RWAVAULT_MODE")
	setStr(&cfg.LogLevel, "RWAVAULT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
