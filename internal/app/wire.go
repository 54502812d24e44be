package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/rwavault/internal/blob/s3"
	"github.com/alanyoungcy/rwavault/internal/cache/redis"
	"github.com/alanyoungcy/rwavault/internal/chain"
	"github.com/alanyoungcy/rwavault/internal/chain/sim"
	"github.com/alanyoungcy/rwavault/internal/config"
	"github.com/alanyoungcy/rwavault/internal/crypto"
	"github.com/alanyoungcy/rwavault/internal/domain"
	"github.com/alanyoungcy/rwavault/internal/metrics"
	"github.com/alanyoungcy/rwavault/internal/notify"
	"github.com/alanyoungcy/rwavault/internal/server/handler"
	"github.com/alanyoungcy/rwavault/internal/store/memory"
	"github.com/alanyoungcy/rwavault/internal/store/postgres"
)

// Dependencies bundles every collaborator the modes need. It is built by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Account string
	Chain   domain.AssetLedger
	// Assets are tracked from startup.
	Assets []string

	// Stores
	TxStore    domain.TransactionStore
	KycStore   domain.KycStore
	AuditStore domain.AuditStore

	// Shared state; PositionCache and LockManager are nil without Redis.
	EventBus      domain.EventBus
	PositionCache domain.PositionCache
	LockManager   domain.LockManager

	// Archive mode only.
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Checks back the health endpoint.
	Checks map[string]handler.Pinger
}

func needsPostgres(mode string) bool {
	return mode == "serve" || mode == "archive"
}

// Wire constructs the concrete dependencies for cfg.Mode and returns them with
// a cleanup function that releases every opened resource.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{
		Assets:  cfg.Ledger.Assets,
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Pinger),
	}

	// --- PostgreSQL ---
	if needsPostgres(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TxStore = postgres.NewTransactionStore(pool)
		deps.KycStore = postgres.NewKycStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	} else {
		deps.TxStore = memory.NewTransactionStore()
		deps.KycStore = memory.NewKycStore()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Redis (serve only) ---
	if mode == "serve" && cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PositionCache = redis.NewPositionCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.EventBus = memory.NewEventBus()
	}

	// --- Chain ---
	switch mode {
	case "serve":
		registry, ping, err := wireRegistry(ctx, cfg, logger)
		if err != nil {
			return fail("wire: chain: %w", err)
		}
		closers = append(closers, ping.close)
		deps.Chain = registry
		deps.Account = registry.Account()
		deps.Checks["chain"] = ping.check
	case "simulate":
		ledger := sim.New(cfg.Simulate.Account, sim.Options{
			Latency:     cfg.Simulate.Latency.Duration,
			FailureRate: cfg.Simulate.FailureRate,
			StakingAPY:  decimal.NewFromFloat(cfg.Simulate.StakingAPY),
		})
		demo := seedDemo(ledger, time.Now().UTC())
		if len(deps.Assets) == 0 {
			deps.Assets = demo
		}
		deps.Chain = ledger
		deps.Account = ledger.Account()
	}

	// --- S3 archive ---
	if mode == "archive" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			deps.TxStore,
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.AuditStore,
			s3blob.ArchiverOptions{Prefix: cfg.Archive.Prefix, Overwrite: cfg.Archive.Overwrite},
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

type rpcHandle struct {
	check handler.Pinger
	close func()
}

// wireRegistry loads the signing key, dials the node and checks that it
// serves the configured chain.
func wireRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*chain.Registry, rpcHandle, error) {
	key, err := crypto.LoadKey(crypto.KeySource{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, rpcHandle{}, err
	}

	client, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, rpcHandle{}, err
	}
	remote, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, rpcHandle{}, fmt.Errorf("chain id: %w", err)
	}
	if remote.Int64() != cfg.Chain.ChainID {
		client.Close()
		return nil, rpcHandle{}, fmt.Errorf("node serves chain %s, config expects %d", remote, cfg.Chain.ChainID)
	}

	var token common.Address
	if cfg.Chain.TokenAddress != "" {
		token = common.HexToAddress(cfg.Chain.TokenAddress)
	}
	registry := chain.NewRegistry(client, crypto.NewWallet(key, big.NewInt(cfg.Chain.ChainID)), chain.RegistryConfig{
		Registry:       common.HexToAddress(cfg.Chain.RegistryAddress),
		Token:          token,
		ReceiptPoll:    cfg.Chain.ReceiptPoll.Duration,
		GasLimitBuffer: cfg.Chain.GasLimitBuffer,
	}, logger)

	return registry, rpcHandle{
		check: func(ctx context.Context) error {
			_, err := client.BlockNumber(ctx)
			return err
		},
		close: client.Close,
	}, nil
}
