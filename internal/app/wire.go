package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	s3blob "github.com/mintlake/orderflow/internal/blob/s3"
	"github.com/mintlake/orderflow/internal/cache/redis"
	"github.com/mintlake/orderflow/internal/config"
	"github.com/mintlake/orderflow/internal/crypto"
	"github.com/mintlake/orderflow/internal/domain"
	"github.com/mintlake/orderflow/internal/feed"
	"github.com/mintlake/orderflow/internal/ingest"
	"github.com/mintlake/orderflow/internal/onchain"
	"github.com/mintlake/orderflow/internal/oracle"
	"github.com/mintlake/orderflow/internal/protocol"
	"github.com/mintlake/orderflow/internal/protocol/ppv2"
	"github.com/mintlake/orderflow/internal/protocol/seaport"
	"github.com/mintlake/orderflow/internal/registry"
	"github.com/mintlake/orderflow/internal/relay"
	"github.com/mintlake/orderflow/internal/split"
	"github.com/mintlake/orderflow/internal/store/postgres"
)

// Dependencies bundles every component the application modes need to operate.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Orders     domain.OrderStore
	TokenSets  domain.TokenSetStore
	Splits     domain.PaymentSplitStore
	Currencies domain.CurrencyStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Queue       domain.JobQueue
	Events      domain.EventBus
	TopBids     domain.TopBidCache

	// Registries
	Sources       *registry.Sources
	APIKeys       *registry.APIKeys
	FeeRecipients *registry.FeeRecipients

	// Blob relay
	Relay *relay.Relay

	// Engines
	Pipeline    *ingest.Pipeline
	Worker      *ingest.Worker
	Feed        *feed.Feed
	Distributor *split.Distributor
	Oracle      domain.PriceOracle
	Provider    *onchain.Provider

	// Kinds lists the registered protocol kinds, used for relay replay.
	Kinds []string
}

// needsIngest returns true for modes that run the intake pipeline.
func needsIngest(mode string) bool {
	return mode == "ingest" || mode == "full"
}

// needsDistributor returns true for modes that run split distribution.
func needsDistributor(mode string) bool {
	return mode == "distribute" || mode == "full"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Orders = postgres.NewOrderStore(pool)
	deps.TokenSets = postgres.NewTokenSetStore(pool)
	deps.Splits = postgres.NewPaymentSplitStore(pool)
	deps.Currencies = postgres.NewCurrencyStore(pool)
	royaltyStore := postgres.NewRoyaltyStore(pool)
	securityStore := postgres.NewSecurityConfigStore(pool)

	deps.Sources = registry.NewSources(postgres.NewSourceStore(pool))
	deps.APIKeys = registry.NewAPIKeys(postgres.NewAPIKeyStore(pool))
	deps.FeeRecipients = registry.NewFeeRecipients(postgres.NewFeeRecipientStore(pool))

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.Queue = redis.NewJobQueue(redisClient)
	deps.Events = redis.NewEventBus(redisClient)
	deps.TopBids = redis.NewTopBidCache(redisClient)
	quoteCache := redis.NewQuoteCache(redisClient)

	// --- S3 blob relay ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	closers = append(closers, func() { _ = s3Client.Close() })

	deps.Relay = relay.New(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client))

	// --- Chain provider ---
	provider, err := onchain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.OperatorFilterRegistry)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, provider.Close)
	deps.Provider = provider

	// --- Price oracle ---
	oracleClient := oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.APIKey)
	deps.Oracle = oracle.New(oracleClient, quoteCache, deps.RateLimiter, deps.Currencies, logger)

	// --- Payment splits ---
	splitGen := split.NewGenerator(split.Config{
		Deployer:     cfg.Split.Deployer,
		InitCodeHash: cfg.Split.InitCodeHash,
	}, deps.Splits)

	if needsDistributor(cfg.Mode) {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Split.DistributorKey,
			EncryptedKeyPath: cfg.Split.EncryptedKeyPath,
			KeyPassword:      cfg.Split.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: distributor key: %w", err)
		}
		wallet, err := crypto.NewWallet(keyHex, cfg.Chain.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: distributor wallet: %w", err)
		}

		distributor, err := split.NewDistributor(split.DistributorConfig{
			SplitMain:    cfg.Split.SplitMain,
			ThresholdUSD: decimal.NewFromFloat(cfg.Split.ThresholdUSD),
			Interval:     cfg.Split.Interval.Duration,
		}, deps.Splits, deps.LockManager, deps.Oracle, provider, wallet, deps.Events, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: distributor: %w", err)
		}
		deps.Distributor = distributor
	}

	// --- Intake pipeline ---
	if needsIngest(cfg.Mode) {
		protocols := protocol.NewRegistry(
			seaport.New(cfg.Chain.ChainID, seaport.Addresses{
				Exchange:            cfg.Protocols.Seaport.Exchange,
				ConduitController:   cfg.Protocols.Seaport.ConduitController,
				ConduitInitCodeHash: cfg.Protocols.Seaport.ConduitInitCodeHash,
				CancellationZone:    cfg.Protocols.Seaport.CancellationZone,
			}),
			ppv2.New(cfg.Chain.ChainID, cfg.Protocols.PPv2.Exchange),
		)
		deps.Kinds = protocols.Kinds()

		fees := ingest.NewFeeEngine(deps.FeeRecipients, royaltyStore, splitGen, cfg.Ingest.OrderbookFeeRecipient)
		currency := ingest.NewCurrencyNormalizer(deps.Oracle, deps.Currencies, cfg.Chain.WrappedNative)

		blocked := make(map[string]bool, len(cfg.Chain.BlockedValidators))
		for _, v := range cfg.Chain.BlockedValidators {
			blocked[strings.ToLower(v)] = true
		}
		bidCurrencies := make(map[string]bool, len(cfg.Ingest.SupportedBidCurrencies))
		for _, c := range cfg.Ingest.SupportedBidCurrencies {
			bidCurrencies[strings.ToLower(c)] = true
		}

		deps.Pipeline = ingest.New(ingest.Deps{
			Protocols: protocols,
			Orders:    deps.Orders,
			TokenSets: deps.TokenSets,

			Fees:     fees,
			Currency: currency,

			Checker:     onchain.NewChecker(provider, cfg.Chain.WrappedNative),
			Verifier:    provider,
			Filter:      provider,
			SecurityCfg: securityStore,

			TopBids: deps.TopBids,
			Queue:   deps.Queue,
			Relay:   deps.Relay,
			Events:  deps.Events,

			Sources: deps.Sources,
			APIKeys: deps.APIKeys,

			BlockedValidators:      blocked,
			SupportedBidCurrencies: bidCurrencies,

			Logger: logger,
		})

		deps.Worker = ingest.NewWorker(deps.Pipeline, deps.Queue, deps.APIKeys, cfg.Ingest.WorkerInterval.Duration, logger)

		if cfg.Feed.Enabled {
			var auth *crypto.HMACAuth
			if cfg.Feed.APIKey != "" {
				auth = &crypto.HMACAuth{Key: cfg.Feed.APIKey, Secret: cfg.Feed.APISecret}
			}
			kinds := cfg.Feed.Kinds
			if len(kinds) == 0 {
				kinds = protocols.Kinds()
			}
			deps.Feed = feed.New(cfg.Feed.WsURL, kinds, auth, deps.Queue, logger)
		}
	}

	return deps, cleanup, nil
}
