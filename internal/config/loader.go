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
// built-in defaults, applies ORDERFLOW_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ORDERFLOW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "ORDERFLOW_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "ORDERFLOW_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.WrappedNative, "ORDERFLOW_CHAIN_WRAPPED_NATIVE")
	setStr(&cfg.Chain.OperatorFilterRegistry, "ORDERFLOW_CHAIN_OPERATOR_FILTER_REGISTRY")
	setStringSlice(&cfg.Chain.BlockedValidators, "ORDERFLOW_CHAIN_BLOCKED_VALIDATORS")

	// ── Protocols ──
	setStr(&cfg.Protocols.Seaport.Exchange, "ORDERFLOW_PROTOCOLS_SEAPORT_EXCHANGE")
	setStr(&cfg.Protocols.Seaport.ConduitController, "ORDERFLOW_PROTOCOLS_SEAPORT_CONDUIT_CONTROLLER")
	setStr(&cfg.Protocols.Seaport.ConduitInitCodeHash, "ORDERFLOW_PROTOCOLS_SEAPORT_CONDUIT_INIT_CODE_HASH")
	setStr(&cfg.Protocols.Seaport.CancellationZone, "ORDERFLOW_PROTOCOLS_SEAPORT_CANCELLATION_ZONE")
	setStr(&cfg.Protocols.PPv2.Exchange, "ORDERFLOW_PROTOCOLS_PPV2_EXCHANGE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ORDERFLOW_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ORDERFLOW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ORDERFLOW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ORDERFLOW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ORDERFLOW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ORDERFLOW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ORDERFLOW_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ORDERFLOW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ORDERFLOW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ORDERFLOW_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ORDERFLOW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORDERFLOW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORDERFLOW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORDERFLOW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ORDERFLOW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ORDERFLOW_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ORDERFLOW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ORDERFLOW_S3_REGION")
	setStr(&cfg.S3.Bucket, "ORDERFLOW_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ORDERFLOW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ORDERFLOW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ORDERFLOW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ORDERFLOW_S3_FORCE_PATH_STYLE")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "ORDERFLOW_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.APIKey, "ORDERFLOW_ORACLE_API_KEY")

	// ── Ingest ──
	setStringSlice(&cfg.Ingest.SupportedBidCurrencies, "ORDERFLOW_INGEST_SUPPORTED_BID_CURRENCIES")
	setStr(&cfg.Ingest.OrderbookFeeRecipient, "ORDERFLOW_INGEST_ORDERBOOK_FEE_RECIPIENT")
	setDuration(&cfg.Ingest.WorkerInterval, "ORDERFLOW_INGEST_WORKER_INTERVAL")
	setBool(&cfg.Ingest.ValidateBidValue, "ORDERFLOW_INGEST_VALIDATE_BID_VALUE")

	// ── Split ──
	setStr(&cfg.Split.Deployer, "ORDERFLOW_SPLIT_DEPLOYER")
	setStr(&cfg.Split.InitCodeHash, "ORDERFLOW_SPLIT_INIT_CODE_HASH")
	setStr(&cfg.Split.SplitMain, "ORDERFLOW_SPLIT_SPLIT_MAIN")
	setFloat64(&cfg.Split.ThresholdUSD, "ORDERFLOW_SPLIT_THRESHOLD_USD")
	setStr(&cfg.Split.DistributorKey, "ORDERFLOW_SPLIT_DISTRIBUTOR_KEY")
	setStr(&cfg.Split.EncryptedKeyPath, "ORDERFLOW_SPLIT_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Split.KeyPassword, "ORDERFLOW_SPLIT_KEY_PASSWORD")
	setDuration(&cfg.Split.Interval, "ORDERFLOW_SPLIT_INTERVAL")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "ORDERFLOW_FEED_ENABLED")
	setStr(&cfg.Feed.WsURL, "ORDERFLOW_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Kinds, "ORDERFLOW_FEED_KINDS")
	setStr(&cfg.Feed.APIKey, "ORDERFLOW_FEED_API_KEY")
	setStr(&cfg.Feed.APISecret, "ORDERFLOW_FEED_API_SECRET")

	// ── Top-level ──
	setStr(&cfg.Mode, "ORDERFLOW_MODE")
	setStr(&cfg.LogLevel, "ORDERFLOW_LOG_LEVEL")
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
