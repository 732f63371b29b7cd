// Package config defines the top-level configuration for the orderflow
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ORDERFLOW_* environment variables.
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Protocols ProtocolsConfig `toml:"protocols"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Oracle    OracleConfig    `toml:"oracle"`
	Ingest    IngestConfig    `toml:"ingest"`
	Split     SplitConfig     `toml:"split"`
	Feed      FeedConfig      `toml:"feed"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ChainConfig holds chain endpoints and on-chain registry addresses.
type ChainConfig struct {
	RPCURL                 string   `toml:"rpc_url"`
	ChainID                int64    `toml:"chain_id"`
	WrappedNative          string   `toml:"wrapped_native"`
	OperatorFilterRegistry string   `toml:"operator_filter_registry"`
	BlockedValidators      []string `toml:"blocked_validators"`
}

// ProtocolsConfig holds per-protocol contract deployments.
type ProtocolsConfig struct {
	Seaport SeaportConfig `toml:"seaport"`
	PPv2    PPv2Config    `toml:"ppv2"`
}

// SeaportConfig holds the Seaport deployment for the configured chain.
type SeaportConfig struct {
	Exchange            string `toml:"exchange"`
	ConduitController   string `toml:"conduit_controller"`
	ConduitInitCodeHash string `toml:"conduit_init_code_hash"`
	CancellationZone    string `toml:"cancellation_zone"`
}

// PPv2Config holds the payment-processor deployment for the configured chain.
type PPv2Config struct {
	Exchange string `toml:"exchange"`
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the raw order
// relay.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig holds the price oracle API endpoint and credentials.
type OracleConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// IngestConfig holds order intake parameters.
type IngestConfig struct {
	// SupportedBidCurrencies whitelists buy-side payment tokens.
	SupportedBidCurrencies []string `toml:"supported_bid_currencies"`
	// OrderbookFeeRecipient receives the mandatory orderbook fee when an
	// API key requires one.
	OrderbookFeeRecipient string `toml:"orderbook_fee_recipient"`
	// WorkerInterval is the queue poll interval for the intake workers.
	WorkerInterval duration `toml:"worker_interval"`
	// ValidateBidValue rejects bids priced too far under the top bid.
	ValidateBidValue bool `toml:"validate_bid_value"`
}

// SplitConfig holds payment split derivation and distribution parameters.
type SplitConfig struct {
	Deployer     string  `toml:"deployer"`
	InitCodeHash string  `toml:"init_code_hash"`
	SplitMain    string  `toml:"split_main"`
	ThresholdUSD float64 `toml:"threshold_usd"`

	// Distributor wallet credentials. Either a raw private key or an
	// encrypted key file plus password.
	DistributorKey   string   `toml:"distributor_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	Interval         duration `toml:"interval"`
}

// FeedConfig holds the marketplace websocket feed parameters.
type FeedConfig struct {
	Enabled   bool     `toml:"enabled"`
	WsURL     string   `toml:"ws_url"`
	Kinds     []string `toml:"kinds"`
	APIKey    string   `toml:"api_key"`
	APISecret string   `toml:"api_secret"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID: 1,
		},
		Protocols: ProtocolsConfig{
			Seaport: SeaportConfig{
				Exchange:            "0x0000000000000068f116a894984e2db1123eb395",
				ConduitController:   "0x00000000f9490004c11cef243f5400493c00ad63",
				ConduitInitCodeHash: "0x023d904f2503c37127200ca07b976c3a53cc562623f67023115bf311f5805059",
			},
			PPv2: PPv2Config{
				Exchange: "0x9a1d00bed7cd04bcda516d721a596eb22aac6834",
			},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "orderflow",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "orderflow-relay",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Ingest: IngestConfig{
			WorkerInterval:   duration{time.Second},
			ValidateBidValue: true,
		},
		Split: SplitConfig{
			Interval: duration{10 * time.Minute},
		},
		Feed: FeedConfig{
			Enabled: false,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ingest":     true,
	"distribute": true,
	"full":       true,
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

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, distribute, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.WrappedNative == "" {
		errs = append(errs, "chain: wrapped_native must not be empty")
	}

	// Protocols — intake modes decode orders, so the deployments must be known.
	needsProtocols := c.Mode == "ingest" || c.Mode == "full"
	if needsProtocols {
		if c.Protocols.Seaport.Exchange == "" {
			errs = append(errs, "protocols: seaport.exchange must be set for mode "+c.Mode)
		}
		if c.Protocols.PPv2.Exchange == "" {
			errs = append(errs, "protocols: ppv2.exchange must be set for mode "+c.Mode)
		}
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Oracle
	if c.Oracle.BaseURL == "" {
		errs = append(errs, "oracle: base_url must not be empty")
	}

	// Ingest
	if c.Ingest.WorkerInterval.Duration <= 0 {
		errs = append(errs, "ingest: worker_interval must be > 0")
	}

	// Split — the distributor needs a wallet and contract addresses.
	needsDistributor := c.Mode == "distribute" || c.Mode == "full"
	if needsDistributor {
		if c.Split.SplitMain == "" {
			errs = append(errs, "split: split_main must be set for mode "+c.Mode)
		}
		if c.Split.Deployer == "" {
			errs = append(errs, "split: deployer must be set for mode "+c.Mode)
		}
		if c.Split.InitCodeHash == "" {
			errs = append(errs, "split: init_code_hash must be set for mode "+c.Mode)
		}
		if c.Split.DistributorKey == "" && c.Split.EncryptedKeyPath == "" {
			errs = append(errs, "split: either distributor_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Split.EncryptedKeyPath != "" && c.Split.KeyPassword == "" {
			errs = append(errs, "split: key_password is required when encrypted_key_path is set")
		}
		if c.Split.ThresholdUSD < 0 {
			errs = append(errs, "split: threshold_usd must be >= 0")
		}
	}

	// Feed
	if c.Feed.Enabled {
		if c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url must not be empty when enabled")
		}
		fk := c.Feed.APIKey != ""
		fs := c.Feed.APISecret != ""
		if fk != fs {
			errs = append(errs, "feed: api_key and api_secret must be set together")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
