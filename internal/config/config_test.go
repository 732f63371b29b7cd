package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// writeConfig writes content to a temp TOML file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.toml")
	if err != nil {
		t.Fatalf("create temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp config: %v", err)
	}
	return f.Name()
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "ingest"

[chain]
rpc_url = "https://rpc.example"
chain_id = 8453
wrapped_native = "0x4200000000000000000000000000000000000006"

[postgres]
host = "db.internal"
password = "secret"

[ingest]
worker_interval = "250ms"
supported_bid_currencies = ["0x4200000000000000000000000000000000000006"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Mode != "ingest" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Chain.ChainID != 8453 {
		t.Errorf("chain_id = %d", cfg.Chain.ChainID)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("postgres host = %q", cfg.Postgres.Host)
	}
	if cfg.Ingest.WorkerInterval.Duration != 250*time.Millisecond {
		t.Errorf("worker_interval = %s", cfg.Ingest.WorkerInterval.Duration)
	}

	// Untouched sections keep their defaults.
	if cfg.Postgres.Port != 5432 {
		t.Errorf("postgres port = %d, want default 5432", cfg.Postgres.Port)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q, want default", cfg.Redis.Addr)
	}
	if cfg.S3.Bucket != "orderflow-relay" {
		t.Errorf("s3 bucket = %q, want default", cfg.S3.Bucket)
	}
	if cfg.Protocols.Seaport.Exchange == "" {
		t.Error("seaport exchange default missing")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[chain]
rpc_url = "https://rpc.example"
wrapped_native = "0xweth"

[redis]
addr = "file-redis:6379"
`)

	t.Setenv("ORDERFLOW_REDIS_ADDR", "env-redis:6380")
	t.Setenv("ORDERFLOW_POSTGRES_PASSWORD", "env-secret")
	t.Setenv("ORDERFLOW_CHAIN_CHAIN_ID", "10")
	t.Setenv("ORDERFLOW_INGEST_SUPPORTED_BID_CURRENCIES", "0xaaa, 0xbbb")
	t.Setenv("ORDERFLOW_INGEST_WORKER_INTERVAL", "2s")
	t.Setenv("ORDERFLOW_FEED_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Redis.Addr != "env-redis:6380" {
		t.Errorf("redis addr = %q, env should win over file", cfg.Redis.Addr)
	}
	if cfg.Postgres.Password != "env-secret" {
		t.Errorf("postgres password = %q", cfg.Postgres.Password)
	}
	if cfg.Chain.ChainID != 10 {
		t.Errorf("chain_id = %d", cfg.Chain.ChainID)
	}
	if len(cfg.Ingest.SupportedBidCurrencies) != 2 || cfg.Ingest.SupportedBidCurrencies[1] != "0xbbb" {
		t.Errorf("bid currencies = %v", cfg.Ingest.SupportedBidCurrencies)
	}
	if cfg.Ingest.WorkerInterval.Duration != 2*time.Second {
		t.Errorf("worker_interval = %s", cfg.Ingest.WorkerInterval.Duration)
	}
	if !cfg.Feed.Enabled {
		t.Error("feed should be enabled via env")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.toml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// validConfig returns a Config that passes Validate in full mode.
func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.RPCURL = "https://rpc.example"
	cfg.Chain.WrappedNative = "0x4200000000000000000000000000000000000006"
	cfg.Oracle.BaseURL = "https://oracle.example"
	cfg.Split.SplitMain = "0x1111111111111111111111111111111111111111"
	cfg.Split.Deployer = "0x2222222222222222222222222222222222222222"
	cfg.Split.InitCodeHash = "0x3333"
	cfg.Split.DistributorKey = "0xkey"
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("valid full mode", func(t *testing.T) {
		cfg := validConfig()
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate failed: %v", err)
		}
	})

	t.Run("collects every problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.Mode = "bogus"
		cfg.Chain.RPCURL = ""
		cfg.Redis.Addr = ""

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected validation error")
		}
		msg := err.Error()
		for _, want := range []string{"unknown mode", "chain: rpc_url", "redis: addr"} {
			if !strings.Contains(msg, want) {
				t.Errorf("error missing %q: %s", want, msg)
			}
		}
	})

	t.Run("ingest mode skips distributor checks", func(t *testing.T) {
		cfg := validConfig()
		cfg.Mode = "ingest"
		cfg.Split = SplitConfig{Interval: cfg.Split.Interval}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate failed: %v", err)
		}
	})

	t.Run("distribute mode skips protocol checks", func(t *testing.T) {
		cfg := validConfig()
		cfg.Mode = "distribute"
		cfg.Protocols = ProtocolsConfig{}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate failed: %v", err)
		}
	})

	t.Run("distributor needs wallet credentials", func(t *testing.T) {
		cfg := validConfig()
		cfg.Split.DistributorKey = ""
		cfg.Split.EncryptedKeyPath = ""
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "distributor_key or encrypted_key_path") {
			t.Errorf("err = %v, want wallet credential error", err)
		}
	})

	t.Run("encrypted key requires password", func(t *testing.T) {
		cfg := validConfig()
		cfg.Split.DistributorKey = ""
		cfg.Split.EncryptedKeyPath = "/keys/distributor.enc"
		cfg.Split.KeyPassword = ""
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "key_password") {
			t.Errorf("err = %v, want key_password error", err)
		}
	})

	t.Run("feed credentials set together", func(t *testing.T) {
		cfg := validConfig()
		cfg.Feed.Enabled = true
		cfg.Feed.WsURL = "wss://feed.example"
		cfg.Feed.APIKey = "key"
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "api_key and api_secret") {
			t.Errorf("err = %v, want paired credential error", err)
		}
	})
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "db-secret"
	cfg.Postgres.DSN = "postgres://user:pw@host/db"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Oracle.APIKey = "oracle-secret"
	cfg.Feed.APISecret = "feed-secret"

	red := RedactedConfig(&cfg)

	for name, got := range map[string]string{
		"postgres password": red.Postgres.Password,
		"postgres dsn":      red.Postgres.DSN,
		"redis password":    red.Redis.Password,
		"s3 secret key":     red.S3.SecretKey,
		"oracle api key":    red.Oracle.APIKey,
		"split key":         red.Split.DistributorKey,
		"feed secret":       red.Feed.APISecret,
	} {
		if got != "***" {
			t.Errorf("%s = %q, not redacted", name, got)
		}
	}

	if red.Chain.RPCURL != cfg.Chain.RPCURL {
		t.Errorf("rpc_url = %q, should carry over", red.Chain.RPCURL)
	}
	if cfg.Postgres.Password != "db-secret" {
		t.Error("redaction mutated the original config")
	}
}
