package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Oracle
	out.Oracle = cfg.Oracle
	redact(&out.Oracle.APIKey)

	// Split
	out.Split = cfg.Split
	redact(&out.Split.DistributorKey)
	redact(&out.Split.KeyPassword)

	// Feed
	out.Feed = cfg.Feed
	redact(&out.Feed.APIKey)
	redact(&out.Feed.APISecret)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Chain.BlockedValidators != nil {
		out.Chain.BlockedValidators = make([]string, len(cfg.Chain.BlockedValidators))
		copy(out.Chain.BlockedValidators, cfg.Chain.BlockedValidators)
	}
	if cfg.Ingest.SupportedBidCurrencies != nil {
		out.Ingest.SupportedBidCurrencies = make([]string, len(cfg.Ingest.SupportedBidCurrencies))
		copy(out.Ingest.SupportedBidCurrencies, cfg.Ingest.SupportedBidCurrencies)
	}
	if cfg.Feed.Kinds != nil {
		out.Feed.Kinds = make([]string, len(cfg.Feed.Kinds))
		copy(out.Feed.Kinds, cfg.Feed.Kinds)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
