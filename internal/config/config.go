// Package config holds runtime settings for the byostore CLI, loaded from
// defaults, then an optional JSON file, then command-line flags, each layer
// overriding the previous one.
package config

import "time"

// Config holds runtime settings for the byostore CLI.
//
// Backend selects the storage implementation: "memory" for an in-process
// demo backend, "s3" for an S3-compatible store described by the S3* fields.
// CacheDSN is the SQLite database the local cache lives in.
type Config struct {
	Backend         string
	CacheDSN        string
	LongPollTimeout time.Duration

	S3Region       string
	S3Endpoint     string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3PollInterval time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Backend = "memory"
	c.CacheDSN = "byostore.db"
	c.LongPollTimeout = 30 * time.Second
	c.S3Region = "us-east-1"
	c.S3PollInterval = 2 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
