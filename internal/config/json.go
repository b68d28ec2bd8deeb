package config

import (
	"encoding/json"
	"os"

	"github.com/graffiti-garden/byo-storage/internal/flagx"
	"github.com/graffiti-garden/byo-storage/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "30s"
// or as integer nanoseconds.
type JsonConfig struct {
	Backend         string         `json:"backend"`
	CacheDSN        string         `json:"cache_dsn"`
	LongPollTimeout timex.Duration `json:"long_poll_timeout"`
	S3Region        string         `json:"s3_region"`
	S3Endpoint      string         `json:"s3_endpoint"`
	S3Bucket        string         `json:"s3_bucket"`
	S3AccessKey     string         `json:"s3_access_key"`
	S3SecretKey     string         `json:"s3_secret_key"`
	S3PollInterval  timex.Duration `json:"s3_poll_interval"`
}

// parseJson overlays cfg with values loaded from the JSON file named by the
// -c/-config flags. Absent file or flags leave cfg untouched; read and
// unmarshal errors panic (caller may recover).
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.Backend != "" {
		cfg.Backend = jc.Backend
	}
	if jc.CacheDSN != "" {
		cfg.CacheDSN = jc.CacheDSN
	}
	if jc.LongPollTimeout != 0 {
		cfg.LongPollTimeout = jc.LongPollTimeout.Std()
	}
	if jc.S3Region != "" {
		cfg.S3Region = jc.S3Region
	}
	if jc.S3Endpoint != "" {
		cfg.S3Endpoint = jc.S3Endpoint
	}
	if jc.S3Bucket != "" {
		cfg.S3Bucket = jc.S3Bucket
	}
	if jc.S3AccessKey != "" {
		cfg.S3AccessKey = jc.S3AccessKey
	}
	if jc.S3SecretKey != "" {
		cfg.S3SecretKey = jc.S3SecretKey
	}
	if jc.S3PollInterval != 0 {
		cfg.S3PollInterval = jc.S3PollInterval.Std()
	}
}
