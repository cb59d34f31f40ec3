package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "30s"
// or as integer milliseconds. After parsing, values are copied into the
// runtime Config.
type JsonConfig struct {
	APIEndpointAddr     string         `json:"api_endpoint_addr"`
	DatabasePath        string         `json:"database_path"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`

	MaxRetries        int            `json:"max_retries"`
	BaseDelay         timex.Duration `json:"base_delay"`
	MaxDelay          timex.Duration `json:"max_delay"`
	BackoffMultiplier float64        `json:"backoff_multiplier"`

	CacheMaxAge timex.Duration `json:"cache_max_age"`

	PhotoBackend      string `json:"photo_backend"`
	S3Bucket          string `json:"s3_bucket"`
	S3Region          string `json:"s3_region"`
	S3Endpoint        string `json:"s3_endpoint"`
	S3AccessKeyID     string `json:"s3_access_key_id"`
	S3SecretAccessKey string `json:"s3_secret_access_key"`
	S3UsePathStyle    bool   `json:"s3_use_path_style"`
	S3KeyPrefix       string `json:"s3_key_prefix"`
}

// parseJson overlays Config with values loaded from a JSON file located via
// the -c/-config flags. Absent fields keep their earlier values; read or
// unmarshal errors panic (the process cannot run half-configured).
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

	if jc.APIEndpointAddr != "" {
		cfg.APIEndpointAddr = jc.APIEndpointAddr
	}
	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	if jc.MaxRetries > 0 {
		cfg.MaxRetries = jc.MaxRetries
	}
	if jc.BaseDelay.Duration > 0 {
		cfg.BaseDelay = jc.BaseDelay.Duration
	}
	if jc.MaxDelay.Duration > 0 {
		cfg.MaxDelay = jc.MaxDelay.Duration
	}
	if jc.BackoffMultiplier > 0 {
		cfg.BackoffMultiplier = jc.BackoffMultiplier
	}
	if jc.CacheMaxAge.Duration > 0 {
		cfg.CacheMaxAge = jc.CacheMaxAge.Duration
	}
	if jc.PhotoBackend != "" {
		cfg.PhotoBackend = jc.PhotoBackend
	}
	if jc.S3Bucket != "" {
		cfg.S3Bucket = jc.S3Bucket
	}
	if jc.S3Region != "" {
		cfg.S3Region = jc.S3Region
	}
	if jc.S3Endpoint != "" {
		cfg.S3Endpoint = jc.S3Endpoint
	}
	if jc.S3AccessKeyID != "" {
		cfg.S3AccessKeyID = jc.S3AccessKeyID
	}
	if jc.S3SecretAccessKey != "" {
		cfg.S3SecretAccessKey = jc.S3SecretAccessKey
	}
	if jc.S3UsePathStyle {
		cfg.S3UsePathStyle = true
	}
	if jc.S3KeyPrefix != "" {
		cfg.S3KeyPrefix = jc.S3KeyPrefix
	}
}
