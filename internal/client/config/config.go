package config

import "time"

// Config holds runtime settings for the fieldsync client.
//
// Units: the delay and interval fields are time.Durations; BaseDelay and
// MaxDelay bound the retry backoff, CacheMaxAge bounds the entity cache.
type Config struct {
	// APIEndpointAddr is the base URL of the backend sync API.
	APIEndpointAddr string

	// DatabasePath is the SQLite file holding the offline queue and cache.
	DatabasePath string

	// OnlineCheckInterval is how often the client probes API reachability.
	OnlineCheckInterval time.Duration

	// Retry policy for failed sync attempts.
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// CacheMaxAge is how long cached reference entities are kept.
	CacheMaxAge time.Duration

	// PhotoBackend selects the photo upload path: "api", "s3" or "presigned".
	PhotoBackend string

	// S3 settings, used only when PhotoBackend is "s3".
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool
	S3KeyPrefix       string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.APIEndpointAddr = "http://127.0.0.1:8080"
	c.DatabasePath = "fieldsync.db"
	c.OnlineCheckInterval = 3 * time.Second
	c.MaxRetries = 5
	c.BaseDelay = 1000 * time.Millisecond
	c.MaxDelay = 30 * time.Second
	c.BackoffMultiplier = 2
	c.CacheMaxAge = 7 * 24 * time.Hour
	c.PhotoBackend = "api"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
