// Package config loads runtime configuration for the fieldsync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the backend sync API
//	-d string   path to the local SQLite database
//	-i int      online status check interval (seconds)
//	-r int      maximum sync retries per operation
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "30s" or integer milliseconds:
//
//	{
//	  "api_endpoint_addr": "https://api.example.com",
//	  "database_path": "fieldsync.db",
//	  "online_check_interval": "3s",
//	  "max_retries": 5,
//	  "base_delay": 1000,
//	  "max_delay": "30s",
//	  "backoff_multiplier": 2,
//	  "cache_max_age": "168h",
//	  "photo_backend": "s3",
//	  "s3_bucket": "field-photos"
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
