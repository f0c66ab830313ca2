// Package config provides 12-factor configuration management for the marketplace transport.
//
// Configuration is loaded from environment variables with sensible defaults,
// or from a YAML/TOML file laid over the defaults.
//
// Configuration Sections:
//   - Client: user agent, timeouts, accept headers, gzip/TLS flags, locked host,
//     crawl delay, max download size, redirect hop limit
//   - Pool: global and per-target connection bounds, reaper timing
//   - Robots: directive cache freshness and fetch timeout
//   - Breaker: optional per-target circuit breaker
//   - Logging: log level and output format
//   - Admin: optional admin listener address
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	client, err := config.NewClientConfig(cfg.Client)
//
// Environment Variables:
//   - MARKETWIRE_USER_AGENT, MARKETWIRE_READ_TIMEOUT, MARKETWIRE_MAX_DOWNLOAD_SIZE
//   - MARKETWIRE_LOCK_HOST, MARKETWIRE_LOCK_HOSTNAME, MARKETWIRE_LOCK_BASE_PATH
//   - MARKETWIRE_POOL_MAX_TOTAL, MARKETWIRE_POOL_MAX_PER_TARGET
//   - LOG_LEVEL, LOG_DEV
package config
