package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all transport configuration.
type Config struct {
	Client  ClientConfig  `yaml:"client" toml:"client"`
	Pool    PoolConfig    `yaml:"pool" toml:"pool"`
	Robots  RobotsConfig  `yaml:"robots" toml:"robots"`
	Breaker BreakerConfig `yaml:"breaker" toml:"breaker"`
	Logging LogConfig     `yaml:"logging" toml:"logging"`
	Admin   AdminConfig   `yaml:"admin" toml:"admin"`
}

// ClientConfig is the immutable per-client transport configuration.
// Build it once with NewClientConfig and share it by value.
type ClientConfig struct {
	UserAgent         string     `envconfig:"MARKETWIRE_USER_AGENT" default:"marketwire/1.0" yaml:"user_agent" toml:"user_agent"`
	ReadTimeout       Duration   `envconfig:"MARKETWIRE_READ_TIMEOUT" default:"60s" yaml:"read_timeout" toml:"read_timeout"`
	Accept            string     `envconfig:"MARKETWIRE_ACCEPT" default:"application/json" yaml:"accept" toml:"accept"`
	AcceptLanguage    string     `envconfig:"MARKETWIRE_ACCEPT_LANGUAGE" default:"en-US" yaml:"accept_language" toml:"accept_language"`
	AllowGzip         bool       `envconfig:"MARKETWIRE_ALLOW_GZIP" default:"true" yaml:"allow_gzip" toml:"allow_gzip"`
	AllowUntrustedSSL bool       `envconfig:"MARKETWIRE_ALLOW_UNTRUSTED_SSL" default:"false" yaml:"allow_untrusted_ssl" toml:"allow_untrusted_ssl"`
	LockHost          LockedHost `yaml:"lock_host" toml:"lock_host"`
	CrawlDelay        Duration   `envconfig:"MARKETWIRE_CRAWL_DELAY" default:"0s" yaml:"crawl_delay" toml:"crawl_delay"`
	MaxDownloadSize   int64      `envconfig:"MARKETWIRE_MAX_DOWNLOAD_SIZE" default:"10485760" yaml:"max_download_size" toml:"max_download_size"`
	MaxRedirects      int        `envconfig:"MARKETWIRE_MAX_REDIRECTS" default:"10" yaml:"max_redirects" toml:"max_redirects"`
	RateLimit         float64    `envconfig:"MARKETWIRE_RATE_LIMIT" default:"0" yaml:"rate_limit" toml:"rate_limit"`
	SniffCharset      bool       `envconfig:"MARKETWIRE_SNIFF_CHARSET" default:"false" yaml:"sniff_charset" toml:"sniff_charset"`
}

// LockedHost rewrites relative request URLs onto a fixed scheme, host, port and base path.
type LockedHost struct {
	Enabled  bool   `envconfig:"MARKETWIRE_LOCK_HOST" default:"false" yaml:"enabled" toml:"enabled"`
	Scheme   string `envconfig:"MARKETWIRE_LOCK_SCHEME" default:"https" yaml:"scheme" toml:"scheme"`
	Host     string `envconfig:"MARKETWIRE_LOCK_HOSTNAME" yaml:"host" toml:"host"`
	Port     int    `envconfig:"MARKETWIRE_LOCK_PORT" default:"0" yaml:"port" toml:"port"`
	BasePath string `envconfig:"MARKETWIRE_LOCK_BASE_PATH" yaml:"base_path" toml:"base_path"`
}

// PoolConfig holds connection pool bounds and reaper timing.
type PoolConfig struct {
	MaxTotal       int      `envconfig:"MARKETWIRE_POOL_MAX_TOTAL" default:"200" yaml:"max_total" toml:"max_total"`
	MaxPerTarget   int      `envconfig:"MARKETWIRE_POOL_MAX_PER_TARGET" default:"20" yaml:"max_per_target" toml:"max_per_target"`
	AcquireTimeout Duration `envconfig:"MARKETWIRE_POOL_ACQUIRE_TIMEOUT" default:"10s" yaml:"acquire_timeout" toml:"acquire_timeout"`
	DialTimeout    Duration `envconfig:"MARKETWIRE_POOL_DIAL_TIMEOUT" default:"10s" yaml:"dial_timeout" toml:"dial_timeout"`
	SweepInterval  Duration `envconfig:"MARKETWIRE_POOL_SWEEP_INTERVAL" default:"5s" yaml:"sweep_interval" toml:"sweep_interval"`
	IdleTimeout    Duration `envconfig:"MARKETWIRE_POOL_IDLE_TIMEOUT" default:"30s" yaml:"idle_timeout" toml:"idle_timeout"`
}

// RobotsConfig holds robot directive cache settings.
type RobotsConfig struct {
	Enabled      bool     `envconfig:"MARKETWIRE_ROBOTS_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
	TTL          Duration `envconfig:"MARKETWIRE_ROBOTS_TTL" default:"12h" yaml:"ttl" toml:"ttl"`
	FetchTimeout Duration `envconfig:"MARKETWIRE_ROBOTS_FETCH_TIMEOUT" default:"10s" yaml:"fetch_timeout" toml:"fetch_timeout"`
	Retries      int      `envconfig:"MARKETWIRE_ROBOTS_RETRIES" default:"1" yaml:"retries" toml:"retries"`
}

// BreakerConfig holds per-target circuit breaker settings.
type BreakerConfig struct {
	Enabled             bool     `envconfig:"MARKETWIRE_BREAKER_ENABLED" default:"false" yaml:"enabled" toml:"enabled"`
	ConsecutiveFailures uint32   `envconfig:"MARKETWIRE_BREAKER_FAILURES" default:"10" yaml:"consecutive_failures" toml:"consecutive_failures"`
	OpenTimeout         Duration `envconfig:"MARKETWIRE_BREAKER_OPEN_TIMEOUT" default:"30s" yaml:"open_timeout" toml:"open_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// AdminConfig holds the optional admin listener.
type AdminConfig struct {
	Address      string   `envconfig:"MARKETWIRE_ADMIN_ADDR" yaml:"address" toml:"address"`
	AllowOrigins []string `envconfig:"MARKETWIRE_ADMIN_ORIGINS" default:"*" yaml:"allow_origins" toml:"allow_origins"`
	RateLimit    int      `envconfig:"MARKETWIRE_ADMIN_RATE_LIMIT" default:"50" yaml:"rate_limit" toml:"rate_limit"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			UserAgent:       "marketwire/1.0",
			ReadTimeout:     DurationFrom(60 * time.Second),
			Accept:          "application/json",
			AcceptLanguage:  "en-US",
			AllowGzip:       true,
			LockHost:        LockedHost{Scheme: "https"},
			MaxDownloadSize: 10 << 20,
			MaxRedirects:    10,
		},
		Pool: PoolConfig{
			MaxTotal:       200,
			MaxPerTarget:   20,
			AcquireTimeout: DurationFrom(10 * time.Second),
			DialTimeout:    DurationFrom(10 * time.Second),
			SweepInterval:  DurationFrom(5 * time.Second),
			IdleTimeout:    DurationFrom(30 * time.Second),
		},
		Robots: RobotsConfig{
			Enabled:      true,
			TTL:          DurationFrom(12 * time.Hour),
			FetchTimeout: DurationFrom(10 * time.Second),
			Retries:      1,
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 10,
			OpenTimeout:         DurationFrom(30 * time.Second),
		},
		Logging: LogConfig{
			Level: "info",
		},
		Admin: AdminConfig{
			AllowOrigins: []string{"*"},
			RateLimit:    50,
		},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if _, err := NewClientConfig(c.Client); err != nil {
		return err
	}
	if c.Pool.MaxTotal <= 0 {
		return errors.New("pool max_total must be positive")
	}
	if c.Pool.MaxPerTarget <= 0 || c.Pool.MaxPerTarget > c.Pool.MaxTotal {
		return fmt.Errorf("pool max_per_target must be in [1,%d]", c.Pool.MaxTotal)
	}
	if c.Pool.AcquireTimeout.Duration <= 0 {
		return errors.New("pool acquire_timeout must be positive")
	}
	if c.Pool.SweepInterval.Duration <= 0 || c.Pool.IdleTimeout.Duration <= 0 {
		return errors.New("pool sweep_interval and idle_timeout must be positive")
	}
	if c.Robots.Enabled && c.Robots.TTL.Duration <= 0 {
		return errors.New("robots ttl must be positive")
	}
	if c.Robots.Retries < 0 {
		return errors.New("robots retries cannot be negative")
	}
	if c.Admin.RateLimit < 0 {
		return errors.New("admin rate_limit cannot be negative")
	}
	return nil
}

// NewClientConfig validates c and returns a normalized copy.
func NewClientConfig(c ClientConfig) (ClientConfig, error) {
	if strings.TrimSpace(c.UserAgent) == "" {
		return ClientConfig{}, errors.New("user_agent cannot be empty")
	}
	if c.ReadTimeout.Duration <= 0 {
		return ClientConfig{}, errors.New("read_timeout must be positive")
	}
	if c.MaxRedirects < 0 {
		return ClientConfig{}, errors.New("max_redirects cannot be negative")
	}
	if c.CrawlDelay.Duration < 0 {
		return ClientConfig{}, errors.New("crawl_delay cannot be negative")
	}
	if c.RateLimit < 0 {
		return ClientConfig{}, errors.New("rate_limit cannot be negative")
	}

	if c.LockHost.Enabled {
		lock := c.LockHost
		lock.Scheme = strings.ToLower(strings.TrimSpace(lock.Scheme))
		if lock.Scheme == "" {
			lock.Scheme = "https"
		}
		if lock.Scheme != "http" && lock.Scheme != "https" {
			return ClientConfig{}, fmt.Errorf("lock_host scheme must be http or https, got %q", lock.Scheme)
		}
		lock.Host = strings.TrimSpace(lock.Host)
		if lock.Host == "" {
			return ClientConfig{}, errors.New("lock_host host required when enabled")
		}
		if lock.Port < 0 || lock.Port > 65535 {
			return ClientConfig{}, fmt.Errorf("lock_host port out of range: %d", lock.Port)
		}
		lock.BasePath = strings.TrimRight(strings.TrimSpace(lock.BasePath), "/")
		if lock.BasePath != "" && !strings.HasPrefix(lock.BasePath, "/") {
			lock.BasePath = "/" + lock.BasePath
		}
		c.LockHost = lock
	}

	return c, nil
}
