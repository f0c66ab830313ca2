package pool

import (
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/GriffinCanCode/marketwire/internal/infrastructure/config"
)

// Settings bound the pool and time its reaper.
type Settings struct {
	MaxTotal       int
	MaxPerTarget   int
	AcquireTimeout time.Duration
	DialTimeout    time.Duration
	SweepInterval  time.Duration
	IdleTimeout    time.Duration

	// AllowUntrustedSSL skips certificate verification on TLS targets
	AllowUntrustedSSL bool
}

// DefaultSettings returns the stock bounds: 200 total, 20 per target,
// a 5s sweep and a 30s idle threshold.
func DefaultSettings() Settings {
	return Settings{
		MaxTotal:       200,
		MaxPerTarget:   20,
		AcquireTimeout: 10 * time.Second,
		DialTimeout:    10 * time.Second,
		SweepInterval:  5 * time.Second,
		IdleTimeout:    30 * time.Second,
	}
}

// SettingsFrom maps the pool config section onto Settings.
func SettingsFrom(c config.PoolConfig, allowUntrustedSSL bool) Settings {
	return Settings{
		MaxTotal:          c.MaxTotal,
		MaxPerTarget:      c.MaxPerTarget,
		AcquireTimeout:    c.AcquireTimeout.Duration,
		DialTimeout:       c.DialTimeout.Duration,
		SweepInterval:     c.SweepInterval.Duration,
		IdleTimeout:       c.IdleTimeout.Duration,
		AllowUntrustedSSL: allowUntrustedSSL,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.MaxTotal <= 0 {
		s.MaxTotal = d.MaxTotal
	}
	if s.MaxPerTarget <= 0 {
		s.MaxPerTarget = d.MaxPerTarget
	}
	if s.MaxPerTarget > s.MaxTotal {
		s.MaxPerTarget = s.MaxTotal
	}
	if s.AcquireTimeout <= 0 {
		s.AcquireTimeout = d.AcquireTimeout
	}
	if s.DialTimeout <= 0 {
		s.DialTimeout = d.DialTimeout
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = d.SweepInterval
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = d.IdleTimeout
	}
	return s
}

// Target returns the connection target of u as the transport dials it:
// lowercased host and explicit port.
func Target(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(host, port)
}
