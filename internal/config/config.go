// Package config loads and validates runtime configuration for the proxy
// from environment variables, an optional YAML file, and process defaults.
// All settings have sensible defaults so the binary works out of the box for
// local development without any config file. A Viper merge lets an operator
// layer a YAML file on top of those defaults, and a Watch hook notifies
// callers when fields that may change without a restart are updated.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the proxy process.
type Config struct {
	// HTTPAddr is the plain-HTTP proxy listener.
	HTTPAddr string
	// HTTPSAddr is the TLS proxy listener.
	HTTPSAddr string
	// AdminAddr is the admin JSON API + static UI listener.
	AdminAddr string

	// DataDir is the root of ./data (sqlite db, cert material).
	DataDir string
	// StaticDir serves the admin UI's assets.
	StaticDir string
	// LogDir holds the newline-delimited access log.
	LogDir string

	// JWTSecret signs/verifies admin API bearer tokens.
	JWTSecret string

	// LogLevel is one of "debug"|"info"|"warn"|"error".
	LogLevel string

	// TrustedProxyIPs is the set of immediate peers allowed to set
	// X-Forwarded-For / X-Forwarded-Proto. Default loopback only.
	TrustedProxyIPs []string

	// ACMERenewalScanInterval is how often the ACME Worker scans for
	// near-expiry certificates.
	ACMERenewalScanInterval time.Duration
	// ACMERenewalWindow is how far ahead of expiry renewal is triggered.
	ACMERenewalWindow time.Duration
	// ACMEChallengeTimeout is passed to the issuance utility as the DNS-01
	// propagation wait (--dns-<type>-propagation-seconds); HTTP-01 jobs do
	// not use it.
	ACMEChallengeTimeout time.Duration
	// ACMEInvocationTimeout bounds a single issuance-utility subprocess run.
	ACMEInvocationTimeout time.Duration

	// CertbotPath is the external certificate-issuance utility invoked by
	// the ACME Worker for both HTTP-01 (webroot) and DNS-01 challenges.
	CertbotPath string
	// ACMEDNSNameserver is queried directly for the HTTP-01 preflight
	// resolution check, bypassing the OS resolver.
	ACMEDNSNameserver string

	// ShutdownGrace is how long in-flight requests/connections are given to
	// finish when a shutdown signal arrives.
	ShutdownGrace time.Duration

	v *viper.Viper
}

const (
	envJWTSecret       = "JWT_SECRET"
	envLogLevel        = "RUST_LOG"
	envLogLevelAlt     = "LOG_LEVEL"
	envTrustedProxyPPM = "PPM_TRUSTED_PROXY_IPS"
	envTrustedProxyAlt = "TRUSTED_PROXY_IPS"
)

// Load reads configuration from an optional file (configPath, may be empty),
// environment variables, and process defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("http_addr", "0.0.0.0:8080")
	v.SetDefault("https_addr", "0.0.0.0:443")
	v.SetDefault("admin_addr", "0.0.0.0:81")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("static_dir", "./static")
	v.SetDefault("log_dir", "./logs")
	v.SetDefault("log_level", "info")
	v.SetDefault("acme_renewal_scan_interval", time.Hour)
	v.SetDefault("acme_renewal_window", 30*24*time.Hour)
	v.SetDefault("acme_challenge_timeout", 5*time.Minute)
	v.SetDefault("acme_invocation_timeout", 5*time.Minute)
	v.SetDefault("certbot_path", "certbot")
	v.SetDefault("acme_dns_nameserver", "1.1.1.1:53")
	v.SetDefault("shutdown_grace", 30*time.Second)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
			}
		}
	}

	cfg := &Config{
		HTTPAddr:                v.GetString("http_addr"),
		HTTPSAddr:               v.GetString("https_addr"),
		AdminAddr:               v.GetString("admin_addr"),
		DataDir:                 v.GetString("data_dir"),
		StaticDir:               v.GetString("static_dir"),
		LogDir:                  v.GetString("log_dir"),
		JWTSecret:               getEnvAny(v, envJWTSecret),
		LogLevel:                firstNonEmpty(getEnvAny(v, envLogLevel), getEnvAny(v, envLogLevelAlt), v.GetString("log_level")),
		TrustedProxyIPs:         trustedProxyIPs(v),
		ACMERenewalScanInterval: v.GetDuration("acme_renewal_scan_interval"),
		ACMERenewalWindow:       v.GetDuration("acme_renewal_window"),
		ACMEChallengeTimeout:    v.GetDuration("acme_challenge_timeout"),
		ACMEInvocationTimeout:   v.GetDuration("acme_invocation_timeout"),
		CertbotPath:             v.GetString("certbot_path"),
		ACMEDNSNameserver:       v.GetString("acme_dns_nameserver"),
		ShutdownGrace:           v.GetDuration("shutdown_grace"),
		v:                       v,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for _, raw := range c.TrustedProxyIPs {
		if net.ParseIP(raw) == nil {
			if _, _, err := net.ParseCIDR(raw); err != nil {
				return fmt.Errorf("invalid trusted proxy entry %q", raw)
			}
		}
	}
	return nil
}

func trustedProxyIPs(v *viper.Viper) []string {
	raw := firstNonEmpty(
		getEnvAny(v, envTrustedProxyPPM),
		getEnvAny(v, envTrustedProxyAlt),
	)
	if raw == "" {
		return []string{"127.0.0.1", "::1"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAny(v *viper.Viper, key string) string {
	return getEnv(key, v.GetString(key))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Watch installs a callback invoked whenever the backing config file changes
// on disk, re-deriving only the non-secret fields (log level, trusted-proxy
// IPs) for live, restart-free reloads of the process's own settings —
// distinct from the data-plane Snapshot, which is reloaded via
// internal/snapshot instead.
func (c *Config) Watch(onChange func(logLevel string, trustedProxyIPs []string)) {
	if c.v == nil {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		c.LogLevel = firstNonEmpty(os.Getenv(envLogLevel), os.Getenv(envLogLevelAlt), c.v.GetString("log_level"))
		c.TrustedProxyIPs = trustedProxyIPs(c.v)
		onChange(c.LogLevel, c.TrustedProxyIPs)
	})
	c.v.WatchConfig()
}
