// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

// Package config loads Flow's runtime configuration.
//
// Values are layered, lowest priority first: built-in defaults, an optional
// YAML file, environment variables and finally command-line flags.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/flowscripts/flow/internal/logging"
	"github.com/flowscripts/flow/internal/xdg"
)

// MinJWTSecretLength is the shortest signing secret accepted for sessions.
const MinJWTSecretLength = 16

// Store drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Config is the complete runtime configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Auth      AuthConfig      `koanf:"auth"`
	Store     StoreConfig     `koanf:"store"`
	Luarmor   LuarmorConfig   `koanf:"luarmor"`
	Discord   DiscordConfig   `koanf:"discord"`
	Egress    EgressConfig    `koanf:"egress"`
	Cache     CacheConfig     `koanf:"cache"`
	Team      TeamConfig      `koanf:"team"`
	CORS      CORSConfig      `koanf:"cors"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
}

// ServerConfig configures the public HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `koanf:"listen_addr"`
	StaticDir       string        `koanf:"static_dir"`
	BodyLimitBytes  int64         `koanf:"body_limit_bytes"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig configures the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format"`
}

// AuthConfig configures session tokens.
type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// StoreConfig selects and configures the credential store.
type StoreConfig struct {
	Driver      string `koanf:"driver"`
	Path        string `koanf:"path"`
	DatabaseURL string `koanf:"database_url"`
}

// LuarmorConfig configures the license gateway client.
type LuarmorConfig struct {
	BaseURL          string        `koanf:"base_url"`
	APIKey           string        `koanf:"api_key"`
	ProjectID        string        `koanf:"project_id"`
	Timeout          time.Duration `koanf:"timeout"`
	AllowInsecureTLS bool          `koanf:"allow_insecure_tls"`
	CAFile           string        `koanf:"ca_file"`
}

// DiscordConfig configures team profile lookups.
type DiscordConfig struct {
	BaseURL  string        `koanf:"base_url"`
	BotToken string        `koanf:"bot_token"`
	Timeout  time.Duration `koanf:"timeout"`
	EnvFile  string        `koanf:"env_file"`
}

// EgressConfig configures the public IP lookup.
type EgressConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// CacheConfig holds response cache lifetimes.
type CacheConfig struct {
	TelemetryTTL    time.Duration `koanf:"telemetry_ttl"`
	TeamProfilesTTL time.Duration `koanf:"team_profiles_ttl"`
}

// TeamConfig points at an optional roster file replacing the built-in team.
type TeamConfig struct {
	RosterFile string `koanf:"roster_file"`
}

// CORSConfig lists extra allowed origins. Entries may be glob patterns.
type CORSConfig struct {
	Origins []string `koanf:"origins"`
}

// RateLimitConfig holds the per-client request budgets.
type RateLimitConfig struct {
	API  LimitConfig `koanf:"api"`
	Auth LimitConfig `koanf:"auth"`
}

// LimitConfig is a request budget over a fixed window.
type LimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":3000",
			StaticDir:       ".",
			BodyLimitBytes:  64 << 10,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json"},
		Auth:    AuthConfig{TokenTTL: 24 * time.Hour},
		Store: StoreConfig{
			Driver: DriverFile,
			Path:   xdg.DefaultUserStore(),
		},
		Luarmor: LuarmorConfig{
			BaseURL: "https://api.luarmor.net/v3",
			Timeout: 15 * time.Second,
		},
		Discord: DiscordConfig{
			BaseURL: "https://discord.com/api/v10",
			Timeout: 12 * time.Second,
			EnvFile: ".env",
		},
		Egress: EgressConfig{
			URL:     "https://api64.ipify.org?format=json",
			Timeout: 8 * time.Second,
		},
		Cache: CacheConfig{
			TelemetryTTL:    30 * time.Second,
			TeamProfilesTTL: 120 * time.Second,
		},
		RateLimit: RateLimitConfig{
			API:  LimitConfig{Requests: 280, Window: 15 * time.Minute},
			Auth: LimitConfig{Requests: 25, Window: 15 * time.Minute},
		},
	}
}

// Validate checks that the configuration is usable.
//
// A missing or short JWT secret is deliberately not an error here: the
// server still starts and authenticated operations fail closed.
func (c *Config) Validate() error {
	errb := oops.Code("CONFIG_INVALID")

	if c.Server.ListenAddr == "" {
		return errb.Errorf("server.listen_addr is required")
	}
	if c.Server.BodyLimitBytes <= 0 {
		return errb.With("value", c.Server.BodyLimitBytes).Errorf("server.body_limit_bytes must be positive")
	}
	if err := logging.ValidateFormat(c.Log.Format); err != nil {
		return errb.With("value", c.Log.Format).Wrap(err)
	}
	if c.Auth.TokenTTL <= 0 {
		return errb.Errorf("auth.token_ttl must be positive")
	}

	switch c.Store.Driver {
	case DriverFile:
		if c.Store.Path == "" {
			return errb.Errorf("store.path is required for the file driver")
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errb.Errorf("store.database_url is required for the postgres driver")
		}
	default:
		return errb.With("driver", c.Store.Driver).Errorf("store.driver must be %q or %q", DriverFile, DriverPostgres)
	}

	durations := map[string]time.Duration{
		"luarmor.timeout":         c.Luarmor.Timeout,
		"discord.timeout":         c.Discord.Timeout,
		"egress.timeout":          c.Egress.Timeout,
		"cache.telemetry_ttl":     c.Cache.TelemetryTTL,
		"cache.team_profiles_ttl": c.Cache.TeamProfilesTTL,
		"ratelimit.api.window":    c.RateLimit.API.Window,
		"ratelimit.auth.window":   c.RateLimit.Auth.Window,
	}
	for key, d := range durations {
		if d <= 0 {
			return errb.With("key", key).Errorf("%s must be positive", key)
		}
	}
	if c.RateLimit.API.Requests <= 0 || c.RateLimit.Auth.Requests <= 0 {
		return errb.Errorf("ratelimit request budgets must be positive")
	}
	return nil
}

// AuthConfigured reports whether the JWT secret is long enough to sign sessions.
func (c *Config) AuthConfigured() bool {
	return len(c.Auth.JWTSecret) >= MinJWTSecretLength
}

// Port returns the numeric port of the listen address, or 0 if it has none.
func (c *Config) Port() int {
	_, port, err := net.SplitHostPort(c.Server.ListenAddr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return n
}
