// Package config provides YAML configuration loading with validation and
// environment variable substitution for the weather proxy. The loaded Config
// is an immutable value threaded through every component at construction;
// nothing reads ambient process state after startup.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names. Anything other than "development" is production.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the top-level proxy configuration.
type Config struct {
	Server      ServerConfig    `yaml:"server" json:"server"`
	Environment string          `yaml:"environment" json:"environment"`
	CORS        CORSConfig      `yaml:"cors" json:"cors"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Cache       CacheConfig     `yaml:"cache" json:"cache"`
	Upstream    UpstreamConfig  `yaml:"upstream" json:"upstream"`
	Logging     LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig   `yaml:"metrics" json:"metrics"`
	Admin       AdminConfig     `yaml:"admin" json:"admin"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies"`
	GlobalTimeoutMs int           `yaml:"global_timeout_ms" json:"global_timeout_ms"`
}

// GlobalTimeout returns the global request deadline as a time.Duration.
// Returns 0 (disabled) when GlobalTimeoutMs is not set.
func (s ServerConfig) GlobalTimeout() time.Duration {
	if s.GlobalTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(s.GlobalTimeoutMs) * time.Millisecond
}

// CORSConfig holds the browser origin allow-list. In development the list is
// replaced by a wildcard; in production the origin is echoed back only when
// it appears in Origins, otherwise the literal "null" is sent.
type CORSConfig struct {
	Origins []string `yaml:"origins" json:"origins"`
}

// RateLimitConfig holds the per-client fixed-window limiter settings.
type RateLimitConfig struct {
	Requests int           `yaml:"requests" json:"requests"`
	Window   time.Duration `yaml:"window" json:"window"`
}

// CacheConfig holds the file-backed response cache settings. SweepChance is
// "1 in N": each request triggers a sweep of entries older than 2× Expiry
// with probability 1/SweepChance.
type CacheConfig struct {
	Dir         string        `yaml:"dir" json:"dir"`
	Expiry      time.Duration `yaml:"expiry" json:"expiry"`
	SweepChance int           `yaml:"sweep_chance" json:"sweep_chance"`
}

// BreakerConfig holds the upstream failure-rate circuit breaker settings.
type BreakerConfig struct {
	WindowSize       int           `yaml:"window_size" json:"window_size"`
	FailureThreshold float64       `yaml:"failure_threshold" json:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
	HalfOpenMax      int           `yaml:"half_open_max" json:"half_open_max"`
}

// UpstreamConfig holds outbound HTTP client settings. URLOverrides replaces
// the built-in upstream URL for an endpoint identifier; used by tests and
// self-hosted mirrors. RequestsPerSecond/Burst throttle outbound calls per
// upstream host so a thundering cache expiry cannot hammer NOAA.
type UpstreamConfig struct {
	WeatherAPIKey     string            `yaml:"weatherapi_key" json:"-"`
	ConnectTimeout    time.Duration     `yaml:"connect_timeout" json:"connect_timeout"`
	TotalTimeout      time.Duration     `yaml:"total_timeout" json:"total_timeout"`
	MaxRedirects      int               `yaml:"max_redirects" json:"max_redirects"`
	RequestsPerSecond float64           `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int               `yaml:"burst" json:"burst"`
	URLOverrides      map[string]string `yaml:"url_overrides" json:"url_overrides,omitempty"`
	Breaker           BreakerConfig     `yaml:"breaker" json:"breaker"`
}

// LoggingConfig holds the error and security event log settings. Dir is the
// directory for the rotating append-only log files.
type LoggingConfig struct {
	Dir        string `yaml:"dir" json:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// AdminConfig holds the operational API settings. Admin endpoints require
// both a source IP on the allowlist and a valid HS256 bearer token.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"`
	JWTSecret   string   `yaml:"jwt_secret" json:"-"`
	JWTIssuer   string   `yaml:"jwt_issuer" json:"jwt_issuer"`
	JWTAudience string   `yaml:"jwt_audience" json:"jwt_audience"`
}

// Policy captures the strictness knobs that used to vary between the
// deployed proxy variants. One service, one switch.
type Policy struct {
	RateLimitEnabled    bool
	StrictValidation    bool
	FullSecurityHeaders bool
	DebugLogging        bool
	WildcardCORS        bool
}

// IsDevelopment reports whether the proxy runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Policy derives the strictness policy from the environment flag.
func (c *Config) Policy() Policy {
	dev := c.IsDevelopment()
	return Policy{
		RateLimitEnabled:    !dev,
		StrictValidation:    !dev,
		FullSecurityHeaders: !dev,
		DebugLogging:        dev,
		WildcardCORS:        dev,
	}
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// APP_ENV=development or DEBUG=true in the process environment forces
// development mode regardless of the file, matching the legacy deployment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if os.Getenv("APP_ENV") == EnvDevelopment || os.Getenv("DEBUG") == "true" {
		cfg.Environment = EnvDevelopment
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = EnvProduction
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Must exceed the upstream total timeout or slow upstreams would
		// sever the client connection mid-response.
		cfg.Server.WriteTimeout = 45 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 60
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = 60 * time.Second
	}

	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "cache"
	}
	if cfg.Cache.Expiry == 0 {
		cfg.Cache.Expiry = 5 * time.Minute
	}
	if cfg.Cache.SweepChance == 0 {
		cfg.Cache.SweepChance = 100
	}

	if cfg.Upstream.ConnectTimeout == 0 {
		cfg.Upstream.ConnectTimeout = 10 * time.Second
	}
	if cfg.Upstream.TotalTimeout == 0 {
		cfg.Upstream.TotalTimeout = 30 * time.Second
	}
	if cfg.Upstream.MaxRedirects == 0 {
		cfg.Upstream.MaxRedirects = 3
	}
	if cfg.Upstream.RequestsPerSecond == 0 {
		cfg.Upstream.RequestsPerSecond = 4
	}
	if cfg.Upstream.Burst == 0 {
		cfg.Upstream.Burst = 4
	}

	br := &cfg.Upstream.Breaker
	if br.WindowSize == 0 {
		br.WindowSize = 10
	}
	if br.FailureThreshold == 0 {
		br.FailureThreshold = 0.5
	}
	if br.ResetTimeout == 0 {
		br.ResetTimeout = 30 * time.Second
	}
	if br.HalfOpenMax == 0 {
		br.HalfOpenMax = 2
	}

	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Environment != EnvDevelopment && cfg.Environment != EnvProduction {
		return fmt.Errorf("environment must be %q or %q, got %q", EnvDevelopment, EnvProduction, cfg.Environment)
	}
	if cfg.Server.GlobalTimeoutMs < 0 {
		return fmt.Errorf("server.global_timeout_ms must be non-negative")
	}

	if cfg.RateLimit.Requests < 1 {
		return fmt.Errorf("rate_limit.requests must be positive")
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}

	if cfg.Cache.Expiry <= 0 {
		return fmt.Errorf("cache.expiry must be positive")
	}
	if cfg.Cache.SweepChance < 1 {
		return fmt.Errorf("cache.sweep_chance must be positive")
	}

	if cfg.Upstream.ConnectTimeout <= 0 {
		return fmt.Errorf("upstream.connect_timeout must be positive")
	}
	if cfg.Upstream.TotalTimeout < cfg.Upstream.ConnectTimeout {
		return fmt.Errorf("upstream.total_timeout must be at least upstream.connect_timeout")
	}
	if cfg.Upstream.MaxRedirects < 0 {
		return fmt.Errorf("upstream.max_redirects must be non-negative")
	}
	if cfg.Upstream.RequestsPerSecond <= 0 {
		return fmt.Errorf("upstream.requests_per_second must be positive")
	}
	for id, raw := range cfg.Upstream.URLOverrides {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("upstream.url_overrides[%s]: invalid URL: %w", id, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("upstream.url_overrides[%s]: scheme must be http or https, got %q", id, u.Scheme)
		}
	}

	br := cfg.Upstream.Breaker
	if br.WindowSize < 1 {
		return fmt.Errorf("upstream.breaker.window_size must be positive")
	}
	if br.FailureThreshold <= 0 || br.FailureThreshold > 1 {
		return fmt.Errorf("upstream.breaker.failure_threshold must be between 0 (exclusive) and 1 (inclusive)")
	}
	if br.ResetTimeout <= 0 {
		return fmt.Errorf("upstream.breaker.reset_timeout must be positive")
	}
	if br.HalfOpenMax < 1 {
		return fmt.Errorf("upstream.breaker.half_open_max must be positive")
	}

	for i, cidr := range cfg.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("server.trusted_proxies[%d]: invalid CIDR %q: %w", i, cidr, err)
		}
	}

	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
		if cfg.Admin.JWTSecret == "" {
			return fmt.Errorf("admin.jwt_secret is required when admin is enabled")
		}
		if cfg.Admin.JWTIssuer == "" {
			return fmt.Errorf("admin.jwt_issuer is required when admin is enabled")
		}
		if cfg.Admin.JWTAudience == "" {
			return fmt.Errorf("admin.jwt_audience is required when admin is enabled")
		}
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Upstream.WeatherAPIKey == "" || strings.Contains(cfg.Upstream.WeatherAPIKey, "${") {
		warnings = append(warnings, "upstream.weatherapi_key is not configured; weatherapi requests will be refused in production and served demo data in development")
	}
	if cfg.Admin.Enabled && strings.Contains(cfg.Admin.JWTSecret, "${") {
		warnings = append(warnings, "admin.jwt_secret contains unresolved environment variable")
	}
	if !cfg.IsDevelopment() && len(cfg.CORS.Origins) == 0 {
		warnings = append(warnings, "cors.origins is empty in production; all browser origins will receive Access-Control-Allow-Origin: null")
	}
	return warnings
}
