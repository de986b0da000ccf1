package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Environment != EnvProduction {
		t.Errorf("expected default environment production, got %q", cfg.Environment)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.Requests != 60 {
		t.Errorf("expected default rate limit 60, got %d", cfg.RateLimit.Requests)
	}
	if cfg.RateLimit.Window != 60*time.Second {
		t.Errorf("expected default window 60s, got %v", cfg.RateLimit.Window)
	}
	if cfg.Cache.Expiry != 5*time.Minute {
		t.Errorf("expected default cache expiry 5m, got %v", cfg.Cache.Expiry)
	}
	if cfg.Cache.SweepChance != 100 {
		t.Errorf("expected default sweep chance 100, got %d", cfg.Cache.SweepChance)
	}
	if cfg.Upstream.ConnectTimeout != 10*time.Second {
		t.Errorf("expected default connect timeout 10s, got %v", cfg.Upstream.ConnectTimeout)
	}
	if cfg.Upstream.TotalTimeout != 30*time.Second {
		t.Errorf("expected default total timeout 30s, got %v", cfg.Upstream.TotalTimeout)
	}
	if cfg.Upstream.MaxRedirects != 3 {
		t.Errorf("expected default max redirects 3, got %d", cfg.Upstream.MaxRedirects)
	}
	if !cfg.Metrics.IsEnabled() {
		t.Error("expected metrics enabled by default")
	}
}

func TestLoadFromBytes_FullConfig(t *testing.T) {
	yaml := []byte(`
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 50s
  trusted_proxies: ["10.0.0.0/8"]
  global_timeout_ms: 20000
environment: development
cors:
  origins: ["https://example.com"]
rate_limit:
  requests: 30
  window: 30s
cache:
  dir: /tmp/proxy-cache
  expiry: 10m
  sweep_chance: 50
upstream:
  weatherapi_key: "abc123"
  connect_timeout: 5s
  total_timeout: 15s
  url_overrides:
    hurdat2: "https://mirror.example.net/hurdat2.txt"
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development mode")
	}
	if cfg.Server.GlobalTimeout() != 20*time.Second {
		t.Errorf("expected global timeout 20s, got %v", cfg.Server.GlobalTimeout())
	}
	if cfg.RateLimit.Requests != 30 {
		t.Errorf("expected rate limit 30, got %d", cfg.RateLimit.Requests)
	}
	if cfg.Upstream.WeatherAPIKey != "abc123" {
		t.Errorf("expected weatherapi key to load, got %q", cfg.Upstream.WeatherAPIKey)
	}
	if cfg.Upstream.URLOverrides["hurdat2"] != "https://mirror.example.net/hurdat2.txt" {
		t.Errorf("expected url override, got %q", cfg.Upstream.URLOverrides["hurdat2"])
	}
}

func TestLoadFromBytes_EnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_WEATHERAPI_KEY", "from-env")

	cfg, err := LoadFromBytes([]byte(`
upstream:
  weatherapi_key: ${TEST_WEATHERAPI_KEY}
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Upstream.WeatherAPIKey != "from-env" {
		t.Errorf("expected substituted key, got %q", cfg.Upstream.WeatherAPIKey)
	}
}

func TestLoadFromBytes_UnsetEnvVarKept(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
upstream:
  weatherapi_key: ${DEFINITELY_NOT_SET_ANYWHERE_42}
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(cfg.Upstream.WeatherAPIKey, "${") {
		t.Errorf("expected unresolved placeholder to survive, got %q", cfg.Upstream.WeatherAPIKey)
	}

	found := false
	for _, w := range cfg.Warnings {
		if strings.Contains(w, "weatherapi_key") {
			found = true
		}
	}
	if !found {
		t.Error("expected a warning about the unconfigured weatherapi key")
	}
}

func TestLoadFromBytes_AppEnvOverride(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := LoadFromBytes([]byte(`environment: production`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.IsDevelopment() {
		t.Error("APP_ENV=development should force development mode")
	}
}

func TestLoadFromBytes_DebugOverride(t *testing.T) {
	t.Setenv("DEBUG", "true")

	cfg, err := LoadFromBytes([]byte(`environment: production`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.IsDevelopment() {
		t.Error("DEBUG=true should force development mode")
	}
}

func TestLoadFromBytes_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  port: 70000"},
		{"bad environment", "environment: staging"},
		{"zero rate limit", "rate_limit:\n  requests: -1"},
		{"negative cache expiry", "cache:\n  expiry: -1s"},
		{"bad trusted proxy", "server:\n  trusted_proxies: [\"not-a-cidr\"]"},
		{"bad override scheme", "upstream:\n  url_overrides:\n    hurdat2: \"ftp://example.com/x\""},
		{"total below connect", "upstream:\n  connect_timeout: 20s\n  total_timeout: 5s"},
		{"breaker threshold", "upstream:\n  breaker:\n    failure_threshold: 1.5"},
		{"admin without allowlist", "admin:\n  enabled: true\n  jwt_secret: s\n  jwt_issuer: i\n  jwt_audience: a"},
		{"admin without secret", "admin:\n  enabled: true\n  ip_allowlist: [\"10.0.0.0/8\"]\n  jwt_issuer: i\n  jwt_audience: a"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadFromBytes([]byte(tc.yaml)); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestPolicy_Production(t *testing.T) {
	cfg := &Config{Environment: EnvProduction}
	p := cfg.Policy()

	if !p.RateLimitEnabled || !p.StrictValidation || !p.FullSecurityHeaders {
		t.Error("production policy should enable rate limiting, strict validation, and security headers")
	}
	if p.DebugLogging || p.WildcardCORS {
		t.Error("production policy should disable debug logging and wildcard CORS")
	}
}

func TestPolicy_Development(t *testing.T) {
	cfg := &Config{Environment: EnvDevelopment}
	p := cfg.Policy()

	if p.RateLimitEnabled || p.StrictValidation || p.FullSecurityHeaders {
		t.Error("development policy should relax rate limiting, validation, and security headers")
	}
	if !p.DebugLogging || !p.WildcardCORS {
		t.Error("development policy should enable debug logging and wildcard CORS")
	}
}

func TestCollectWarnings_EmptyCORSInProduction(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`environment: production`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, w := range cfg.Warnings {
		if strings.Contains(w, "cors.origins") {
			found = true
		}
	}
	if !found {
		t.Error("expected a warning about empty cors.origins in production")
	}
}
