// Package config loads the application configuration from YAML with
// environment overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree consumed by the skeleton.
type Config struct {
	Debug      bool   `yaml:"debug"`
	ServerName string `yaml:"server_name"`
	ListenAddr string `yaml:"listen_addr"`
	APIVersion string `yaml:"api_version"`

	PreferredURLScheme string `yaml:"preferred_url_scheme"`
	ForceHTTPS         bool   `yaml:"force_https"`

	RequestID RequestIDConfig `yaml:"request_id"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Override  OverrideConfig  `yaml:"method_override"`
	JWT       JWTConfig       `yaml:"jwt"`
	IPBan     IPBanConfig     `yaml:"ipban"`
	Limiter   LimiterConfig   `yaml:"limiter"`
	Render    RenderConfig    `yaml:"render"`
	Health    HealthConfig    `yaml:"healthcheck"`
	Errors    ErrorConfig     `yaml:"errors"`
	RPC       RPCConfig       `yaml:"jsonrpc"`
	Version   VersionConfig   `yaml:"version_check"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
}

// RequestIDConfig controls correlation-id acceptance.
type RequestIDConfig struct {
	Header      string `yaml:"header"`
	TrustPrefix string `yaml:"trust_prefix"`
}

// ProxyConfig sets per-header trust counts for X-Forwarded-* unwrapping.
// A count of N trusts the N rightmost hops for that header; zero disables.
type ProxyConfig struct {
	ForCount    int `yaml:"for_count"`
	ProtoCount  int `yaml:"proto_count"`
	HostCount   int `yaml:"host_count"`
	PortCount   int `yaml:"port_count"`
	PrefixCount int `yaml:"prefix_count"`
}

// Trusted reports whether any forwarded header is trusted at all.
func (p ProxyConfig) Trusted() bool {
	return p.ForCount > 0 || p.ProtoCount > 0 || p.HostCount > 0 || p.PortCount > 0 || p.PrefixCount > 0
}

// OverrideConfig controls the HTTP method override hook.
type OverrideConfig struct {
	Methods []string `yaml:"methods"`
}

// JWTConfig controls the token service.
type JWTConfig struct {
	SecretKey      string        `yaml:"secret_key"`
	SecretKeyFile  string        `yaml:"secret_key_file"`
	TokenType      string        `yaml:"token_type"`
	AccessExpires  time.Duration `yaml:"access_expires"`
	RefreshExpires time.Duration `yaml:"refresh_expires"`
	Issuer         string        `yaml:"issuer"`
}

// IPBanConfig controls the abuse-control ban service.
type IPBanConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Threshold     int           `yaml:"threshold"`
	TTL           time.Duration `yaml:"ttl"`
	BanStatus     int           `yaml:"ban_status"`
	TriggerStatus []int         `yaml:"trigger_status"`
	KeyPrefix     string        `yaml:"key_prefix"`
	Whitelist     []string      `yaml:"whitelist"`
	Blacklist     []string      `yaml:"blacklist"`
}

// LimiterConfig carries the five named profiles plus bypass settings.
// Rates use the form "<count>/<unit>", e.g. "100/minute".
type LimiterConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Default     string `yaml:"default"`
	Fail        string `yaml:"fail"`
	Slow        string `yaml:"slow"`
	Medium      string `yaml:"medium"`
	Fast        string `yaml:"fast"`
	BypassKey   string `yaml:"bypass_key"`
	BypassValue string `yaml:"bypass_value"`
	KeyPrefix   string `yaml:"key_prefix"`
}

// RenderConfig controls the response builder registry.
type RenderConfig struct {
	DefaultFormat string `yaml:"default_format"`
	FormatKey     string `yaml:"format_key"`
	CSVSeparator  string `yaml:"csv_separator"`
	CSVFilename   string `yaml:"csv_filename"`
	XMLRoot       string `yaml:"xml_root"`
	JSONPCallback string `yaml:"jsonp_callback"`
	// StrictAccept turns an unsatisfiable Accept header into a 406
	// instead of falling back to the default serializer.
	StrictAccept bool `yaml:"strict_accept"`
}

// HealthConfig controls the health aggregator.
type HealthConfig struct {
	Path         string        `yaml:"path"`
	FailStatus   int           `yaml:"fail_status"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	Deadline     time.Duration `yaml:"deadline"`
	Parallelism  int           `yaml:"parallelism"`
	About        string        `yaml:"about"`
}

// ErrorConfig controls problem-document emission.
type ErrorConfig struct {
	// ContentTypeID, when set, forces application/<id>+json (or +xml).
	ContentTypeID string `yaml:"content_type_id"`
	TypeBase      string `yaml:"type_base"`
	// DispatchMode routes top-level 404/405s: default, subdomain, or
	// urlprefix.
	DispatchMode string `yaml:"dispatch_mode"`
}

// RPCConfig controls the JSON-RPC dispatcher.
type RPCConfig struct {
	Path     string `yaml:"path"`
	BatchCap int    `yaml:"batch_cap"`
}

// VersionConfig controls the stale-client check.
type VersionConfig struct {
	Header  string `yaml:"header"`
	Minimum string `yaml:"minimum"`
}

// RedisConfig selects the remote key-value backend when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig selects the SQL deny-list backend when DSN is set.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ListenAddr:         ":8080",
		APIVersion:         "1.0.0",
		PreferredURLScheme: "https",
		RequestID: RequestIDConfig{
			Header: "X-Request-ID",
		},
		Override: OverrideConfig{
			Methods: []string{"POST"},
		},
		JWT: JWTConfig{
			TokenType:      "bearer",
			AccessExpires:  time.Hour,
			RefreshExpires: 30 * 24 * time.Hour,
			Issuer:         "vessel",
		},
		IPBan: IPBanConfig{
			Enabled:       true,
			Threshold:     20,
			TTL:           time.Hour,
			BanStatus:     403,
			TriggerStatus: []int{404, 405, 501},
			KeyPrefix:     "ipban::",
		},
		Limiter: LimiterConfig{
			Enabled:   true,
			Default:   "500/hour",
			Fail:      "30/minute",
			Slow:      "10/minute",
			Medium:    "60/minute",
			Fast:      "300/minute",
			BypassKey: "X-Limiter-Bypass",
			KeyPrefix: "ratelimit::",
		},
		Render: RenderConfig{
			DefaultFormat: "json",
			FormatKey:     "format",
			CSVSeparator:  "_",
			CSVFilename:   "export",
			XMLRoot:       "root",
			JSONPCallback: "callback",
		},
		Health: HealthConfig{
			Path:         "/healthcheck",
			FailStatus:   503,
			ProbeTimeout: 5 * time.Second,
			Deadline:     10 * time.Second,
			Parallelism:  4,
		},
		RPC: RPCConfig{
			Path:     "/jsonrpc",
			BatchCap: 32,
		},
		Version: VersionConfig{
			Header: "X-Mobile-Version",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file over the defaults, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists, otherwise returns defaults
// with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DEBUG"); v != "" {
		c.Debug, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("SERVER_NAME"); v != "" {
		c.ServerName = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("JWT_SECRET_KEY"); v != "" {
		c.JWT.SecretKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate fails fast on misconfiguration.
func (c *Config) Validate() error {
	if c.IPBan.Enabled && c.IPBan.Threshold <= 0 {
		return fmt.Errorf("ipban: threshold must be positive, got %d", c.IPBan.Threshold)
	}
	if c.IPBan.BanStatus < 400 || c.IPBan.BanStatus > 599 {
		return fmt.Errorf("ipban: ban_status %d outside 400..599", c.IPBan.BanStatus)
	}
	for _, rate := range []string{c.Limiter.Default, c.Limiter.Fail, c.Limiter.Slow, c.Limiter.Medium, c.Limiter.Fast} {
		if rate == "" {
			continue
		}
		if _, _, err := ParseRate(rate); err != nil {
			return err
		}
	}
	switch c.Errors.DispatchMode {
	case "", "default", "subdomain", "urlprefix":
	default:
		return fmt.Errorf("errors: unknown dispatch_mode %q", c.Errors.DispatchMode)
	}
	if c.RPC.BatchCap <= 0 {
		return fmt.Errorf("jsonrpc: batch_cap must be positive, got %d", c.RPC.BatchCap)
	}
	if c.Health.Parallelism <= 0 {
		return fmt.Errorf("healthcheck: parallelism must be positive, got %d", c.Health.Parallelism)
	}
	if c.Database.DSN != "" && c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	return nil
}

// ParseRate parses "<count>/<unit>" where unit is second|minute|hour|day.
func ParseRate(rate string) (int, time.Duration, error) {
	parts := strings.SplitN(strings.TrimSpace(rate), "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("rate %q: want <count>/<unit>", rate)
	}
	count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || count <= 0 {
		return 0, 0, fmt.Errorf("rate %q: bad count", rate)
	}
	var window time.Duration
	switch strings.ToLower(strings.TrimSpace(parts[1])) {
	case "second", "sec", "s":
		window = time.Second
	case "minute", "min", "m":
		window = time.Minute
	case "hour", "h":
		window = time.Hour
	case "day", "d":
		window = 24 * time.Hour
	default:
		return 0, 0, fmt.Errorf("rate %q: unknown window unit", rate)
	}
	return count, window, nil
}
