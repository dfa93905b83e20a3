// ABOUTME: Configuration loading and parsing for inbox-gateway
// ABOUTME: Reads YAML or TOML with ${VAR} expansion, duration parsing, defaults and validation

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty.
const (
	DefaultHTTPAddr        = ":8080"
	DefaultWhatsAppAPIURL  = "https://graph.facebook.com/v22.0"
	DefaultRequestTimeout  = 15 * time.Second
	DefaultTokenTTL        = 24 * time.Hour
	DefaultAMQPExchange    = "inbox.events"
	DefaultMetricsPath     = "/metrics"
	DefaultDedupeTTL       = time.Hour
	MinJWTSecretLength     = 32
	EnvDatabasePath        = "INBOX_DB_PATH"
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultTailscaleSuffix = "inbox"
)

// Config represents the complete inbox-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp" toml:"whatsapp"`
	Events    EventsConfig    `yaml:"events" toml:"events"`
	Realtime  RealtimeConfig  `yaml:"realtime" toml:"realtime"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve TLS with a Tailscale-issued cert
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Public Funnel (implies HTTPS); needed for provider webhooks
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// WhatsAppConfig holds the Cloud API connection
type WhatsAppConfig struct {
	APIURL         string        `yaml:"api_url" toml:"api_url"`
	APIToken       string        `yaml:"api_token" toml:"api_token"`
	PhoneNumberID  string        `yaml:"phone_number_id" toml:"phone_number_id"`
	VerifyToken    string        `yaml:"verify_token" toml:"verify_token"`
	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	DedupeTTL      time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
	DedupeTTLRaw      string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// EventsConfig configures the optional AMQP event relay
type EventsConfig struct {
	AMQPURL      string `yaml:"amqp_url" toml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange" toml:"amqp_exchange"`
}

// RealtimeConfig configures the websocket endpoint
type RealtimeConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded and
// INBOX_DB_PATH overrides database.path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(string(data), strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration text. It applies the same expansion,
// defaults and validation as Load.
func Parse(raw string, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(raw)

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if dbPath := os.Getenv(EnvDatabasePath); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		c.Tailscale.Hostname = defaultTailscaleSuffix
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.WhatsApp.APIURL == "" {
		c.WhatsApp.APIURL = DefaultWhatsAppAPIURL
	}
	if c.WhatsApp.RequestTimeout == 0 {
		c.WhatsApp.RequestTimeout = DefaultRequestTimeout
	}
	if c.WhatsApp.DedupeTTL == 0 {
		c.WhatsApp.DedupeTTL = DefaultDedupeTTL
	}
	if c.Events.AMQPExchange == "" {
		c.Events.AMQPExchange = DefaultAMQPExchange
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	u, err := url.Parse(c.WhatsApp.APIURL)
	if err != nil {
		return fmt.Errorf("whatsapp.api_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("whatsapp.api_url must use http or https scheme")
	}
	if c.WhatsApp.APIToken != "" && c.WhatsApp.PhoneNumberID == "" {
		return fmt.Errorf("whatsapp.phone_number_id is required when api_token is set")
	}
	if c.WhatsApp.RequestTimeout < 0 {
		return fmt.Errorf("whatsapp.request_timeout must be positive")
	}

	if c.Events.AMQPURL != "" {
		u, err := url.Parse(c.Events.AMQPURL)
		if err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
			return fmt.Errorf("events.amqp_url must be an amqp:// or amqps:// URL")
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"whatsapp.request_timeout", cfg.WhatsApp.RequestTimeoutRaw, &cfg.WhatsApp.RequestTimeout},
		{"whatsapp.dedupe_ttl", cfg.WhatsApp.DedupeTTLRaw, &cfg.WhatsApp.DedupeTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// WhatsAppEnabled reports whether outbound provider calls are configured.
func (c *Config) WhatsAppEnabled() bool {
	return c.WhatsApp.APIToken != "" && c.WhatsApp.PhoneNumberID != ""
}
