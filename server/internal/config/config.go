package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier. Cooldowns are tracked per
	// rule name and page URL.
	Name string `yaml:"name"`

	// Condition is "<metric>.<field> <op> <value>", e.g.
	// "first-interactive.raw > 5000", "estimated-input-latency.score < 50",
	// "time-to-interactive.failed == true".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultGRPCPort        = 50051
	DefaultHTTPPort        = 8080
	DefaultReportTTL       = 24 * time.Hour
	DefaultMaxReports      = 10000
	DefaultSummaryInterval = 5 * time.Second
	DefaultLogLevel        = "info"
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// GRPCPort is the port the gRPC receiver listens on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Auth configures how the server authenticates incoming gRPC clients.
	Auth AuthConfig `yaml:"auth"`

	// Store controls in-memory report retention.
	Store StoreConfig `yaml:"store"`

	// Stream controls the websocket report stream.
	Stream StreamConfig `yaml:"stream"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StoreConfig controls in-memory report retention.
type StoreConfig struct {
	// TTL is how long a report stays queryable after it was received.
	// Aggregates are not affected by eviction. Default: 24h.
	TTL time.Duration `yaml:"ttl"`

	// MaxReports caps the number of retained reports; the oldest are evicted
	// first. Default: 10000.
	MaxReports int `yaml:"max_reports"`
}

// StreamConfig controls the websocket hub.
type StreamConfig struct {
	// SummaryInterval is how often the per-URL summary is pushed. Default: 5s.
	SummaryInterval time.Duration `yaml:"summary_interval"`
}

// envOverrides are the PAGESCORE_SERVER_* variables.
type envOverrides struct {
	GRPCPort  null.Int    `envconfig:"PAGESCORE_SERVER_GRPC_PORT"`
	HTTPPort  null.Int    `envconfig:"PAGESCORE_SERVER_HTTP_PORT"`
	LogLevel  null.String `envconfig:"PAGESCORE_SERVER_LOG_LEVEL"`
	ReportTTL null.String `envconfig:"PAGESCORE_SERVER_REPORT_TTL"`
}

// Load reads and parses the config file at path, returning the server
// configuration. PAGESCORE_SERVER_* variables override file values.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, fmt.Errorf("server config: env: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			LogLevel: DefaultLogLevel,
			Store: StoreConfig{
				TTL:        DefaultReportTTL,
				MaxReports: DefaultMaxReports,
			},
			Stream: StreamConfig{
				SummaryInterval: DefaultSummaryInterval,
			},
		},
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var env envOverrides
	if err := envconfig.Process("", &env, lookup); err != nil {
		return err
	}
	s := &cfg.Server
	if env.GRPCPort.Valid {
		s.GRPCPort = int(env.GRPCPort.Int64)
	}
	if env.HTTPPort.Valid {
		s.HTTPPort = int(env.HTTPPort.Int64)
	}
	if env.LogLevel.Valid {
		s.LogLevel = env.LogLevel.String
	}
	if env.ReportTTL.Valid {
		d, err := time.ParseDuration(env.ReportTTL.String)
		if err != nil {
			return fmt.Errorf("PAGESCORE_SERVER_REPORT_TTL: %w", err)
		}
		s.Store.TTL = d
	}
	return nil
}

// validate reports every structural problem in cfg at once.
func validate(cfg *Config) error {
	s := cfg.Server
	var errs []error
	fail := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	for name, port := range map[string]int{"grpc_port": s.GRPCPort, "http_port": s.HTTPPort} {
		if port <= 0 || port > 65535 {
			fail("server.%s %d is out of range [1, 65535]", name, port)
		}
	}
	if s.GRPCPort == s.HTTPPort {
		fail("server.grpc_port and server.http_port are both %d", s.GRPCPort)
	}
	if !slices.Contains(logLevels, strings.ToLower(s.LogLevel)) {
		fail("server.log_level: unknown level %q", s.LogLevel)
	}
	if s.Auth.Mode != "" && !slices.Contains(authModes, s.Auth.Mode) {
		fail("server.auth.mode %q unknown: want %s", s.Auth.Mode, strings.Join(authModes, "|"))
	}
	if s.Store.TTL < 0 {
		fail("server.store.ttl must not be negative")
	}
	if s.Store.MaxReports < 0 {
		fail("server.store.max_reports must not be negative")
	}
	if s.Stream.SummaryInterval <= 0 {
		fail("server.stream.summary_interval must be positive")
	}

	seen := make(map[string]bool, len(s.Alerts.Rules))
	for i, r := range s.Alerts.Rules {
		switch {
		case r.Name == "" || r.Condition == "":
			fail("server.alerts.rules[%d]: name and condition are required", i)
		case seen[r.Name]:
			fail("server.alerts.rules[%d]: duplicate rule name %q", i, r.Name)
		}
		seen[r.Name] = true
		if r.Severity != "" && !slices.Contains(severities, r.Severity) {
			fail("server.alerts.rules[%d]: severity %q unknown: want %s", i, r.Severity, strings.Join(severities, "|"))
		}
	}
	for i, w := range s.Alerts.Webhooks {
		if !slices.Contains(webhookTypes, w.Type) {
			fail("server.alerts.webhooks[%d]: unknown type %q: want %s", i, w.Type, strings.Join(webhookTypes, "|"))
		}
	}
	return errors.Join(errs...)
}

var (
	logLevels    = []string{"debug", "info", "warn", "error"}
	authModes    = []string{"apikey", "none"}
	severities   = []string{"critical", "warning", "info"}
	webhookTypes = []string{"slack", "http"}
)
