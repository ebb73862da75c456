package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/pagescore/agent/internal/compute"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultCollectInterval = 30 * time.Second
	DefaultBufferSize      = 1000
	DefaultWorkers         = 4
	DefaultShipRate        = 10.0
	DefaultShipBurst       = 20
	DefaultLogLevel        = "info"
)

// Default JSONPath expressions used to locate artifacts inside a manifest.
const (
	DefaultTracePath       = "$.trace"
	DefaultDevtoolsLogPath = "$.devtoolsLog"
	DefaultRecordsPath     = "$.networkRecords"
	DefaultChainsPath      = "$.criticalRequestChains"
	DefaultURLPath         = "$.url"
	DefaultTraceOfTabPath  = "$.traceOfTab"
)

// Config is the top-level agent configuration.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ID identifies this agent in shipped reports. Defaults to the hostname.
	ID string `yaml:"id"`

	// ServerEndpoint is the gRPC address of pagescore-server (host:port).
	ServerEndpoint string `yaml:"server_endpoint"`

	// CollectInterval controls how often each source is polled for bundles.
	CollectInterval time.Duration `yaml:"collect_interval"`

	// BufferSize is the maximum number of reports held in memory when
	// the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// Workers bounds how many bundles are analyzed in parallel.
	Workers int `yaml:"workers"`

	// ShipRate and ShipBurst limit report sends per second.
	ShipRate  float64 `yaml:"ship_rate"`
	ShipBurst int     `yaml:"ship_burst"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Sources is the list of places captured page loads are collected from.
	Sources []Source `yaml:"sources"`

	// Scoring overrides the per-metric calibration curves, keyed by metric ID.
	Scoring map[string]compute.Calibration `yaml:"scoring"`

	// ServerAuth configures how the agent authenticates to pagescore-server.
	// Supports: mtls | apikey | none.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// Source describes one place bundles are collected from.
type Source struct {
	// ID is a unique, human-readable identifier for this source.
	ID string `yaml:"id"`

	// Type is one of: spool | http.
	Type string `yaml:"type"`

	// Path is the spool directory. Used when Type == "spool".
	Path string `yaml:"path"`

	// Include and Exclude are doublestar globs relative to Path.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`

	// Endpoint is the URL a bundle or trace is fetched from. Used when Type == "http".
	Endpoint string `yaml:"endpoint"`

	// Manifest locates artifacts inside JSON manifests.
	Manifest ManifestConfig `yaml:"manifest"`

	// Auth configures how the agent authenticates to this source.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// ManifestConfig holds JSONPath expressions into a bundle manifest. Each
// expression may resolve to inline JSON or to a string reference (a path
// relative to the manifest, or a URL).
type ManifestConfig struct {
	TracePath       string `yaml:"trace_path"`
	DevtoolsLogPath string `yaml:"devtools_log_path"`
	RecordsPath     string `yaml:"records_path"`
	ChainsPath      string `yaml:"chains_path"`
	URLPath         string `yaml:"url_path"`
	TraceOfTabPath  string `yaml:"trace_of_tab_path"`
}

// AuthConfig specifies the authentication mode for a source or the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header (or gRPC metadata key) that carries the API key.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is the name of the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the literal basic-auth username.
	Username string `yaml:"username"`
	// PasswordEnv is the name of the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// EffectiveHeader returns the configured header name, or "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// TLSConfig holds per-source TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// envOverrides are the PAGESCORE_* variables. Unset variables leave the file
// values alone.
type envOverrides struct {
	ID              null.String `envconfig:"PAGESCORE_AGENT_ID"`
	ServerEndpoint  null.String `envconfig:"PAGESCORE_SERVER_ENDPOINT"`
	CollectInterval null.String `envconfig:"PAGESCORE_COLLECT_INTERVAL"`
	BufferSize      null.Int    `envconfig:"PAGESCORE_BUFFER_SIZE"`
	Workers         null.Int    `envconfig:"PAGESCORE_WORKERS"`
	ShipRate        null.Float  `envconfig:"PAGESCORE_SHIP_RATE"`
	LogLevel        null.String `envconfig:"PAGESCORE_LOG_LEVEL"`
}

// Load reads the YAML config file at path and applies PAGESCORE_*
// environment overrides from the process environment.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	if cfg.Agent.ID == "" {
		cfg.Agent.ID, _ = os.Hostname()
	}
	applyManifestDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			CollectInterval: DefaultCollectInterval,
			BufferSize:      DefaultBufferSize,
			Workers:         DefaultWorkers,
			ShipRate:        DefaultShipRate,
			ShipBurst:       DefaultShipBurst,
			LogLevel:        DefaultLogLevel,
		},
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var env envOverrides
	if err := envconfig.Process("", &env, lookup); err != nil {
		return err
	}
	a := &cfg.Agent
	if env.ID.Valid {
		a.ID = env.ID.String
	}
	if env.ServerEndpoint.Valid {
		a.ServerEndpoint = env.ServerEndpoint.String
	}
	if env.CollectInterval.Valid {
		d, err := time.ParseDuration(env.CollectInterval.String)
		if err != nil {
			return fmt.Errorf("PAGESCORE_COLLECT_INTERVAL: %w", err)
		}
		a.CollectInterval = d
	}
	if env.BufferSize.Valid {
		a.BufferSize = int(env.BufferSize.Int64)
	}
	if env.Workers.Valid {
		a.Workers = int(env.Workers.Int64)
	}
	if env.ShipRate.Valid {
		a.ShipRate = env.ShipRate.Float64
	}
	if env.LogLevel.Valid {
		a.LogLevel = env.LogLevel.String
	}
	return nil
}

func applyManifestDefaults(cfg *Config) {
	for i := range cfg.Agent.Sources {
		m := &cfg.Agent.Sources[i].Manifest
		setDefault(&m.TracePath, DefaultTracePath)
		setDefault(&m.DevtoolsLogPath, DefaultDevtoolsLogPath)
		setDefault(&m.RecordsPath, DefaultRecordsPath)
		setDefault(&m.ChainsPath, DefaultChainsPath)
		setDefault(&m.URLPath, DefaultURLPath)
		setDefault(&m.TraceOfTabPath, DefaultTraceOfTabPath)
	}
}

func setDefault(s *string, v string) {
	if *s == "" {
		*s = v
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if a.CollectInterval <= 0 {
		return fmt.Errorf("agent.collect_interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if a.Workers <= 0 {
		return fmt.Errorf("agent.workers must be positive")
	}
	if a.ShipRate <= 0 || a.ShipBurst <= 0 {
		return fmt.Errorf("agent.ship_rate and agent.ship_burst must be positive")
	}
	switch strings.ToLower(a.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent.log_level: unknown level %q", a.LogLevel)
	}
	if _, err := compute.NewScorer(a.Scoring); err != nil {
		return fmt.Errorf("agent.scoring: %w", err)
	}
	switch a.ServerAuth.Mode {
	case "mtls", "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
	}

	seen := make(map[string]bool, len(a.Sources))
	for i, src := range a.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		switch src.Type {
		case "spool":
			if src.Path == "" {
				return fmt.Errorf("sources[%d] %q: path is required", i, src.ID)
			}
		case "http":
			if src.Endpoint == "" {
				return fmt.Errorf("sources[%d] %q: endpoint is required", i, src.ID)
			}
		default:
			return fmt.Errorf("sources[%d] %q: unknown type %q", i, src.ID, src.Type)
		}
		switch src.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("sources[%d] %q: unknown auth mode %q", i, src.ID, src.Auth.Mode)
		}
	}
	return nil
}
