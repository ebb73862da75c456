package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/obsidianstack/pagescore/agent/internal/compute"
	"github.com/obsidianstack/pagescore/pkg/types"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
agent:
  id: agent-eu-1
  server_endpoint: "localhost:50051"
  collect_interval: 10s
  buffer_size: 500
  workers: 2
  log_level: debug
  scoring:
    first-interactive: {median: 8000, podr: 1500}
  sources:
    - id: lab-runs
      type: spool
      path: /var/spool/pagescore
      include: ["**/*.json", "**/*.json.gz"]
      exclude: ["**/tmp/**"]
      manifest:
        trace_path: "$.artifacts.trace"
`
	cfg := loadFromString(t, yaml)

	if cfg.Agent.ID != "agent-eu-1" {
		t.Errorf("id: got %q", cfg.Agent.ID)
	}
	if cfg.Agent.ServerEndpoint != "localhost:50051" {
		t.Errorf("server_endpoint: got %q", cfg.Agent.ServerEndpoint)
	}
	if cfg.Agent.CollectInterval != 10*time.Second {
		t.Errorf("collect_interval: got %v", cfg.Agent.CollectInterval)
	}
	if cfg.Agent.BufferSize != 500 {
		t.Errorf("buffer_size: got %d", cfg.Agent.BufferSize)
	}
	if cfg.Agent.Workers != 2 {
		t.Errorf("workers: got %d", cfg.Agent.Workers)
	}
	want := compute.Calibration{Median: 8000, PODR: 1500}
	if got := cfg.Agent.Scoring[types.MetricFirstInteractive]; got != want {
		t.Errorf("scoring: got %+v, want %+v", got, want)
	}
	if len(cfg.Agent.Sources) != 1 {
		t.Fatalf("sources: got %d, want 1", len(cfg.Agent.Sources))
	}
	src := cfg.Agent.Sources[0]
	if src.Type != "spool" || src.Path != "/var/spool/pagescore" {
		t.Errorf("source: got %+v", src)
	}
	if len(src.Include) != 2 || len(src.Exclude) != 1 {
		t.Errorf("globs: include %v exclude %v", src.Include, src.Exclude)
	}
	if src.Manifest.TracePath != "$.artifacts.trace" {
		t.Errorf("trace_path: got %q", src.Manifest.TracePath)
	}
	if src.Manifest.URLPath != DefaultURLPath {
		t.Errorf("default url_path: got %q", src.Manifest.URLPath)
	}
}

func TestLoad_Defaults(t *testing.T) {
	yaml := `
agent:
  server_endpoint: "localhost:50051"
  sources:
    - id: remote
      type: http
      endpoint: "http://lab.internal/latest.json"
`
	cfg := loadFromString(t, yaml)

	if cfg.Agent.CollectInterval != DefaultCollectInterval {
		t.Errorf("default collect_interval: got %v, want %v", cfg.Agent.CollectInterval, DefaultCollectInterval)
	}
	if cfg.Agent.BufferSize != DefaultBufferSize {
		t.Errorf("default buffer_size: got %d, want %d", cfg.Agent.BufferSize, DefaultBufferSize)
	}
	if cfg.Agent.Workers != DefaultWorkers {
		t.Errorf("default workers: got %d, want %d", cfg.Agent.Workers, DefaultWorkers)
	}
	if cfg.Agent.LogLevel != DefaultLogLevel {
		t.Errorf("default log_level: got %q", cfg.Agent.LogLevel)
	}
	if cfg.Agent.ID == "" {
		t.Error("id should default to the hostname")
	}
	if got := cfg.Agent.Sources[0].Manifest.TracePath; got != DefaultTracePath {
		t.Errorf("default trace_path: got %q", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	yaml := `
agent:
  server_endpoint: "localhost:50051"
  workers: 2
`
	env := map[string]string{
		"PAGESCORE_SERVER_ENDPOINT":  "collector:6000",
		"PAGESCORE_WORKERS":          "8",
		"PAGESCORE_COLLECT_INTERVAL": "1m",
		"PAGESCORE_LOG_LEVEL":        "warn",
	}
	cfg, err := LoadWithEnv(writeConfig(t, yaml), func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Agent.ServerEndpoint != "collector:6000" {
		t.Errorf("server_endpoint: got %q", cfg.Agent.ServerEndpoint)
	}
	if cfg.Agent.Workers != 8 {
		t.Errorf("workers: got %d", cfg.Agent.Workers)
	}
	if cfg.Agent.CollectInterval != time.Minute {
		t.Errorf("collect_interval: got %v", cfg.Agent.CollectInterval)
	}
	if cfg.Agent.LogLevel != "warn" {
		t.Errorf("log_level: got %q", cfg.Agent.LogLevel)
	}
	if cfg.Agent.BufferSize != DefaultBufferSize {
		t.Errorf("unset override changed buffer_size: %d", cfg.Agent.BufferSize)
	}
}

func TestLoad_EnvOverrideInvalid(t *testing.T) {
	_, err := LoadWithEnv(writeConfig(t, "agent:\n  server_endpoint: x:1\n"), func(k string) (string, bool) {
		if k == "PAGESCORE_COLLECT_INTERVAL" {
			return "soon", true
		}
		return "", false
	})
	if err == nil {
		t.Fatal("expected error for unparsable duration, got nil")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing server endpoint",
			yaml:    "agent:\n  workers: 1\n",
			wantErr: "server_endpoint",
		},
		{
			name: "unknown source type",
			yaml: `
agent:
  server_endpoint: "localhost:50051"
  sources:
    - id: mystery
      type: kafka
`,
			wantErr: "unknown type",
		},
		{
			name: "spool without path",
			yaml: `
agent:
  server_endpoint: "localhost:50051"
  sources:
    - id: spool
      type: spool
`,
			wantErr: "path is required",
		},
		{
			name: "duplicate source id",
			yaml: `
agent:
  server_endpoint: "localhost:50051"
  sources:
    - {id: a, type: spool, path: /a}
    - {id: a, type: spool, path: /b}
`,
			wantErr: "duplicate",
		},
		{
			name: "unknown auth mode",
			yaml: `
agent:
  server_endpoint: "localhost:50051"
  sources:
    - id: remote
      type: http
      endpoint: "http://lab/"
      auth:
        mode: magictoken
`,
			wantErr: "auth mode",
		},
		{
			name: "invalid calibration",
			yaml: `
agent:
  server_endpoint: "localhost:50051"
  scoring:
    first-meaningful-paint: {median: 1000, podr: 2000}
`,
			wantErr: "agent.scoring",
		},
		{
			name: "calibration for unscored metric",
			yaml: `
agent:
  server_endpoint: "localhost:50051"
  scoring:
    user-timings: {median: 10, podr: 5}
`,
			wantErr: "not scored",
		},
		{
			name:    "bad log level",
			yaml:    "agent:\n  server_endpoint: x:1\n  log_level: loud\n",
			wantErr: "log_level",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadWithEnv(writeConfig(t, tc.yaml), noEnv)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestAuthConfig_Key(t *testing.T) {
	t.Setenv("TEST_API_KEY", "supersecret")
	a := AuthConfig{Mode: "apikey", KeyEnv: "TEST_API_KEY"}
	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q, want %q", got, "supersecret")
	}
}

func TestAuthConfig_Key_Empty(t *testing.T) {
	a := AuthConfig{Mode: "apikey"}
	if got := a.Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
}

func TestAuthConfig_Token(t *testing.T) {
	t.Setenv("TEST_BEARER_TOKEN", "mytoken")
	a := AuthConfig{Mode: "bearer", TokenEnv: "TEST_BEARER_TOKEN"}
	if got := a.Token(); got != "mytoken" {
		t.Errorf("Token(): got %q, want %q", got, "mytoken")
	}
}

func TestAuthConfig_EffectiveHeader(t *testing.T) {
	if got := (AuthConfig{}).EffectiveHeader(); got != "x-api-key" {
		t.Errorf("default header: got %q", got)
	}
	if got := (AuthConfig{Header: "x-token"}).EffectiveHeader(); got != "x-token" {
		t.Errorf("custom header: got %q", got)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "agent:\n  server_endpoint: a:1\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { changed <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("agent:\n  server_endpoint: b:2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changed:
		if c.Agent.ServerEndpoint != "b:2" {
			t.Errorf("reloaded endpoint: got %q", c.Agent.ServerEndpoint)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}

func TestWatch_SkipsUnchangedAndInvalid(t *testing.T) {
	const original = "agent:\n  server_endpoint: a:1\n"
	path := writeConfig(t, original)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { changed <- c }) }()
	time.Sleep(100 * time.Millisecond)

	for _, content := range []string{original, "agent: [not, a, map\n", "agent:\n  server_endpoint: c:3\n"} {
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(400 * time.Millisecond)
	}

	select {
	case c := <-changed:
		if c.Agent.ServerEndpoint != "c:3" {
			t.Errorf("first reload: got %q, want c:3", c.Agent.ServerEndpoint)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s")
	}
	select {
	case c := <-changed:
		t.Errorf("unexpected extra reload: %q", c.Agent.ServerEndpoint)
	default:
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), func(*Config) {})
	if err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func noEnv(string) (string, bool) { return "", false }

// loadFromString writes yaml to a temp file and loads it without env
// overrides, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := LoadWithEnv(writeConfig(t, content), noEnv)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
