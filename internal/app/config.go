package app

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes "15m"-style strings from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"15m\"")
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the YAML configuration of the bridge process. Every knob the
// protocol's configuration keys name lives here; flags only select the
// file and process-level concerns.
type Config struct {
	Server    ServerConfig  `yaml:"server"`
	Admin     AdminConfig   `yaml:"admin"`
	Agent     AgentConfig   `yaml:"agent"`
	Limits    LimitsConfig  `yaml:"limits"`
	History   HistoryConfig `yaml:"history"`
	Debug     DebugConfig   `yaml:"debug"`
	Policy    PolicyConfig  `yaml:"policy"`
	Audit     AuditConfig   `yaml:"audit"`
	Tracing   TracingConfig `yaml:"tracing"`
	Qualifier string        `yaml:"qualifier"`

	Dispatchers     []string       `yaml:"dispatchers"`
	Detectors       []string       `yaml:"detectors"`
	DetectorOptions map[string]any `yaml:"detectorOptions"`
}

type ServerConfig struct {
	Listen  string `yaml:"listen"`
	Context string `yaml:"context"`
}

type AdminConfig struct {
	Listen string `yaml:"listen"`
}

type AgentConfig struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
}

type LimitsConfig struct {
	MaxDepth          int `yaml:"maxDepth"`
	MaxCollectionSize int `yaml:"maxCollectionSize"`
	MaxObjects        int `yaml:"maxObjects"`
}

type HistoryConfig struct {
	MaxEntries int      `yaml:"maxEntries"`
	MaxAge     Duration `yaml:"maxAge"`
}

type DebugConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxEntries int  `yaml:"maxEntries"`
}

type PolicyConfig struct {
	Location string `yaml:"location"`
	Watch    bool   `yaml:"watch"`
}

type AuditConfig struct {
	Backend   string   `yaml:"backend"`
	Path      string   `yaml:"path"`
	DSN       string   `yaml:"dsn"`
	MaxRows   int      `yaml:"maxRows"`
	Retention Duration `yaml:"retention"`
}

type TracingConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Collector string   `yaml:"collector"`
	URLPath   string   `yaml:"urlPath"`
	Insecure  bool     `yaml:"insecure"`
	Timeout   Duration `yaml:"timeout"`
}

// ParseConfig decodes and validates a config document. Unknown keys are
// rejected so typos fail loudly at startup.
func ParseConfig(data []byte) (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Listen:  ":8778",
			Context: "/bridge",
		},
		History: HistoryConfig{MaxEntries: 10},
		Debug:   DebugConfig{MaxEntries: 100},
		Audit:   AuditConfig{Backend: "memory", MaxRows: 1000},
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if !strings.HasPrefix(cfg.Server.Context, "/") {
		return fmt.Errorf("server.context must start with '/', got %q", cfg.Server.Context)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Audit.Backend)) {
	case "", "memory":
		cfg.Audit.Backend = "memory"
	case "sqlite":
		cfg.Audit.Backend = "sqlite"
		if strings.TrimSpace(cfg.Audit.Path) == "" {
			return fmt.Errorf("audit.path is required for the sqlite backend")
		}
	case "postgres":
		cfg.Audit.Backend = "postgres"
		if strings.TrimSpace(cfg.Audit.DSN) == "" {
			return fmt.Errorf("audit.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("audit.backend must be memory, sqlite or postgres, got %q", cfg.Audit.Backend)
	}
	if cfg.Limits.MaxDepth < 0 || cfg.Limits.MaxCollectionSize < 0 || cfg.Limits.MaxObjects < 0 {
		return fmt.Errorf("limits must be non-negative")
	}
	if cfg.History.MaxEntries < 0 {
		return fmt.Errorf("history.maxEntries must be non-negative")
	}
	if cfg.Policy.Watch && strings.TrimSpace(cfg.Policy.Location) == "" {
		return fmt.Errorf("policy.watch requires policy.location")
	}
	return nil
}
