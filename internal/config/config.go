package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Agent      AgentConfig      `json:"agent"`
	Discovery  DiscoveryConfig  `json:"discovery"`
	Delegation DelegationConfig `json:"delegation"`
	Workflow   WorkflowConfig   `json:"workflow"`
	Database   DatabaseConfig   `json:"database"`
	MCP        MCPConfig        `json:"mcp"`
	A2A        ToggleConfig     `json:"a2a"`
	ACP        ToggleConfig     `json:"acp"`
	Metrics    ToggleConfig     `json:"metrics"`
	ContentDir string           `json:"content_dir"`
}

type ServerConfig struct {
	Port     int    `json:"port" validate:"gte=0,lte=65535"`
	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Env      string `json:"env" validate:"omitempty,oneof=development production"`
	// PublicURL is advertised in the A2A agent card.
	PublicURL string `json:"public_url" validate:"omitempty,url"`
}

// AgentConfig is the identity of the local agent.
type AgentConfig struct {
	Name         string   `json:"name" validate:"required"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

type DiscoveryConfig struct {
	Enabled           bool     `json:"enabled"`
	Interval          Duration `json:"interval"`
	HeartbeatInterval Duration `json:"heartbeat_interval"`
	MaxResults        int      `json:"max_results" validate:"gte=0"`
	Source            string   `json:"source" validate:"oneof=static postgres"`
	Probe             string   `json:"probe" validate:"oneof=simulated http"`
	ProbeTimeout      Duration `json:"probe_timeout"`
}

type DelegationConfig struct {
	DefaultTimeout Duration `json:"default_timeout"`
	Retention      Duration `json:"retention"`
	StrictSkills   bool     `json:"strict_skills"`
}

type WorkflowConfig struct {
	Retention  Duration `json:"retention"`
	LocalAgent string   `json:"local_agent"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL    string `json:"url"`
	Stream string `json:"stream"`
	// Replay logs the stream from its first entry at startup instead of
	// only new events.
	Replay bool `json:"replay"`
}

type MCPConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"omitempty,startswith=/"`
}

// ToggleConfig switches an optional surface on or off.
type ToggleConfig struct {
	Enabled bool `json:"enabled"`
}

// Duration accepts "90s"-style strings or a number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		Discovery: DiscoveryConfig{Enabled: true},
		MCP:       MCPConfig{Enabled: true},
		A2A:       ToggleConfig{Enabled: true},
		ACP:       ToggleConfig{Enabled: true},
		Metrics:   ToggleConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Agent.Name == "" {
		c.Agent.Name = "MESH"
	}
	if c.Agent.Version == "" {
		c.Agent.Version = "1.0.0"
	}
	if c.Agent.Description == "" {
		c.Agent.Description = "Professional email and contact management assistant"
	}
	if len(c.Agent.Capabilities) == 0 {
		c.Agent.Capabilities = []string{
			"email_draft", "contact_search", "contact_lookup", "template_suggestion",
			"writing_assistance", "grammar_check", "crm_lookup", "profile_synthesis", "network_analysis",
		}
	}
	if c.Discovery.Interval == 0 {
		c.Discovery.Interval = Duration(5 * time.Minute)
	}
	if c.Discovery.HeartbeatInterval == 0 {
		c.Discovery.HeartbeatInterval = Duration(time.Minute)
	}
	if c.Discovery.MaxResults == 0 {
		c.Discovery.MaxResults = 50
	}
	if c.Discovery.Source == "" {
		c.Discovery.Source = "static"
	}
	if c.Discovery.Probe == "" {
		c.Discovery.Probe = "simulated"
	}
	if c.Discovery.ProbeTimeout == 0 {
		c.Discovery.ProbeTimeout = Duration(5 * time.Second)
	}
	if c.Delegation.DefaultTimeout == 0 {
		c.Delegation.DefaultTimeout = Duration(30 * time.Second)
	}
	if c.Delegation.Retention == 0 {
		c.Delegation.Retention = Duration(time.Hour)
	}
	if c.Workflow.Retention == 0 {
		c.Workflow.Retention = Duration(time.Hour)
	}
	if c.Workflow.LocalAgent == "" {
		c.Workflow.LocalAgent = c.Agent.Name
	}
	if c.Database.Redis.Stream == "" {
		c.Database.Redis.Stream = "mesh:events"
	}
	if c.MCP.Path == "" {
		c.MCP.Path = "/mcp"
	}
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Discovery.Source == "postgres" && c.Database.Postgres.DSN == "" {
		return errors.New("invalid config: discovery.source postgres needs database.postgres.dsn")
	}
	return nil
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
