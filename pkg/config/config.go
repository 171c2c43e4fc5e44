// Package config loads daemon configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// RoleSet selects the planner role vocabulary. The choice is made once at
// startup and applies to every swarm created by this process.
const (
	RoleSetSpecialist = "specialist"
	RoleSetLegacy     = "legacy"
)

type CompleterConfig struct {
	// Keys is the comma-separated credential pool for the completion
	// provider. Selection is round-robin with per-key cooldown.
	Keys    []string `env:"COMPLETER_KEYS" envSeparator:","`
	Model   string   `env:"COMPLETER_MODEL" envDefault:"gpt-4o-mini"`
	BaseURL string   `env:"COMPLETER_BASE_URL" envDefault:"https://api.openai.com/v1"`
	// Provider picks the SDK: "openai" (any OpenAI-compatible endpoint)
	// or "anthropic".
	Provider  string        `env:"COMPLETER_PROVIDER" envDefault:"openai"`
	Timeout   time.Duration `env:"COMPLETER_TIMEOUT" envDefault:"45s"`
	CooldownS int           `env:"COMPLETER_COOLDOWN_S" envDefault:"60"`
}

type MCPConfig struct {
	URL        string        `env:"MCP_URL"`
	Credential string        `env:"MCP_CREDENTIAL"`
	Timeout    time.Duration `env:"MCP_TIMEOUT" envDefault:"30s"`
}

type MonitorConfig struct {
	PollIntervalS int `env:"POLL_INTERVAL_S" envDefault:"10"`
	MaxRetries    int `env:"MAX_RETRIES" envDefault:"3"`
	BaseBackoffS  int `env:"BASE_BACKOFF_S" envDefault:"10"`
	MaxBackoffS   int `env:"MAX_BACKOFF_S" envDefault:"300"`
	// HealthEvery controls how many poll iterations pass between health
	// summary events.
	HealthEvery int `env:"HEALTH_EVERY" envDefault:"6"`
	// CheckpointCron schedules session checkpoints of active swarms.
	CheckpointCron string `env:"CHECKPOINT_CRON" envDefault:"*/5 * * * *"`
}

type GatewayConfig struct {
	Port int `env:"PORT" envDefault:"8000"`
	// Credentials maps bearer tokens to capability lists, in the form
	// "token=CAP1+CAP2,token2=ADMIN_MASTER".
	Credentials string `env:"API_CREDENTIALS"`
	// RequestsPerMinute is the per-credential token bucket rate.
	RequestsPerMinute int           `env:"REQUESTS_PER_MINUTE" envDefault:"120"`
	ShutdownGrace     time.Duration `env:"SHUTDOWN_GRACE" envDefault:"30s"`
}

type Config struct {
	DBPath        string `env:"DB_PATH" envDefault:"swarmd.db"`
	RoleSet       string `env:"ROLE_SET" envDefault:"specialist"`
	CatalogPath   string `env:"CATALOG_PATH"`
	WorkspaceDir  string `env:"WORKSPACE_DIR" envDefault:"workspace"`
	TraceEndpoint string `env:"TRACE_ENDPOINT"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile       string `env:"LOG_FILE"`

	Completer CompleterConfig
	MCP       MCPConfig
	Monitor   MonitorConfig
	Gateway   GatewayConfig
}

// Load parses configuration from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts of the configuration that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.RoleSet {
	case RoleSetSpecialist, RoleSetLegacy:
	default:
		return fmt.Errorf("unknown ROLE_SET %q", c.RoleSet)
	}
	keys := c.Completer.Keys[:0]
	for _, k := range c.Completer.Keys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	c.Completer.Keys = keys
	if len(c.Completer.Keys) == 0 {
		return fmt.Errorf("COMPLETER_KEYS must list at least one credential")
	}
	if c.Monitor.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be >= 0")
	}
	if c.Monitor.PollIntervalS <= 0 {
		return fmt.Errorf("POLL_INTERVAL_S must be > 0")
	}
	return nil
}

// ParseCredentials expands the API_CREDENTIALS string into a
// token -> capability-names map.
func (c *Config) ParseCredentials() (map[string][]string, error) {
	out := make(map[string][]string)
	raw := strings.TrimSpace(c.Gateway.Credentials)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, caps, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(token) == "" {
			return nil, fmt.Errorf("malformed credential entry %q", pair)
		}
		names := []string{}
		for _, name := range strings.Split(caps, "+") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("credential %q grants no capabilities", strings.TrimSpace(token))
		}
		out[strings.TrimSpace(token)] = names
	}
	return out, nil
}

func (m MonitorConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalS) * time.Second
}

func (m MonitorConfig) BaseBackoff() time.Duration {
	return time.Duration(m.BaseBackoffS) * time.Second
}

func (m MonitorConfig) MaxBackoff() time.Duration {
	return time.Duration(m.MaxBackoffS) * time.Second
}
