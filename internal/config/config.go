package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models taskflow.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret   string `yaml:"jwt_secret"`
		TokenExpiry string `yaml:"token_expiry"`
	} `yaml:"auth"`
	Realtime struct {
		SendTimeout string `yaml:"send_timeout"`
	} `yaml:"realtime"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// Webhook is an outbound subscriber to the audit trail.
type Webhook struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Load reads and validates config from workspace, falling back to the
// defaults when the file does not exist.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config.auth.jwt_secret is required")
	}
	if _, err := c.TokenExpiry(); err != nil {
		return fmt.Errorf("config.auth.token_expiry: %w", err)
	}
	if _, err := c.SendTimeout(); err != nil {
		return fmt.Errorf("config.realtime.send_timeout: %w", err)
	}
	for i, w := range c.Webhooks {
		if w.Name == "" {
			return fmt.Errorf("config.webhooks[%d].name is required", i)
		}
		if w.URL == "" {
			return fmt.Errorf("webhook %s has empty url", w.Name)
		}
	}
	return nil
}

// SendTimeout returns the parsed per-send delivery timeout.
func (c *Config) SendTimeout() (time.Duration, error) {
	if c.Realtime.SendTimeout == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(c.Realtime.SendTimeout)
}

// TokenExpiry returns the parsed JWT lifetime.
func (c *Config) TokenExpiry() (time.Duration, error) {
	if c.Auth.TokenExpiry == "" {
		return 24 * time.Hour, nil
	}
	return time.ParseDuration(c.Auth.TokenExpiry)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskflow.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8488
  base_path: /api/v1

auth:
  # Replace before exposing the server beyond localhost.
  jwt_secret: dev-secret
  token_expiry: 24h

realtime:
  send_timeout: 5s

webhooks: []
`
