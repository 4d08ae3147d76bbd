package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models idsboard.yml.
type Config struct {
	Team struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"team"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret      string `yaml:"jwt_secret"`
		AllowDevLogin  bool   `yaml:"allow_dev_login"`
		AllowUserIDHdr bool   `yaml:"allow_user_id_header"`
	} `yaml:"auth"`
	Feedback struct {
		Categories []string `yaml:"categories"`
		Priorities []string `yaml:"priorities"`
	} `yaml:"feedback"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with ids init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(""), nil
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
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for _, cat := range c.Feedback.Categories {
		if cat == "" {
			return fmt.Errorf("config.feedback.categories contains empty entry")
		}
	}
	for _, pri := range c.Feedback.Priorities {
		if pri == "" {
			return fmt.Errorf("config.feedback.priorities contains empty entry")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "idsboard.yml")
}

// Default returns the default Config struct for a team.
func Default(teamID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, teamID)), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(teamID string) string {
	return fmt.Sprintf(defaultTemplate, teamID)
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

const defaultTemplate = `team:
  id: %s
  name: ""

server:
  addr: 127.0.0.1:8787
  base_path: /v0

auth:
  jwt_secret: ""
  allow_dev_login: true
  allow_user_id_header: true

feedback:
  categories: [bug, feature, improvement, other]
  priorities: [low, medium, high]
`
