// Package config handles loading and validation of vigil.yaml.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigil-systems/vigil/pkg/types"
)

// Evaluation holds the engine's tick settings.
type Evaluation struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Config is the parsed vigil.yaml.
type Config struct {
	Listen     string                 `yaml:"listen"`
	Evaluation Evaluation             `yaml:"evaluation"`
	RuleFiles  []string               `yaml:"rule_files"`
	Notifiers  []types.NotifierConfig `yaml:"notifiers"`
}

// Defaults applied where vigil.yaml is silent.
const (
	DefaultListen   = ":9090"
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Config{
		Listen: DefaultListen,
		Evaluation: Evaluation{
			Interval: DefaultInterval,
			Timeout:  DefaultTimeout,
		},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if cfg.Evaluation.Interval <= 0 {
		return fmt.Errorf("evaluation.interval must be positive")
	}
	if cfg.Evaluation.Timeout <= 0 {
		return fmt.Errorf("evaluation.timeout must be positive")
	}
	if len(cfg.RuleFiles) == 0 {
		return fmt.Errorf("at least one rule_files entry is required")
	}
	for i, n := range cfg.Notifiers {
		switch n.Type {
		case types.NotifierConsole:
		case types.NotifierFile:
			if n.Path == "" {
				return fmt.Errorf("notifiers[%d]: file notifier requires path", i)
			}
		case types.NotifierWebhook:
			if n.URL == "" {
				return fmt.Errorf("notifiers[%d]: webhook notifier requires url", i)
			}
		default:
			return fmt.Errorf("notifiers[%d]: unknown notifier type %q", i, n.Type)
		}
	}
	return nil
}
