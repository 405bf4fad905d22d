package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sourceplane/prestoflow/internal/backend"
	"gopkg.in/yaml.v3"
)

// Config is the CLI and workbench configuration file
type Config struct {
	Backend        string              `yaml:"backend"`
	RequestTimeout time.Duration       `yaml:"requestTimeout"`
	StepTimeout    time.Duration       `yaml:"stepTimeout"`
	MaxParallel    int                 `yaml:"maxParallel"`
	Retry          backend.RetryPolicy `yaml:"retry"`
	LogLevel       string              `yaml:"logLevel"`
	Listen         string              `yaml:"listen"`
	LogCacheSize   int                 `yaml:"logCacheSize"`
}

// DefaultConfig returns the configuration used when no file exists
func DefaultConfig() *Config {
	return &Config{
		Backend:        "http://localhost:8000",
		RequestTimeout: 30 * time.Second,
		MaxParallel:    2,
		Retry:          backend.DefaultRetryPolicy(),
		LogLevel:       "info",
		Listen:         ":8080",
		LogCacheSize:   64,
	}
}

// DefaultConfigPath returns ~/.prestoflow/config.yaml
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".prestoflow", "config.yaml")
}

// LoadConfig reads a config file over the defaults. A missing file yields
// the defaults; an empty path means the default location.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.MaxParallel < 1 {
		return nil, fmt.Errorf("config %s: maxParallel must be at least 1", path)
	}
	return cfg, nil
}
