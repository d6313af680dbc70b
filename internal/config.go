package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mmcpherson/cadenza/internal/monitor"
	"github.com/mmcpherson/cadenza/internal/trigger"
	"github.com/mmcpherson/cadenza/internal/workflow"
)

// CadenzaConfig is the user-supplied configuration, loaded from a YAML
// file with environment variable overrides.
type CadenzaConfig struct {
	Monitor  monitor.Config  `yaml:"monitor"`
	Trigger  trigger.Config  `yaml:"trigger"`
	Workflow workflow.Config `yaml:"workflow"`
}

// LoadFromFile reads the YAML config at configPath into this struct.
func (config *CadenzaConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	return config.applyDefaults()
}

// LoadFromEnv populates the config purely from environment variables
// and struct defaults, for running without a config file.
func (config *CadenzaConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return config.applyDefaults()
}

// applyDefaults fills the values cleanenv tags cannot express: the
// watch directory defaults to the user's Downloads folder.
func (config *CadenzaConfig) applyDefaults() error {
	if config.Monitor.WatchDirectory == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("unable to derive default watch directory: %w", err)
		}

		config.Monitor.WatchDirectory = filepath.Join(home, "Downloads")
	}

	return nil
}
