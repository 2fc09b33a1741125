// Package config provides configuration loading and management for spectralpca.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// PCA parameters
	PCA struct {
		// MaxComponents caps the number of computed components
		MaxComponents int `yaml:"maxComponents"`

		// NormalizeSigns flips each component so its largest loading is positive
		NormalizeSigns bool `yaml:"normalizeSigns"`
	} `yaml:"pca"`

	// Loader parameters
	Loader struct {
		// Decoders lists decoder names in the order they are tried
		Decoders []string `yaml:"decoders"`

		// StackPages turns same-sized single-sample TIFF pages into bands
		StackPages bool `yaml:"stackPages"`
	} `yaml:"loader"`

	// Output parameters
	Output struct {
		// Figure is the PNG path for the preview/PC1 figure, empty to skip
		Figure string `yaml:"figure"`

		// PanelSize is the edge length in pixels of each figure panel
		PanelSize int `yaml:"panelSize"`

		// PrintTable prints the statistics table to stdout
		PrintTable bool `yaml:"printTable"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// File redirects the log, empty means stderr
		File string `yaml:"file"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default PCA parameters
	cfg.PCA.MaxComponents = 10
	cfg.PCA.NormalizeSigns = true

	// Try the multi-band TIFF reader before the generic decoders
	cfg.Loader.Decoders = []string{"tiff", "generic"}
	cfg.Loader.StackPages = true

	// Set default output parameters
	cfg.Output.Figure = ""
	cfg.Output.PanelSize = 512
	cfg.Output.PrintTable = true

	// Set default logging parameters
	cfg.Logging.Verbose = true
	cfg.Logging.File = ""

	return cfg
}

// Validate reports configuration values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.PCA.MaxComponents < 1 {
		return fmt.Errorf("pca.maxComponents must be at least 1, got %d", c.PCA.MaxComponents)
	}
	if len(c.Loader.Decoders) == 0 {
		return fmt.Errorf("loader.decoders must name at least one decoder")
	}
	if c.Output.PanelSize < 16 {
		return fmt.Errorf("output.panelSize must be at least 16, got %d", c.Output.PanelSize)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	// Start with default configuration
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML over the defaults, so missing keys keep their default value
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Reject values the pipeline cannot run with
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
