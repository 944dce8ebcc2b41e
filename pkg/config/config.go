// Package config loads and validates the pipeline configuration.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/brockf/manybabies-analysis/pkg/study"
)

// ReportConfig controls where and how the report is written.
type ReportConfig struct {
	OutputDir     string `yaml:"output_dir" validate:"required"`
	WriteJSON     bool   `yaml:"write_json"`
	WriteMarkdown bool   `yaml:"write_markdown"`
}

// Config is the full pipeline configuration. Validation happens before any
// stage runs; a bad threshold must never reach the cleaner.
type Config struct {
	Simulation study.SimulationConfig `yaml:"simulation" validate:"required"`
	Cleaning   study.CleaningConfig   `yaml:"cleaning" validate:"required"`
	Report     ReportConfig           `yaml:"report" validate:"required"`
}

// Default returns the preregistered defaults: the real collection's design
// and exclusion parameters, reports into ./reports.
func Default() *Config {
	return &Config{
		Simulation: study.DefaultSimulationConfig(),
		Cleaning:   study.DefaultCleaningConfig(),
		Report: ReportConfig{
			OutputDir:     "reports",
			WriteJSON:     true,
			WriteMarkdown: true,
		},
	}
}

// Load reads a YAML config file over the defaults: absent keys keep their
// default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate fails fast on structurally invalid configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Simulation.TrialsPerSubject%4 != 0 {
		return fmt.Errorf("invalid configuration: trials_per_subject %d is not a multiple of the block size 4",
			c.Simulation.TrialsPerSubject)
	}
	return nil
}
