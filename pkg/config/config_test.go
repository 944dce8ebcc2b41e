package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.Simulation.Labs)
	assert.Equal(t, 2.0, cfg.Cleaning.ZThreshold)
	assert.Equal(t, 4, cfg.Cleaning.MinTrialsPerType)
	assert.Nil(t, cfg.Simulation.Seed, "default runs are unseeded")
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
simulation:
  labs: 5
  seed: 99
cleaning:
  z_threshold: 2.5
report:
  output_dir: out
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Simulation.Labs)
	assert.Equal(t, 30, cfg.Simulation.SubjectsPerLab, "absent keys keep defaults")
	require.NotNil(t, cfg.Simulation.Seed)
	assert.Equal(t, int64(99), *cfg.Simulation.Seed)
	assert.Equal(t, 2.5, cfg.Cleaning.ZThreshold)
	assert.Equal(t, 4, cfg.Cleaning.MinTrialsPerType)
	assert.Equal(t, "out", cfg.Report.OutputDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative z threshold", func(c *Config) { c.Cleaning.ZThreshold = -1 }},
		{"zero min trials", func(c *Config) { c.Cleaning.MinTrialsPerType = 0 }},
		{"zero labs", func(c *Config) { c.Simulation.Labs = 0 }},
		{"partial blocks", func(c *Config) { c.Simulation.TrialsPerSubject = 15 }},
		{"missing output dir", func(c *Config) { c.Report = ReportConfig{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
