package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attractor/internal/particles"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "attractor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, particles.DefaultParams, cfg.Physics.Params())
	assert.Equal(t, particles.TierLow, cfg.Tier())
	assert.Equal(t, particles.LowTierParticles, cfg.Count())
}

func TestDecodeOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
backend: software
discipline: double
refresh_hz: 144
fence_timeout: 20ms
physics:
  damping: 0.9
`)
	cfg, err := Decode(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "software", cfg.Backend)
	assert.Equal(t, "double", cfg.Discipline)
	assert.Equal(t, particles.TierHigh, cfg.Tier())
	assert.Equal(t, particles.HighTierParticles, cfg.Count())
	assert.Equal(t, 20*time.Millisecond, cfg.EffectiveFenceTimeout())
	assert.Equal(t, float32(0.9), cfg.Physics.Damping)
	assert.Equal(t, particles.DefaultParams.TerminalSpeed, cfg.Physics.TerminalSpeed)
	assert.Equal(t, time.Second/90, cfg.MaxDelta)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Decode(writeConfig(t, "backend: [oops"))
	assert.Error(t, err)

	cfg, err := Decode(writeConfig(t, "backend: vulkan\njitter: 0.9\n"))
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vulkan")
	assert.Contains(t, err.Error(), "jitter")
}

func TestEffectiveFenceTimeoutIsOneFrame(t *testing.T) {
	cfg := Default()
	cfg.RefreshHz = 100
	assert.Equal(t, 10*time.Millisecond, cfg.EffectiveFenceTimeout())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"refresh", func(c *Config) { c.RefreshHz = 0 }},
		{"count", func(c *Config) { c.ParticleCount = -1 }},
		{"discipline", func(c *Config) { c.Discipline = "quad" }},
		{"damping", func(c *Config) { c.Physics.Damping = 1.5 }},
		{"max delta", func(c *Config) { c.MaxDelta = 0 }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"window", func(c *Config) { c.WindowWidth = 0 }},
		{"headless frames", func(c *Config) { c.Headless = true; c.Frames = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDecodeSkipsValidation(t *testing.T) {
	cfg, err := Decode(writeConfig(t, "refresh_hz: 0\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.RefreshHz)
	cfg.RefreshHz = 120
	assert.NoError(t, cfg.Validate())
}
