// Package config loads the runtime configuration from YAML. Command-line
// flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"attractor/internal/gpu"
	"attractor/internal/logging"
	"attractor/internal/particles"
	"attractor/internal/ring"
)

// Physics mirrors particles.Params.
type Physics struct {
	AttractionStrength float32 `yaml:"attraction_strength"`
	TerminalSpeed      float32 `yaml:"terminal_speed"`
	Damping            float32 `yaml:"damping"`
	WorkgroupSize      int     `yaml:"workgroup_size"`
}

// Params converts to simulation parameters.
func (p Physics) Params() particles.Params {
	return particles.Params{
		AttractionStrength: p.AttractionStrength,
		TerminalSpeed:      p.TerminalSpeed,
		Damping:            p.Damping,
		WorkgroupSize:      p.WorkgroupSize,
	}
}

// Config is the full runtime configuration.
type Config struct {
	Backend    string `yaml:"backend"`
	Discipline string `yaml:"discipline"`

	// RefreshHz is the display refresh rate used to pick the particle tier.
	RefreshHz     float64 `yaml:"refresh_hz"`
	ParticleCount int     `yaml:"particle_count"`

	Jitter         float64 `yaml:"jitter"`
	RandomVelocity bool    `yaml:"random_velocity"`
	Seed           uint64  `yaml:"seed"`
	WorldHeight    float64 `yaml:"world_height"`

	TimeScale float64       `yaml:"time_scale"`
	MaxDelta  time.Duration `yaml:"max_delta"`
	// FenceTimeout bounds the per-frame fence wait. Zero means one frame
	// at RefreshHz.
	FenceTimeout time.Duration `yaml:"fence_timeout"`

	Workers         int           `yaml:"workers"`
	SoftwareLatency time.Duration `yaml:"software_latency"`

	Physics Physics `yaml:"physics"`

	LogLevel    string `yaml:"log_level"`
	Development bool   `yaml:"development"`
	MetricsAddr string `yaml:"metrics_addr"`

	WindowWidth  int  `yaml:"window_width"`
	WindowHeight int  `yaml:"window_height"`
	Headless     bool `yaml:"headless"`
	Frames       int  `yaml:"frames"`
	Debug        bool `yaml:"debug"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	p := particles.DefaultParams
	return Config{
		Backend:     string(gpu.BackendAuto),
		Discipline:  ring.Triple.String(),
		RefreshHz:   60,
		Jitter:      0,
		Seed:        1,
		WorldHeight: particles.DefaultSpan,
		TimeScale:   1,
		MaxDelta:    time.Second / 90,
		Physics: Physics{
			AttractionStrength: p.AttractionStrength,
			TerminalSpeed:      p.TerminalSpeed,
			Damping:            p.Damping,
			WorkgroupSize:      p.WorkgroupSize,
		},
		LogLevel:     "info",
		WindowWidth:  1280,
		WindowHeight: 960,
		Frames:       600,
	}
}

// Decode reads path over the defaults without validating. Keys missing from
// the file keep their default values.
func Decode(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Tier is the particle tier selected by RefreshHz.
func (c Config) Tier() particles.Tier {
	return particles.ClassifyRefreshRate(c.RefreshHz)
}

// Count is the configured particle count, falling back to the tier's count.
func (c Config) Count() int {
	if c.ParticleCount > 0 {
		return c.ParticleCount
	}
	return c.Tier().ParticleCount()
}

// EffectiveFenceTimeout resolves a zero FenceTimeout to one frame interval.
func (c Config) EffectiveFenceTimeout() time.Duration {
	if c.FenceTimeout > 0 {
		return c.FenceTimeout
	}
	return time.Duration(float64(time.Second) / c.RefreshHz)
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if _, err := gpu.ParseBackend(c.Backend); err != nil {
		errs = append(errs, err)
	}
	if _, err := ring.ParseDiscipline(c.Discipline); err != nil {
		errs = append(errs, err)
	}
	if c.RefreshHz <= 0 {
		errs = append(errs, fmt.Errorf("config: refresh_hz must be positive, got %v", c.RefreshHz))
	}
	if c.ParticleCount < 0 {
		errs = append(errs, fmt.Errorf("config: particle_count must not be negative, got %d", c.ParticleCount))
	}
	if c.Jitter < 0 || c.Jitter > particles.MaxJitter {
		errs = append(errs, fmt.Errorf("config: jitter must be in [0,%v], got %v", particles.MaxJitter, c.Jitter))
	}
	if c.WorldHeight <= 0 {
		errs = append(errs, fmt.Errorf("config: world_height must be positive, got %v", c.WorldHeight))
	}
	if c.TimeScale < 0 {
		errs = append(errs, fmt.Errorf("config: time_scale must not be negative, got %v", c.TimeScale))
	}
	if c.MaxDelta <= 0 {
		errs = append(errs, fmt.Errorf("config: max_delta must be positive, got %v", c.MaxDelta))
	}
	if c.FenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("config: fence_timeout must not be negative, got %v", c.FenceTimeout))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("config: workers must not be negative, got %d", c.Workers))
	}
	if err := c.Physics.Params().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if !c.Headless && (c.WindowWidth <= 0 || c.WindowHeight <= 0) {
		errs = append(errs, fmt.Errorf("config: window size %dx%d", c.WindowWidth, c.WindowHeight))
	}
	if c.Headless && c.Frames <= 0 {
		errs = append(errs, errors.New("config: headless runs need frames > 0"))
	}
	return errors.Join(errs...)
}
