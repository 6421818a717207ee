package main

import (
	"flag"
	"time"

	"attractor/internal/config"
)

// Command-line flags. Flags that are set explicitly override the config file;
// the rest fall back to it.
var (
	// configPathFlag points at an optional YAML config file.
	configPathFlag = flag.String("config", "", "path to a YAML config file")

	// backendFlag selects the compute device.
	backendFlag = flag.String("backend", "auto", "compute backend: auto, software or opencl")

	// disciplineFlag selects triple (fenced) or double (barrier) buffering.
	disciplineFlag = flag.String("discipline", "triple", "buffering discipline: triple or double")

	// refreshHzFlag is the display refresh rate used to pick the particle tier.
	refreshHzFlag = flag.Float64("refresh-hz", 60, "display refresh rate in Hz; >= 90 selects the high particle tier")

	particleCountFlag = flag.Int("particle-count", 0, "override the tier particle count (0 uses the tier)")
	jitterFlag        = flag.Float64("jitter", 0, "seed grid jitter as a fraction of spacing (0-0.5)")
	randomVelFlag     = flag.Bool("random-velocity", false, "start particles with small random velocities")
	seedFlag          = flag.Uint64("seed", 1, "random seed for jitter and start velocities")

	timeScaleFlag    = flag.Float64("time-scale", 1, "simulation time multiplier")
	maxDeltaFlag     = flag.Duration("max-delta", time.Second/90, "upper bound on a single frame's time step")
	fenceTimeoutFlag = flag.Duration("fence-timeout", 0, "bound on the per-frame fence wait (0 is one frame)")

	// workersFlag sizes the software device's goroutine pool.
	workersFlag = flag.Int("workers", 0, "software device workers (0 uses all CPUs)")

	// softwareLatencyFlag delays software fences to exercise the timeout path.
	softwareLatencyFlag = flag.Duration("software-latency", 0, "artificial completion latency for the software device")

	logLevelFlag    = flag.String("log-level", "info", "log level: debug, info, warn or error")
	devLogFlag      = flag.Bool("dev-log", false, "human-readable development logging")
	metricsAddrFlag = flag.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	// headlessFlag runs the simulation without opening a window.
	headlessFlag = flag.Bool("headless", false, "run without a window for -frames frames")
	framesFlag   = flag.Int("frames", 600, "frames to run in headless mode")

	// debugFlag enables the FPS and simulation overlay.
	debugFlag = flag.Bool("debug", false, "show FPS and simulation overlay")

	// recordDefaultPGO triggers a scripted orbit to produce default.pgo.
	recordDefaultPGO = flag.Bool("record-default-pgo", false, "orbit the attractor for 15s while capturing default.pgo")
)

// applyFlags copies explicitly set flags over cfg.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backendFlag
		case "discipline":
			cfg.Discipline = *disciplineFlag
		case "refresh-hz":
			cfg.RefreshHz = *refreshHzFlag
		case "particle-count":
			cfg.ParticleCount = *particleCountFlag
		case "jitter":
			cfg.Jitter = *jitterFlag
		case "random-velocity":
			cfg.RandomVelocity = *randomVelFlag
		case "seed":
			cfg.Seed = *seedFlag
		case "time-scale":
			cfg.TimeScale = *timeScaleFlag
		case "max-delta":
			cfg.MaxDelta = *maxDeltaFlag
		case "fence-timeout":
			cfg.FenceTimeout = *fenceTimeoutFlag
		case "workers":
			cfg.Workers = *workersFlag
		case "software-latency":
			cfg.SoftwareLatency = *softwareLatencyFlag
		case "log-level":
			cfg.LogLevel = *logLevelFlag
		case "dev-log":
			cfg.Development = *devLogFlag
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddrFlag
		case "headless":
			cfg.Headless = *headlessFlag
		case "frames":
			cfg.Frames = *framesFlag
		case "debug":
			cfg.Debug = *debugFlag
		}
	})
}
