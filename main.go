package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"attractor/internal/config"
	"attractor/internal/frame"
	"attractor/internal/gpu"
	"attractor/internal/logging"
	"attractor/internal/metrics"
	"attractor/internal/particles"
	"attractor/internal/ring"
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers explicitly set flags over the config file or defaults.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPathFlag != "" {
		var err error
		if cfg, err = config.Decode(*configPathFlag); err != nil {
			return cfg, err
		}
	}
	applyFlags(&cfg)
	return cfg, cfg.Validate()
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Development: cfg.Development})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	frameMetrics := metrics.NewFrame(reg)
	if cfg.MetricsAddr != "" {
		serveMetrics(ctx, cfg.MetricsAddr, reg, log)
	}

	backend, _ := gpu.ParseBackend(cfg.Backend)
	discipline, _ := ring.ParseDiscipline(cfg.Discipline)
	dev, err := gpu.Open(backend, gpu.SoftwareOptions{
		Workers: cfg.Workers,
		Latency: cfg.SoftwareLatency,
	}, log)
	if err != nil {
		return fmt.Errorf("opening %s device: %w", backend, err)
	}
	defer dev.Close()

	tier := cfg.Tier()
	log.Info("starting",
		zap.String("device", dev.Name()),
		zap.Float64("refresh_hz", cfg.RefreshHz),
		zap.Stringer("tier", tier),
		zap.Int("particles", cfg.Count()))

	driver, err := frame.New(ctx, dev, frame.Options{
		Discipline: discipline,
		Params:     cfg.Physics.Params(),
		Tier:       tier,
		Seed: particles.SeedOptions{
			Count:          cfg.ParticleCount,
			Span:           float32(cfg.WorldHeight),
			Jitter:         float32(cfg.Jitter),
			RandomVelocity: cfg.RandomVelocity,
			Seed:           cfg.Seed,
		},
		TimeScale:    cfg.TimeScale,
		MaxDelta:     cfg.MaxDelta,
		FenceTimeout: cfg.EffectiveFenceTimeout(),
		Logger:       log,
		Metrics:      frameMetrics,
	})
	if err != nil {
		return fmt.Errorf("starting simulation: %w", err)
	}
	defer driver.Close()

	if cfg.Headless {
		return runHeadless(ctx, driver, cfg, log)
	}

	g, err := newGame(ctx, cfg, log, driver, dev.Name())
	if err != nil {
		return fmt.Errorf("starting renderer: %w", err)
	}
	defer g.Close()
	if *recordDefaultPGO {
		rec, err := startDefaultPGORecording(pgoProfilePath, pgoRecordDuration, log)
		if err != nil {
			return err
		}
		defer rec.Stop()
		g.pgo = rec
		g.enableAutoOrbit(pgoRecordDuration)
	}

	ebiten.SetWindowSize(cfg.WindowWidth, cfg.WindowHeight)
	ebiten.SetWindowTitle(windowTitle)
	ebiten.SetTPS(ebiten.SyncWithFPS)
	ebiten.SetVsyncEnabled(true)
	if err := ebiten.RunGame(g); err != nil && !errors.Is(err, ebiten.Termination) {
		return err
	}
	return nil
}

// serveMetrics exposes reg on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
