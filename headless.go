package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"attractor/internal/config"
	"attractor/internal/frame"
	"attractor/internal/particles"
)

// runHeadless drives cfg.Frames frames at the configured refresh rate with an
// orbiting attractor and no window.
func runHeadless(ctx context.Context, driver *frame.Driver, cfg config.Config, log *zap.Logger) error {
	interval := time.Duration(float64(time.Second) / cfg.RefreshHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		gravity                               particles.GravityPoint
		promoted, timeouts, failures, skipped int
		frames                                int
	)
	o := newOrbit(cfg.Seed)
	start := time.Now()
loop:
	for frames < cfg.Frames {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
		gravity.Store(o.next(interval.Seconds()))
		rep, err := driver.Frame(ctx, gravity.Load())
		if errors.Is(err, context.Canceled) {
			break
		}
		if err != nil {
			return fmt.Errorf("frame %d: %w", rep.Frame, err)
		}
		if _, _, _, err := driver.DisplayVertexSource(); err != nil {
			return fmt.Errorf("frame %d: %w", rep.Frame, err)
		}
		frames++
		if rep.Promoted {
			promoted++
		}
		if rep.TimedOut {
			timeouts++
		}
		if rep.FenceFailed {
			failures++
		}
		if rep.ComputeSkipped {
			skipped++
		}
		if frames%headlessLogEvery == 0 {
			log.Debug("headless progress", zap.Int("frames", frames), zap.Int("promotions", promoted))
		}
	}
	log.Info("headless run finished",
		zap.Int("frames", frames),
		zap.Int("promotions", promoted),
		zap.Int("fence_timeouts", timeouts),
		zap.Int("fence_failures", failures),
		zap.Int("compute_skipped", skipped),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
