package main

import (
	"context"
	"errors"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"go.uber.org/zap"

	"attractor/internal/assets"
	"attractor/internal/config"
	"attractor/internal/frame"
	"attractor/internal/gpu"
	"attractor/internal/logging"
	"attractor/internal/particles"
	"attractor/internal/render"
)

// Game connects the frame driver to ebiten's update and draw loop.
type Game struct {
	ctx     context.Context
	cfg     config.Config
	log     *zap.Logger
	limiter *logging.Limiter
	device  string

	driver  *frame.Driver
	gravity particles.GravityPoint
	touches []ebiten.TouchID

	view    render.View
	plotter *render.Plotter
	canvas  *ebiten.Image
	glow    *gpu.GraphicsProgram[*ebiten.Shader]

	autoOrbit         bool
	autoOrbitDeadline time.Time
	orbit             *orbit
	pgo               *pgoRecording

	lastUpdate        time.Time
	lastReport        frame.Report
	lastFrameDuration time.Duration
	timeouts          uint64
	failures          uint64
}

// newGame compiles the glow program and allocates the point canvas.
func newGame(ctx context.Context, cfg config.Config, log *zap.Logger, driver *frame.Driver, device string) (*Game, error) {
	src, err := assets.GraphicsSource(assets.ParticleGlowShader)
	if err != nil {
		return nil, err
	}
	glow, err := gpu.CompileGraphics(assets.ParticleGlowShader, src, ebiten.NewShader, (*ebiten.Shader).Deallocate)
	if err != nil {
		return nil, err
	}
	view := render.NewView(cfg.WindowWidth, cfg.WindowHeight, float32(cfg.WorldHeight)*1.25)
	return &Game{
		ctx:     ctx,
		cfg:     cfg,
		log:     log,
		limiter: logging.NewLimiter(log, time.Second),
		device:  device,
		driver:  driver,
		view:    view,
		plotter: render.NewPlotter(view, cfg.Physics.TerminalSpeed),
		canvas:  ebiten.NewImage(cfg.WindowWidth, cfg.WindowHeight),
		glow:    glow,
	}, nil
}

// Update advances the attractor and steps the simulation once per frame.
func (g *Game) Update() error {
	if g.ctx.Err() != nil {
		return ebiten.Termination
	}
	if g.pgo.Poll() {
		return ebiten.Termination
	}
	now := time.Now()
	dt := 0.0
	if !g.lastUpdate.IsZero() {
		dt = min(now.Sub(g.lastUpdate).Seconds(), 0.1)
	}
	g.lastUpdate = now

	g.handleDebugControls()
	g.updateGravity(dt)

	rep, err := g.driver.Frame(g.ctx, g.gravity.Load())
	g.lastFrameDuration = time.Since(now)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ebiten.Termination
		}
		return err
	}
	g.lastReport = rep
	if rep.TimedOut {
		g.timeouts++
	}
	if rep.FenceFailed {
		g.failures++
	}
	return nil
}

// Close releases the canvas and the glow program.
func (g *Game) Close() {
	g.canvas.Deallocate()
	g.glow.Release()
}
