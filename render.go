package main

import (
	"fmt"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"go.uber.org/zap"
)

var (
	markerColor     = color.RGBA{255, 255, 255, 255}
	gridColor       = color.RGBA{77, 77, 77, 255}
	gridOriginColor = color.RGBA{255, 0, 0, 255}
)

// Draw plots the display generation, applies the glow program, and renders
// optional overlays.
func (g *Game) Draw(screen *ebiten.Image) {
	g.plotter.Clear()
	if g.cfg.Debug {
		g.plotter.Grid(debugGridExtent, debugGridSpacing, gridColor, gridOriginColor)
	}
	if g.driver.Enabled() {
		pos, vel, n, err := g.driver.DisplayVertexSource()
		if err != nil {
			g.limiter.Error("display_readback", "reading display generation", zap.Error(err))
		} else {
			g.plotter.Plot(pos, vel, n)
		}
		g.plotter.Marker(g.gravity.Load(), markerRadius, markerColor)
	}
	g.canvas.WritePixels(g.plotter.Pixels())

	op := &ebiten.DrawRectShaderOptions{}
	op.Images[0] = g.canvas
	op.Uniforms = map[string]any{
		"Exposure": float32(glowExposure),
		"Bloom":    float32(glowBloom),
	}
	b := g.canvas.Bounds()
	screen.DrawRectShader(b.Dx(), b.Dy(), g.glow.Handle(), op)

	if g.cfg.Debug {
		g.drawDebug(screen)
	}
}

// drawDebug prints frame loop statistics in the top left corner.
func (g *Game) drawDebug(screen *ebiten.Image) {
	if !g.driver.Enabled() {
		ebitenutil.DebugPrint(screen, fmt.Sprintf("FPS: %.1f\ncompute unavailable on %s", ebiten.ActualFPS(), g.device))
		return
	}
	rep := g.lastReport
	roles := g.driver.Roles()
	msg := fmt.Sprintf("FPS: %.1f  TPS: %.1f\nDevice: %s\nParticles: %d (%s)\nRoles: display %d compute %d pending %d\nPromotions: %d  timeouts: %d  failures: %d\nStep: %.2f ms  dt %.4f  speed %.1fx (+/-)",
		ebiten.ActualFPS(), ebiten.ActualTPS(),
		g.device,
		g.driver.Count(), g.driver.Discipline(),
		roles.Display, roles.Compute, roles.Pending,
		g.driver.Promotions(), g.timeouts, g.failures,
		g.lastFrameDuration.Seconds()*1000, rep.DeltaTime, g.driver.TimeScale())
	ebitenutil.DebugPrint(screen, msg)
}

// Layout reports the logical screen size used by Ebiten.
func (g *Game) Layout(_, _ int) (int, int) { return g.cfg.WindowWidth, g.cfg.WindowHeight }
