package main

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// orbit moves the attractor around the origin for scripted runs, drifting
// between random radii.
type orbit struct {
	rng          *rand.Rand
	angle        float64
	radius       float64
	targetRadius float64
	frames       int
}

func newOrbit(seed uint64) *orbit {
	return &orbit{
		rng:    rand.New(rand.NewPCG(seed, seed+3)),
		radius: orbitMinRadius,
	}
}

// next advances the orbit by dt seconds and returns the new attractor.
func (o *orbit) next(dt float64) mgl32.Vec2 {
	if o.frames <= 0 {
		o.targetRadius = orbitMinRadius + o.rng.Float64()*(orbitMaxRadius-orbitMinRadius)
		o.frames = orbitRetargetMin + o.rng.IntN(orbitRetargetRange)
	}
	o.frames--
	o.radius += (o.targetRadius - o.radius) * 0.05
	o.angle = math.Mod(o.angle+orbitAngularSpeed*dt, 2*math.Pi)
	return mgl32.Vec2{
		float32(math.Cos(o.angle) * o.radius),
		float32(math.Sin(o.angle) * o.radius),
	}
}

// enableAutoOrbit schedules scripted attractor movement for a limited duration.
func (g *Game) enableAutoOrbit(duration time.Duration) {
	g.autoOrbit = true
	g.autoOrbitDeadline = time.Now().Add(duration)
	if g.orbit == nil {
		g.orbit = newOrbit(g.cfg.Seed)
	}
}

// updateGravity moves the attractor from the orbit script or pointer input.
// Without input the attractor stays where it was last placed.
func (g *Game) updateGravity(dt float64) {
	if g.autoOrbit {
		if time.Now().After(g.autoOrbitDeadline) {
			g.autoOrbit = false
		} else {
			g.gravity.Store(g.orbit.next(dt))
			return
		}
	}
	if p, ok := g.pointerWorld(); ok {
		g.gravity.Store(p)
	}
}

// pointerWorld returns the world position of a held mouse button or the
// first active touch.
func (g *Game) pointerWorld() (mgl32.Vec2, bool) {
	if ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
		x, y := ebiten.CursorPosition()
		return g.view.ScreenToWorld(float64(x), float64(y)), true
	}
	g.touches = ebiten.AppendTouchIDs(g.touches[:0])
	if len(g.touches) > 0 {
		x, y := ebiten.TouchPosition(g.touches[0])
		return g.view.ScreenToWorld(float64(x), float64(y)), true
	}
	return mgl32.Vec2{}, false
}

// handleDebugControls processes debug overlay hotkeys.
func (g *Game) handleDebugControls() {
	if !g.cfg.Debug {
		return
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyMinus) || inpututil.IsKeyJustPressed(ebiten.KeyKPSubtract) {
		g.adjustTimeScale(-timeScaleStep)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEqual) || inpututil.IsKeyJustPressed(ebiten.KeyKPAdd) {
		g.adjustTimeScale(timeScaleStep)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyO) {
		g.enableAutoOrbit(pgoRecordDuration)
	}
}

// adjustTimeScale clamps the simulation speed change within bounds.
func (g *Game) adjustTimeScale(delta float64) {
	s := math.Round((g.driver.TimeScale()+delta)*10) / 10
	g.driver.SetTimeScale(min(max(s, minTimeScale), maxTimeScale))
}
