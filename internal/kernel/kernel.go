// Package kernel defines the particle compute step: the per-particle update,
// its uniforms, and how a dispatch is split into workgroups. The Go
// implementation here is the reference the software device runs; the device
// kernel in assets/particle_step.cl is built with the same constants.
package kernel

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"attractor/internal/particles"
)

// EntryPoint is the name of the compute entry point in every kernel source.
const EntryPoint = "particle_step"

// Epsilon floors |toGravity|² before the reciprocal square root.
const Epsilon = 1e-6

var (
	// ErrInPlace is returned when a step would read and write the same state.
	ErrInPlace = errors.New("kernel: source and destination alias")

	// ErrCountMismatch is returned when source and destination sizes differ.
	ErrCountMismatch = errors.New("kernel: source and destination counts differ")
)

// Uniforms are the per-dispatch inputs shared by all invocations.
type Uniforms struct {
	Gravity   mgl32.Vec2
	DeltaTime float32
	Count     int
}

// State is a view of one generation's attribute arrays.
type State struct {
	Positions  []float32
	Velocities []float32
}

// StateOf returns the attribute arrays of f.
func StateOf(f *particles.Field) State {
	return State{Positions: f.Positions, Velocities: f.Velocities}
}

// StepParticle advances a single particle by one step. The velocity leaving
// the clamp never exceeds the terminal speed, even for infinite inputs.
func StepParticle(pos, vel mgl32.Vec2, u Uniforms, p particles.Params) (mgl32.Vec2, mgl32.Vec2) {
	vel = vel.Add(attraction(u.Gravity.Sub(pos)).Mul(p.AttractionStrength * u.DeltaTime))

	if speedSq := vel.Dot(vel); speedSq > p.TerminalSpeedSq() {
		vel = clampSpeed(vel, p.TerminalSpeed)
	}
	vel = vel.Mul(p.Damping)

	pos = pos.Add(vel.Mul(u.DeltaTime))
	return pos, vel
}

// attraction returns the unit direction of toGravity, or zero at the gravity
// point. Distances whose square overflows float32 are normalized in float64.
func attraction(toGravity mgl32.Vec2) mgl32.Vec2 {
	distSq := toGravity.Dot(toGravity)
	if !math.IsInf(float64(distSq), 1) {
		return toGravity.Mul(rsqrt(max(distSq, Epsilon)))
	}
	x, y := finite(toGravity[0]), finite(toGravity[1])
	n := math.Hypot(x, y)
	return mgl32.Vec2{float32(x / n), float32(y / n)}
}

// clampSpeed rescales vel to speed. Infinite components set the direction
// on their own; finite ones beside them vanish in the limit.
func clampSpeed(vel mgl32.Vec2, speed float32) mgl32.Vec2 {
	// Hypot in float64 keeps huge velocities from overflowing to Inf.
	vx, vy := float64(vel[0]), float64(vel[1])
	if mag := math.Hypot(vx, vy); !math.IsInf(mag, 1) {
		scale := float64(speed) / mag
		return mgl32.Vec2{float32(vx * scale), float32(vy * scale)}
	}
	dx, dy := infSign(vx), infSign(vy)
	scale := float64(speed) / math.Hypot(dx, dy)
	return mgl32.Vec2{float32(dx * scale), float32(dy * scale)}
}

func infSign(v float64) float64 {
	switch {
	case math.IsInf(v, 1):
		return 1
	case math.IsInf(v, -1):
		return -1
	default:
		return 0
	}
}

func finite(v float32) float64 {
	return math.Max(-math.MaxFloat32, math.Min(math.MaxFloat32, float64(v)))
}

// Step runs invocations [lo, hi) reading src and writing dst. Invocations at
// or beyond u.Count do nothing, so a dispatch rounded up to whole workgroups
// never writes past the end of the buffers.
func Step(src, dst State, lo, hi int, u Uniforms, p particles.Params) {
	for i := lo; i < hi; i++ {
		if i >= u.Count {
			return
		}
		pos := mgl32.Vec2{src.Positions[i*2], src.Positions[i*2+1]}
		vel := mgl32.Vec2{src.Velocities[i*2], src.Velocities[i*2+1]}
		pos, vel = StepParticle(pos, vel, u, p)
		dst.Positions[i*2], dst.Positions[i*2+1] = pos[0], pos[1]
		dst.Velocities[i*2], dst.Velocities[i*2+1] = vel[0], vel[1]
	}
}

// StepField runs a full dispatch on the calling goroutine, one workgroup at a
// time. It is the reference used by tests and the single-worker software path.
func StepField(src, dst *particles.Field, u Uniforms, p particles.Params, groupSize int) error {
	if src == dst {
		return ErrInPlace
	}
	if src.Count() != dst.Count() {
		return fmt.Errorf("%w: %d != %d", ErrCountMismatch, src.Count(), dst.Count())
	}
	if u.Count > src.Count() {
		return fmt.Errorf("%w: uniforms count %d exceeds %d", ErrCountMismatch, u.Count, src.Count())
	}
	grid := NewGrid(u.Count, groupSize)
	s, d := StateOf(src), StateOf(dst)
	for g := 0; g < grid.Groups; g++ {
		lo, hi := grid.Range(g)
		Step(s, d, lo, hi, u, p)
	}
	return nil
}

func rsqrt(x float32) float32 {
	return float32(1 / math.Sqrt(float64(x)))
}
