package particles

import (
	"math"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

// GravityPoint is the attractor position. Both coordinates are packed into a
// single 64-bit word so a concurrent reader never observes X from one update
// and Y from another.
type GravityPoint struct {
	bits atomic.Uint64
}

// Store publishes a new attractor position.
func (g *GravityPoint) Store(p mgl32.Vec2) {
	g.bits.Store(uint64(math.Float32bits(p[0]))<<32 | uint64(math.Float32bits(p[1])))
}

// Load returns the most recently stored position. The zero value is the origin.
func (g *GravityPoint) Load() mgl32.Vec2 {
	v := g.bits.Load()
	return mgl32.Vec2{math.Float32frombits(uint32(v >> 32)), math.Float32frombits(uint32(v))}
}
