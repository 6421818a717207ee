package particles

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrFieldShape is returned when a field's attribute arrays disagree on the
// particle count.
var ErrFieldShape = errors.New("particles: positions and velocities length mismatch")

// Field stores one generation of particle state. Positions and velocities are
// kept in separate contiguous arrays (structure of arrays) with x and y
// interleaved per particle, which is the layout the kernels bind directly.
type Field struct {
	count      int
	Positions  []float32
	Velocities []float32
}

// NewField allocates a zeroed field for count particles.
func NewField(count int) *Field {
	return &Field{
		count:      count,
		Positions:  make([]float32, count*2),
		Velocities: make([]float32, count*2),
	}
}

// Count reports the number of particles in the field.
func (f *Field) Count() int {
	return f.count
}

// Position returns the position of particle i.
func (f *Field) Position(i int) mgl32.Vec2 {
	return mgl32.Vec2{f.Positions[i*2], f.Positions[i*2+1]}
}

// Velocity returns the velocity of particle i.
func (f *Field) Velocity(i int) mgl32.Vec2 {
	return mgl32.Vec2{f.Velocities[i*2], f.Velocities[i*2+1]}
}

// SetPosition writes the position of particle i.
func (f *Field) SetPosition(i int, p mgl32.Vec2) {
	f.Positions[i*2] = p[0]
	f.Positions[i*2+1] = p[1]
}

// SetVelocity writes the velocity of particle i.
func (f *Field) SetVelocity(i int, v mgl32.Vec2) {
	f.Velocities[i*2] = v[0]
	f.Velocities[i*2+1] = v[1]
}

// Clone returns a deep copy of the field.
func (f *Field) Clone() *Field {
	c := NewField(f.count)
	copy(c.Positions, f.Positions)
	copy(c.Velocities, f.Velocities)
	return c
}

// Equal reports whether both fields hold bit-identical state.
func (f *Field) Equal(o *Field) bool {
	if o == nil || f.count != o.count {
		return false
	}
	return bitsEqual(f.Positions, o.Positions) && bitsEqual(f.Velocities, o.Velocities)
}

// Validate checks the length invariant shared by both attribute arrays.
func (f *Field) Validate() error {
	want := f.count * 2
	if len(f.Positions) != want || len(f.Velocities) != want {
		return fmt.Errorf("%w: count=%d positions=%d velocities=%d",
			ErrFieldShape, f.count, len(f.Positions), len(f.Velocities))
	}
	return nil
}

func bitsEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			return false
		}
	}
	return true
}
