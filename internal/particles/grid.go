package particles

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// DefaultAspect is the width:height ratio of the seed grid.
	DefaultAspect = 4.0 / 3.0

	// DefaultSpan is the world-space height covered by the seed grid.
	DefaultSpan = 16.0

	// DefaultMaxInitialSpeed bounds random start velocities.
	DefaultMaxInitialSpeed = 0.5

	// MaxJitter is the largest jitter fraction of the grid spacing.
	MaxJitter = 0.5
)

// ErrInvalidSeed is returned when seed options cannot produce a field.
var ErrInvalidSeed = errors.New("particles: invalid seed options")

// SeedOptions describes the starting layout of a simulation.
type SeedOptions struct {
	// Count is the requested particle count. The grid may round it.
	Count int

	// Aspect is the grid width:height ratio. Zero means DefaultAspect.
	Aspect float64

	// Span is the grid height in world units. Zero means DefaultSpan.
	Span float32

	// Jitter offsets each particle by up to Jitter*spacing per axis.
	// Must be within [0, MaxJitter].
	Jitter float32

	// RandomVelocity starts particles with a small random velocity instead
	// of at rest.
	RandomVelocity bool

	// MaxInitialSpeed bounds random start velocities. Zero means
	// DefaultMaxInitialSpeed.
	MaxInitialSpeed float32

	// Seed drives jitter and random velocities.
	Seed uint64
}

func (o SeedOptions) withDefaults() SeedOptions {
	if o.Aspect == 0 {
		o.Aspect = DefaultAspect
	}
	if o.Span == 0 {
		o.Span = DefaultSpan
	}
	if o.MaxInitialSpeed == 0 {
		o.MaxInitialSpeed = DefaultMaxInitialSpeed
	}
	return o
}

// GridDims returns the grid the initializer lays n particles out on.
// rows is round(sqrt(n/aspect)) and cols is round(n/rows), so the particle
// count actually used is rows*cols. The result only depends on its inputs.
func GridDims(n int, aspect float64) (rows, cols int) {
	if n <= 0 || aspect <= 0 {
		return 0, 0
	}
	rows = int(math.Round(math.Sqrt(float64(n) / aspect)))
	if rows < 1 {
		rows = 1
	}
	cols = int(math.Round(float64(n) / float64(rows)))
	if cols < 1 {
		cols = 1
	}
	return rows, cols
}

// Seed builds the starting field described by opts.
func Seed(opts SeedOptions) (*Field, error) {
	opts = opts.withDefaults()
	if opts.Count <= 0 {
		return nil, fmt.Errorf("%w: count %d", ErrInvalidSeed, opts.Count)
	}
	if opts.Aspect < 0 || opts.Span < 0 {
		return nil, fmt.Errorf("%w: aspect %v span %v", ErrInvalidSeed, opts.Aspect, opts.Span)
	}
	if opts.Jitter < 0 || opts.Jitter > MaxJitter {
		return nil, fmt.Errorf("%w: jitter %v outside [0,%v]", ErrInvalidSeed, opts.Jitter, MaxJitter)
	}

	rows, cols := GridDims(opts.Count, opts.Aspect)
	height := opts.Span
	width := opts.Span * float32(opts.Aspect)

	var spacingX, spacingY, startX, startY float32
	if cols > 1 {
		spacingX = width / float32(cols-1)
		startX = -width / 2
	}
	if rows > 1 {
		spacingY = height / float32(rows-1)
		startY = -height / 2
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	field := NewField(rows * cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			p := mgl32.Vec2{startX + float32(c)*spacingX, startY + float32(r)*spacingY}
			if opts.Jitter > 0 {
				p[0] += (rng.Float32()*2 - 1) * opts.Jitter * spacingX
				p[1] += (rng.Float32()*2 - 1) * opts.Jitter * spacingY
			}
			field.SetPosition(i, p)
			if opts.RandomVelocity {
				angle := rng.Float64() * 2 * math.Pi
				speed := rng.Float32() * opts.MaxInitialSpeed
				field.SetVelocity(i, mgl32.Vec2{
					float32(math.Cos(angle)) * speed,
					float32(math.Sin(angle)) * speed,
				})
			}
		}
	}
	return field, nil
}

// InitializeRing seeds one field per buffer generation. Every generation
// starts from the same state. When opts.Count is zero the tier decides it.
func InitializeRing(tier Tier, generations int, opts SeedOptions) ([]*Field, error) {
	if generations < 2 {
		return nil, fmt.Errorf("%w: %d generations", ErrInvalidSeed, generations)
	}
	if opts.Count == 0 {
		opts.Count = tier.ParticleCount()
	}
	seed, err := Seed(opts)
	if err != nil {
		return nil, err
	}
	fields := make([]*Field, generations)
	fields[0] = seed
	for i := 1; i < generations; i++ {
		fields[i] = seed.Clone()
	}
	return fields, nil
}
