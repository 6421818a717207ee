package particles

import (
	"errors"
	"fmt"
)

// ErrInvalidParams is returned by Params.Validate.
var ErrInvalidParams = errors.New("particles: invalid simulation parameters")

// Params holds the physics constants shared by every kernel implementation.
// The same value feeds the Go reference kernel and the device kernel build,
// so the two cannot disagree.
type Params struct {
	// AttractionStrength is the acceleration toward the gravity point, in
	// world units per second squared.
	AttractionStrength float32

	// TerminalSpeed caps the velocity magnitude after each step.
	TerminalSpeed float32

	// Damping multiplies the velocity once per step, after the clamp.
	Damping float32

	// WorkgroupSize is the preferred invocation group size. Devices with a
	// lower limit use the largest power of two that fits.
	WorkgroupSize int
}

// DefaultParams are the constants the application ships with.
var DefaultParams = Params{
	AttractionStrength: 6.0,
	TerminalSpeed:      5.0,
	Damping:            0.985,
	WorkgroupSize:      256,
}

// TerminalSpeedSq is the squared terminal speed compared against |v|².
func (p Params) TerminalSpeedSq() float32 {
	return p.TerminalSpeed * p.TerminalSpeed
}

// Validate rejects parameter sets the kernels cannot run with.
func (p Params) Validate() error {
	switch {
	case p.AttractionStrength < 0:
		return fmt.Errorf("%w: attraction strength %v < 0", ErrInvalidParams, p.AttractionStrength)
	case p.TerminalSpeed <= 0:
		return fmt.Errorf("%w: terminal speed %v <= 0", ErrInvalidParams, p.TerminalSpeed)
	case p.Damping <= 0 || p.Damping > 1:
		return fmt.Errorf("%w: damping %v outside (0,1]", ErrInvalidParams, p.Damping)
	case p.WorkgroupSize <= 0:
		return fmt.Errorf("%w: workgroup size %d <= 0", ErrInvalidParams, p.WorkgroupSize)
	}
	return nil
}
