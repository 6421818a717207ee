package particles

import "fmt"

// Tier is a coarse display capability class used to size the simulation.
type Tier int

const (
	// TierLow covers displays below HighRefreshThresholdHz.
	TierLow Tier = iota
	// TierHigh covers high refresh displays.
	TierHigh
)

const (
	// HighRefreshThresholdHz is the refresh rate at which TierHigh begins.
	HighRefreshThresholdHz = 90.0

	// HighTierParticles is the requested particle count for TierHigh.
	HighTierParticles = 400000

	// LowTierParticles is the requested particle count for TierLow.
	LowTierParticles = 25000
)

// ClassifyRefreshRate maps a display refresh rate to a tier.
func ClassifyRefreshRate(hz float64) Tier {
	if hz >= HighRefreshThresholdHz {
		return TierHigh
	}
	return TierLow
}

// ParticleCount returns the requested particle count for the tier. The grid
// layout may settle on a slightly different count; see GridDims.
func (t Tier) ParticleCount() int {
	if t == TierHigh {
		return HighTierParticles
	}
	return LowTierParticles
}

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierHigh:
		return "high"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}
