package kernel

import (
	"fmt"
	"strconv"
	"strings"

	"attractor/internal/particles"
)

// MaxGroupSize caps the workgroup size regardless of device limits.
const MaxGroupSize = 256

// GroupSize picks the largest power of two that does not exceed the device
// limit, the preferred size, or MaxGroupSize. It never returns less than 1.
func GroupSize(deviceLimit, preferred int) int {
	limit := MaxGroupSize
	if preferred > 0 && preferred < limit {
		limit = preferred
	}
	if deviceLimit > 0 && deviceLimit < limit {
		limit = deviceLimit
	}
	size := 1
	for size*2 <= limit {
		size *= 2
	}
	return size
}

// Grid describes a one-dimensional dispatch.
type Grid struct {
	Count     int
	GroupSize int
	Groups    int
}

// NewGrid covers count invocations with ceil(count/groupSize) groups.
func NewGrid(count, groupSize int) Grid {
	if groupSize < 1 {
		groupSize = 1
	}
	return Grid{
		Count:     count,
		GroupSize: groupSize,
		Groups:    (count + groupSize - 1) / groupSize,
	}
}

// GlobalSize is the number of invocations launched, including the guarded
// tail of the last group.
func (g Grid) GlobalSize() int {
	return g.Groups * g.GroupSize
}

// Range returns the invocation range [lo, hi) of group i.
func (g Grid) Range(i int) (lo, hi int) {
	lo = i * g.GroupSize
	return lo, lo + g.GroupSize
}

// BuildOptions renders the simulation constants as preprocessor defines for
// the device kernel build.
func BuildOptions(p particles.Params, groupSize int) string {
	defs := []struct {
		name  string
		value string
	}{
		{"ATTRACTION_STRENGTH", floatLiteral(p.AttractionStrength)},
		{"TERMINAL_SPEED", floatLiteral(p.TerminalSpeed)},
		{"TERMINAL_SPEED_SQ", floatLiteral(p.TerminalSpeedSq())},
		{"DAMPING", floatLiteral(p.Damping)},
		{"RSQRT_EPSILON", floatLiteral(Epsilon)},
		{"WORKGROUP_SIZE", strconv.Itoa(groupSize)},
	}
	var b strings.Builder
	for i, d := range defs {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "-D %s=%s", d.name, d.value)
	}
	return b.String()
}

func floatLiteral(v float32) string {
	return strconv.FormatFloat(float64(v), 'e', -1, 32) + "f"
}

// ParseBuildOptions recovers the constants from a BuildOptions string. Devices
// that do not compile kernel source use it so every backend is configured
// through the same text.
func ParseBuildOptions(opts string) (particles.Params, int, error) {
	var p particles.Params
	groupSize := 0
	seen := map[string]bool{}
	fields := strings.Fields(opts)
	for i := 0; i < len(fields); i++ {
		def := fields[i]
		if def == "-D" {
			if i+1 >= len(fields) {
				return p, 0, fmt.Errorf("kernel: dangling -D in %q", opts)
			}
			i++
			def = fields[i]
		} else if after, ok := strings.CutPrefix(def, "-D"); ok {
			def = after
		} else {
			continue
		}
		name, value, ok := strings.Cut(def, "=")
		if !ok {
			continue
		}
		if name == "WORKGROUP_SIZE" {
			n, err := strconv.Atoi(value)
			if err != nil {
				return p, 0, fmt.Errorf("kernel: WORKGROUP_SIZE: %w", err)
			}
			groupSize = n
			seen[name] = true
			continue
		}
		dst := map[string]*float32{
			"ATTRACTION_STRENGTH": &p.AttractionStrength,
			"TERMINAL_SPEED":      &p.TerminalSpeed,
			"DAMPING":             &p.Damping,
		}[name]
		if dst == nil {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(value, "f"), 32)
		if err != nil {
			return p, 0, fmt.Errorf("kernel: %s: %w", name, err)
		}
		*dst = float32(f)
		seen[name] = true
	}
	for _, name := range []string{"ATTRACTION_STRENGTH", "TERMINAL_SPEED", "DAMPING", "WORKGROUP_SIZE"} {
		if !seen[name] {
			return p, 0, fmt.Errorf("kernel: build options missing %s", name)
		}
	}
	p.WorkgroupSize = groupSize
	return p, groupSize, p.Validate()
}
