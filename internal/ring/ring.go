// Package ring rotates simulation generations between the display, compute
// and pending roles so that no generation is read by the renderer while a
// dispatch writes it.
package ring

import (
	"errors"
	"fmt"
)

// Discipline selects how many generations the ring holds.
type Discipline int

const (
	// Triple keeps a completed generation pending while the next dispatch
	// runs, so the renderer never waits on compute.
	Triple Discipline = iota
	// Double flips between two generations and requires a full barrier
	// before each flip.
	Double
)

// ParseDiscipline maps a config value to a Discipline.
func ParseDiscipline(s string) (Discipline, error) {
	switch s {
	case "triple", "":
		return Triple, nil
	case "double":
		return Double, nil
	}
	return 0, fmt.Errorf("ring: unknown discipline %q", s)
}

// Generations is the number of slots the discipline needs.
func (d Discipline) Generations() int {
	if d == Double {
		return 2
	}
	return 3
}

func (d Discipline) String() string {
	switch d {
	case Triple:
		return "triple"
	case Double:
		return "double"
	default:
		return fmt.Sprintf("Discipline(%d)", int(d))
	}
}

var (
	// ErrAliased is returned when two roles name the same generation.
	ErrAliased = errors.New("ring: roles alias")

	// ErrGenerations is returned when the slot count does not match the
	// discipline.
	ErrGenerations = errors.New("ring: wrong number of generations")
)

// NoPending is the Pending role index of a double-buffered ring.
const NoPending = -1

// Roles are the slot indices currently assigned to each role.
type Roles struct {
	Display int
	Compute int
	Pending int
}

// Ring owns the generations of a simulation. It is not safe for concurrent
// use; the frame driver is its only user.
type Ring[T any] struct {
	discipline Discipline
	slots      []T
	roles      Roles
	promotions uint64
}

// New builds a ring over slots. len(slots) must equal d.Generations().
func New[T any](d Discipline, slots []T) (*Ring[T], error) {
	if len(slots) != d.Generations() {
		return nil, fmt.Errorf("%w: %s needs %d, got %d", ErrGenerations, d, d.Generations(), len(slots))
	}
	r := &Ring[T]{discipline: d, slots: slots}
	switch d {
	case Double:
		r.roles = Roles{Display: 0, Compute: 1, Pending: NoPending}
	default:
		r.roles = Roles{Display: 0, Pending: 1, Compute: 2}
	}
	return r, r.Validate()
}

func (r *Ring[T]) Discipline() Discipline { return r.discipline }
func (r *Ring[T]) Roles() Roles           { return r.roles }
func (r *Ring[T]) Len() int               { return len(r.slots) }

// Promotions counts completed rotations.
func (r *Ring[T]) Promotions() uint64 { return r.promotions }

// Slot returns generation i.
func (r *Ring[T]) Slot(i int) T { return r.slots[i] }

// Display is the generation the renderer reads.
func (r *Ring[T]) Display() T { return r.slots[r.roles.Display] }

// Target is the generation the next dispatch writes.
func (r *Ring[T]) Target() T { return r.slots[r.roles.Compute] }

// SourceIndex is the slot holding the newest completed state: pending for a
// triple ring, display for a double ring.
func (r *Ring[T]) SourceIndex() int {
	if r.discipline == Double {
		return r.roles.Display
	}
	return r.roles.Pending
}

// Source is the generation the next dispatch reads.
func (r *Ring[T]) Source() T { return r.slots[r.SourceIndex()] }

// Promote rotates roles after the dispatch writing Target has completed.
// Triple: the finished target becomes pending, the old pending is shown and
// the old display is recycled as the next target. Double: display and
// compute swap.
func (r *Ring[T]) Promote() error {
	old := r.roles
	switch r.discipline {
	case Double:
		r.roles.Display, r.roles.Compute = old.Compute, old.Display
	default:
		r.roles = Roles{Display: old.Pending, Compute: old.Display, Pending: old.Compute}
	}
	if err := r.Validate(); err != nil {
		r.roles = old
		return err
	}
	r.promotions++
	return nil
}

// Validate reports whether the roles are pairwise distinct and in range.
func (r *Ring[T]) Validate() error {
	n := len(r.slots)
	ro := r.roles
	idx := []int{ro.Display, ro.Compute}
	if r.discipline == Triple {
		idx = append(idx, ro.Pending)
	} else if ro.Pending != NoPending {
		return fmt.Errorf("%w: double ring has pending slot %d", ErrAliased, ro.Pending)
	}
	seen := make(map[int]bool, len(idx))
	for _, i := range idx {
		if i < 0 || i >= n {
			return fmt.Errorf("ring: role index %d out of range [0,%d)", i, n)
		}
		if seen[i] {
			return fmt.Errorf("%w: %+v", ErrAliased, ro)
		}
		seen[i] = true
	}
	return nil
}

// Each calls fn for every slot.
func (r *Ring[T]) Each(fn func(i int, slot T)) {
	for i, s := range r.slots {
		fn(i, s)
	}
}
