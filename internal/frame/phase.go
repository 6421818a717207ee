package frame

import "fmt"

// Phase is a step of the per-frame state machine.
type Phase int

const (
	PhaseAdvanceClock Phase = iota
	PhaseAcquireOrSkipFence
	PhaseRotateIfReady
	PhaseDispatchCompute
	PhaseRecordFence
	PhaseDraw
)

var phaseNames = [...]string{
	PhaseAdvanceClock:       "advance_clock",
	PhaseAcquireOrSkipFence: "acquire_or_skip_fence",
	PhaseRotateIfReady:      "rotate_if_ready",
	PhaseDispatchCompute:    "dispatch_compute",
	PhaseRecordFence:        "record_fence",
	PhaseDraw:               "draw",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}
