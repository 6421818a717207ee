// Package gpu abstracts the compute device the particle step runs on. A
// Device owns buffers, compiles compute programs and executes dispatches
// asynchronously, returning a Fence that signals completion.
package gpu

import (
	"context"
	"errors"
	"fmt"

	"attractor/internal/kernel"
)

var (
	// ErrCapabilityUnavailable is returned when the device cannot run compute
	// programs. Callers keep running without a simulation.
	ErrCapabilityUnavailable = errors.New("gpu: compute capability unavailable")

	// ErrDeviceClosed is returned by operations on a closed device.
	ErrDeviceClosed = errors.New("gpu: device closed")

	// ErrAliasedDispatch is returned when a dispatch would write the buffers
	// it reads.
	ErrAliasedDispatch = errors.New("gpu: dispatch source and target alias")

	// ErrBufferSize is returned when a buffer is too small for the transfer
	// or dispatch using it.
	ErrBufferSize = errors.New("gpu: buffer size mismatch")
)

// Capabilities describes what a device can do.
type Capabilities struct {
	Compute          bool
	MaxWorkGroupSize int
	ComputeUnits     int
}

// Buffer is device memory holding float32 elements.
type Buffer interface {
	Label() string
	Len() int
	Release() error
}

// Fence signals completion of one dispatch. Err is valid once Done is
// closed. Release may be called before completion; resources are freed when
// the work finishes.
type Fence interface {
	Done() <-chan struct{}
	Err() error
	Release()
}

// StateBuffers are the two attribute arrays of one generation.
type StateBuffers struct {
	Positions  Buffer
	Velocities Buffer
}

// Release frees both buffers.
func (s StateBuffers) Release() error {
	var errs []error
	if s.Positions != nil {
		errs = append(errs, s.Positions.Release())
	}
	if s.Velocities != nil {
		errs = append(errs, s.Velocities.Release())
	}
	return errors.Join(errs...)
}

func (s StateBuffers) aliases(o StateBuffers) bool {
	return s.Positions == o.Positions || s.Positions == o.Velocities ||
		s.Velocities == o.Positions || s.Velocities == o.Velocities
}

// Dispatch is one invocation of a compute program over a grid.
type Dispatch struct {
	Program  *ComputeProgram
	Source   StateBuffers
	Target   StateBuffers
	Uniforms kernel.Uniforms
	Grid     kernel.Grid
}

func (d Dispatch) validate() error {
	if d.Program == nil {
		return errors.New("gpu: dispatch without program")
	}
	if d.Source.aliases(d.Target) {
		return ErrAliasedDispatch
	}
	need := 2 * d.Uniforms.Count
	for _, b := range []Buffer{d.Source.Positions, d.Source.Velocities, d.Target.Positions, d.Target.Velocities} {
		if b == nil {
			return errors.New("gpu: dispatch with nil buffer")
		}
		if b.Len() < need {
			return fmt.Errorf("%w: %s holds %d, dispatch needs %d", ErrBufferSize, b.Label(), b.Len(), need)
		}
	}
	if d.Grid.Count != d.Uniforms.Count {
		return fmt.Errorf("gpu: grid covers %d invocations for %d particles", d.Grid.Count, d.Uniforms.Count)
	}
	return nil
}

// Device is a compute device with an asynchronous queue.
type Device interface {
	Name() string
	Capabilities() Capabilities

	// CompileCompute builds source and looks up entry. options are
	// preprocessor defines as produced by kernel.BuildOptions.
	CompileCompute(name, source, entry, options string) (*ComputeProgram, error)

	// NewBuffer allocates length float32 elements.
	NewBuffer(label string, length int) (Buffer, error)

	// Upload copies data into buf and returns once the copy is complete.
	Upload(ctx context.Context, buf Buffer, data []float32) error

	// Read copies buf into dst without waiting for queued dispatches. The
	// caller must not read a buffer that in-flight work writes.
	Read(buf Buffer, dst []float32) error

	// Dispatch queues d and returns immediately.
	Dispatch(d Dispatch) (Fence, error)

	// Barrier blocks until all queued work has completed or ctx is done.
	Barrier(ctx context.Context) error

	Close() error
}
