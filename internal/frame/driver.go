// Package frame drives the simulation once per displayed frame: it advances
// the clock, collects the previous step's fence, rotates the buffer ring,
// dispatches the next step and exposes the generation to draw.
package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"attractor/internal/assets"
	"attractor/internal/gpu"
	"attractor/internal/kernel"
	"attractor/internal/logging"
	"attractor/internal/metrics"
	"attractor/internal/particles"
	"attractor/internal/ring"
	"attractor/internal/syncgate"
)

// ErrClosed is returned by frames stepped after Close.
var ErrClosed = errors.New("frame: driver closed")

// Clock supplies monotonic timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Options configure a Driver.
type Options struct {
	Discipline ring.Discipline
	Params     particles.Params
	// Tier sets the particle count when Seed.Count is zero.
	Tier particles.Tier
	Seed particles.SeedOptions

	// TimeScale multiplies the clamped frame delta. Zero means 1.
	TimeScale float64
	// MaxDelta clamps the frame delta before scaling. Zero means 1/90 s.
	MaxDelta time.Duration
	// FenceTimeout bounds the wait on the previous frame's fence.
	FenceTimeout time.Duration

	// KernelSource overrides the embedded compute kernel.
	KernelSource string

	Clock   Clock
	Logger  *zap.Logger
	Metrics *metrics.Frame

	// OnPhase, if set, is called as each phase begins.
	OnPhase func(Phase)
}

// Report summarises one frame.
type Report struct {
	Frame          uint64
	DeltaTime      float32
	Fence          syncgate.Status
	Promoted       bool
	Dispatched     bool
	TimedOut       bool
	FenceFailed    bool
	ComputeSkipped bool
	Display        int
}

// Driver owns the device resources of one simulation.
type Driver struct {
	dev     gpu.Device
	opts    Options
	log     *zap.Logger
	limiter *logging.Limiter
	metrics *metrics.Frame

	disabled   bool
	disableErr error
	closed     bool
	reportOnce sync.Once

	program *gpu.ComputeProgram
	ring    *ring.Ring[gpu.StateBuffers]
	gate    *syncgate.Gate
	grid    kernel.Grid
	count   int

	last   time.Time
	frames uint64

	mirror           *particles.Field
	mirrorPromotions uint64
}

// New seeds every generation and compiles the step kernel. If the device has
// no compute capability the driver is returned disabled: frames are skipped
// and nothing is drawn. Compile and allocation failures are returned.
func New(ctx context.Context, dev gpu.Device, opts Options) (*Driver, error) {
	if opts.TimeScale == 0 {
		opts.TimeScale = 1
	}
	if opts.MaxDelta <= 0 {
		opts.MaxDelta = time.Second / 90
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewFrame(nil)
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger.Named("frame")
	d := &Driver{
		dev:     dev,
		opts:    opts,
		log:     log,
		limiter: logging.NewLimiter(log, time.Second),
		metrics: opts.Metrics,
		gate:    syncgate.New(opts.FenceTimeout),
	}

	caps := dev.Capabilities()
	if !caps.Compute {
		d.disable(gpu.ErrCapabilityUnavailable)
		return d, nil
	}

	source := opts.KernelSource
	if source == "" {
		src, err := assets.KernelSource(assets.ParticleStepKernel)
		if err != nil {
			return nil, err
		}
		source = src
	}
	groupSize := kernel.GroupSize(caps.MaxWorkGroupSize, opts.Params.WorkgroupSize)
	program, err := dev.CompileCompute(assets.ParticleStepKernel, source, kernel.EntryPoint, kernel.BuildOptions(opts.Params, groupSize))
	if errors.Is(err, gpu.ErrCapabilityUnavailable) {
		d.disable(err)
		return d, nil
	}
	if err != nil {
		return nil, err
	}
	d.program = program

	fields, err := particles.InitializeRing(opts.Tier, opts.Discipline.Generations(), opts.Seed)
	if err != nil {
		d.Close()
		return nil, err
	}
	slots := make([]gpu.StateBuffers, 0, len(fields))
	for i, f := range fields {
		s, err := d.upload(ctx, i, f)
		if err != nil {
			for _, s := range slots {
				s.Release()
			}
			d.Close()
			return nil, fmt.Errorf("seeding generation %d: %w", i, err)
		}
		slots = append(slots, s)
	}
	r, err := ring.New(opts.Discipline, slots)
	if err != nil {
		for _, s := range slots {
			s.Release()
		}
		d.Close()
		return nil, err
	}
	d.ring = r
	d.count = fields[0].Count()
	d.grid = kernel.NewGrid(d.count, groupSize)
	d.mirror = fields[0].Clone()
	d.metrics.Particles.Set(float64(d.count))

	log.Info("simulation ready",
		zap.String("device", dev.Name()),
		zap.Stringer("discipline", opts.Discipline),
		zap.Int("particles", d.count),
		zap.Int("group_size", groupSize),
		zap.Int("groups", d.grid.Groups),
		zap.Duration("fence_timeout", opts.FenceTimeout))
	return d, nil
}

func (d *Driver) upload(ctx context.Context, i int, f *particles.Field) (gpu.StateBuffers, error) {
	var s gpu.StateBuffers
	pos, err := d.dev.NewBuffer(fmt.Sprintf("gen%d.positions", i), len(f.Positions))
	if err != nil {
		return s, err
	}
	s.Positions = pos
	vel, err := d.dev.NewBuffer(fmt.Sprintf("gen%d.velocities", i), len(f.Velocities))
	if err != nil {
		s.Release()
		return gpu.StateBuffers{}, err
	}
	s.Velocities = vel
	if err := d.dev.Upload(ctx, pos, f.Positions); err != nil {
		s.Release()
		return gpu.StateBuffers{}, err
	}
	if err := d.dev.Upload(ctx, vel, f.Velocities); err != nil {
		s.Release()
		return gpu.StateBuffers{}, err
	}
	return s, nil
}

func (d *Driver) disable(err error) {
	d.disabled = true
	d.disableErr = err
}

// Enabled reports whether the simulation runs.
func (d *Driver) Enabled() bool { return !d.disabled }

// Count is the number of particles, or zero when disabled.
func (d *Driver) Count() int { return d.count }

// Discipline is the buffering discipline in use.
func (d *Driver) Discipline() ring.Discipline { return d.opts.Discipline }

// Roles returns the current ring roles.
func (d *Driver) Roles() ring.Roles {
	if d.ring == nil {
		return ring.Roles{}
	}
	return d.ring.Roles()
}

// Promotions counts completed ring rotations.
func (d *Driver) Promotions() uint64 {
	if d.ring == nil {
		return 0
	}
	return d.ring.Promotions()
}

// TimeScale is the multiplier applied to clock deltas.
func (d *Driver) TimeScale() float64 { return d.opts.TimeScale }

// SetTimeScale changes the clock multiplier. Negative values are clamped to
// zero, which freezes motion without stopping dispatches.
func (d *Driver) SetTimeScale(s float64) {
	d.opts.TimeScale = max(s, 0)
}

func (d *Driver) enter(p Phase) {
	if d.opts.OnPhase != nil {
		d.opts.OnPhase(p)
	}
}

// Frame advances the clock and steps the simulation with the elapsed time.
func (d *Driver) Frame(ctx context.Context, gravity mgl32.Vec2) (Report, error) {
	d.enter(PhaseAdvanceClock)
	now := d.opts.Clock.Now()
	var elapsed time.Duration
	if !d.last.IsZero() {
		elapsed = min(max(now.Sub(d.last), 0), d.opts.MaxDelta)
	}
	d.last = now
	dt := float32(elapsed.Seconds() * d.opts.TimeScale)
	return d.step(ctx, dt, gravity)
}

// StepFrame runs one frame with an explicit time step.
func (d *Driver) StepFrame(ctx context.Context, dt float32, gravity mgl32.Vec2) (Report, error) {
	d.enter(PhaseAdvanceClock)
	return d.step(ctx, dt, gravity)
}

func (d *Driver) step(ctx context.Context, dt float32, gravity mgl32.Vec2) (Report, error) {
	d.frames++
	d.metrics.Frames.Inc()
	d.metrics.FrameDelta.Observe(float64(dt))
	rep := Report{Frame: d.frames, DeltaTime: dt}

	if d.disabled {
		d.reportOnce.Do(func() {
			d.log.Warn("compute unavailable, simulation disabled", zap.Error(d.disableErr))
		})
		d.metrics.ComputeSkipped.Inc()
		rep.ComputeSkipped = true
		d.enter(PhaseDraw)
		return rep, nil
	}

	if d.ring == nil {
		return rep, ErrClosed
	}
	var err error
	if d.opts.Discipline == ring.Double {
		err = d.stepDouble(ctx, dt, gravity, &rep)
	} else {
		err = d.stepTriple(ctx, dt, gravity, &rep)
	}
	rep.Display = d.ring.Roles().Display
	d.enter(PhaseDraw)
	return rep, err
}

// stepTriple waits a bounded time on the previous dispatch, rotates when it
// completed, then submits the next dispatch. A timeout leaves the ring and
// the outstanding fence untouched.
func (d *Driver) stepTriple(ctx context.Context, dt float32, gravity mgl32.Vec2, rep *Report) error {
	d.enter(PhaseAcquireOrSkipFence)
	start := time.Now()
	st, err := d.gate.Wait(ctx)
	if st != syncgate.StatusIdle {
		d.metrics.ObserveFenceWait(start)
	}
	rep.Fence = st
	switch {
	case st == syncgate.StatusTimeout && errors.Is(err, syncgate.ErrTimeout):
		rep.TimedOut = true
		d.metrics.FenceTimeouts.Inc()
		d.limiter.Warn("fence_timeout", "compute step still running, keeping display",
			zap.Duration("timeout", d.gate.Timeout()),
			zap.Duration("age", d.gate.Age()))
		return nil
	case st == syncgate.StatusTimeout:
		return err
	case st == syncgate.StatusSignaled && err != nil:
		rep.FenceFailed = true
		d.metrics.FenceFailures.Inc()
		d.limiter.Error("fence_failed", "compute step failed, discarding generation", zap.Error(err))
	case st == syncgate.StatusSignaled:
		d.enter(PhaseRotateIfReady)
		if err := d.promote(rep); err != nil {
			return err
		}
	}
	return d.dispatch(dt, gravity, rep)
}

// stepDouble dispatches from the display generation into the other one and
// holds a device barrier until it completes before flipping.
func (d *Driver) stepDouble(ctx context.Context, dt float32, gravity mgl32.Vec2, rep *Report) error {
	d.enter(PhaseAcquireOrSkipFence)
	if d.gate.Pending() {
		// left over from a cancelled barrier
		if st, err := d.gate.WaitUnbounded(ctx); st == syncgate.StatusTimeout {
			return err
		}
	}
	if err := d.dispatch(dt, gravity, rep); err != nil || !rep.Dispatched {
		return err
	}
	start := time.Now()
	if err := d.dev.Barrier(ctx); err != nil {
		d.metrics.ObserveFenceWait(start)
		rep.Fence = syncgate.StatusTimeout
		return err
	}
	st, err := d.gate.WaitUnbounded(ctx)
	d.metrics.ObserveFenceWait(start)
	rep.Fence = st
	if st == syncgate.StatusTimeout {
		return err
	}
	if err != nil {
		rep.FenceFailed = true
		d.metrics.FenceFailures.Inc()
		d.limiter.Error("fence_failed", "compute step failed, discarding generation", zap.Error(err))
		return nil
	}
	d.enter(PhaseRotateIfReady)
	return d.promote(rep)
}

func (d *Driver) promote(rep *Report) error {
	if err := d.ring.Promote(); err != nil {
		return fmt.Errorf("rotating buffers: %w", err)
	}
	rep.Promoted = true
	d.metrics.Promotions.Inc()
	return nil
}

func (d *Driver) dispatch(dt float32, gravity mgl32.Vec2, rep *Report) error {
	d.enter(PhaseDispatchCompute)
	fence, err := d.dev.Dispatch(gpu.Dispatch{
		Program:  d.program,
		Source:   d.ring.Source(),
		Target:   d.ring.Target(),
		Uniforms: kernel.Uniforms{Gravity: gravity, DeltaTime: dt, Count: d.count},
		Grid:     d.grid,
	})
	if errors.Is(err, gpu.ErrDeviceClosed) {
		return err
	}
	if err != nil {
		d.metrics.ComputeSkipped.Inc()
		d.limiter.Error("dispatch_failed", "submitting compute step", zap.Error(err))
		return nil
	}
	d.enter(PhaseRecordFence)
	if err := d.gate.Arm(fence); err != nil {
		fence.Release()
		return err
	}
	rep.Dispatched = true
	d.metrics.Dispatches.Inc()
	return nil
}

// DisplayVertexSource returns the attribute arrays of the display
// generation. The arrays are host copies refreshed only after a rotation and
// are valid until the next call.
func (d *Driver) DisplayVertexSource() (positions, velocities []float32, count int, err error) {
	if d.disabled || d.ring == nil {
		return nil, nil, 0, nil
	}
	if p := d.ring.Promotions(); p != d.mirrorPromotions {
		display := d.ring.Display()
		if err := d.dev.Read(display.Positions, d.mirror.Positions); err != nil {
			return nil, nil, 0, fmt.Errorf("reading display positions: %w", err)
		}
		if err := d.dev.Read(display.Velocities, d.mirror.Velocities); err != nil {
			return nil, nil, 0, fmt.Errorf("reading display velocities: %w", err)
		}
		d.mirrorPromotions = p
	}
	return d.mirror.Positions, d.mirror.Velocities, d.count, nil
}

// Snapshot reads generation slot into a new field.
func (d *Driver) Snapshot(slot int) (*particles.Field, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if d.ring == nil {
		return nil, gpu.ErrCapabilityUnavailable
	}
	s := d.ring.Slot(slot)
	f := particles.NewField(d.count)
	if err := d.dev.Read(s.Positions, f.Positions); err != nil {
		return nil, err
	}
	if err := d.dev.Read(s.Velocities, f.Velocities); err != nil {
		return nil, err
	}
	return f, nil
}

// Close abandons any outstanding fence and releases buffers and the program.
// The device itself is left open.
func (d *Driver) Close() error {
	d.closed = true
	d.gate.Abandon()
	var errs []error
	if d.ring != nil {
		d.ring.Each(func(_ int, s gpu.StateBuffers) {
			errs = append(errs, s.Release())
		})
		d.ring = nil
	}
	if d.program != nil {
		errs = append(errs, d.program.Release())
		d.program = nil
	}
	return errors.Join(errs...)
}
