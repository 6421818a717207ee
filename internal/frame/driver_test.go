package frame

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"attractor/internal/gpu"
	"attractor/internal/kernel"
	"attractor/internal/metrics"
	"attractor/internal/particles"
	"attractor/internal/ring"
	"attractor/internal/syncgate"
)

const testDT = float32(1.0 / 90)

var testGravity = mgl32.Vec2{1.5, -0.5}

func seedOptions() particles.SeedOptions {
	return particles.SeedOptions{Count: 100, Aspect: 1, Jitter: 0.25, RandomVelocity: true, Seed: 42}
}

func newDriver(t *testing.T, dev gpu.Device, mutate func(*Options)) *Driver {
	t.Helper()
	opts := Options{
		Discipline:   ring.Triple,
		Params:       particles.DefaultParams,
		Seed:         seedOptions(),
		FenceTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	d, err := New(context.Background(), dev, opts)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func newDevice(t *testing.T, opts gpu.SoftwareOptions) *gpu.SoftwareDevice {
	t.Helper()
	dev := gpu.NewSoftwareDevice(opts, nil)
	t.Cleanup(func() { dev.Close() })
	return dev
}

// reference steps the seed n times on the host.
func reference(t *testing.T, groupSize, n int) []*particles.Field {
	t.Helper()
	seed, err := particles.Seed(seedOptions())
	require.NoError(t, err)
	out := []*particles.Field{seed}
	u := kernel.Uniforms{Gravity: testGravity, DeltaTime: testDT, Count: seed.Count()}
	for i := 0; i < n; i++ {
		next := particles.NewField(seed.Count())
		require.NoError(t, kernel.StepField(out[len(out)-1], next, u, particles.DefaultParams, groupSize))
		out = append(out, next)
	}
	return out
}

func displaySnapshot(t *testing.T, d *Driver) *particles.Field {
	t.Helper()
	f, err := d.Snapshot(d.Roles().Display)
	require.NoError(t, err)
	return f
}

func TestTripleDisplayLagsOneCompletedStep(t *testing.T) {
	dev := newDevice(t, gpu.SoftwareOptions{Workers: 4})
	d := newDriver(t, dev, nil)
	ref := reference(t, d.grid.GroupSize, 12)

	for f := 1; f <= 12; f++ {
		rep, err := d.StepFrame(context.Background(), testDT, testGravity)
		require.NoError(t, err)
		assert.True(t, rep.Dispatched)
		assert.Equal(t, f > 1, rep.Promoted)
		assert.EqualValues(t, f-1, d.Promotions())

		want := ref[max(f-2, 0)]
		assert.True(t, want.Equal(displaySnapshot(t, d)), "frame %d display", f)

		pos, vel, n, err := d.DisplayVertexSource()
		require.NoError(t, err)
		assert.Equal(t, want.Count(), n)
		assert.Equal(t, want.Positions, pos)
		assert.Equal(t, want.Velocities, vel)

		ro := d.Roles()
		assert.NotEqual(t, ro.Display, ro.Compute)
		assert.NotEqual(t, ro.Display, ro.Pending)
		assert.NotEqual(t, ro.Compute, ro.Pending)
	}
}

func TestDoubleDisplayShowsLatestStep(t *testing.T) {
	dev := newDevice(t, gpu.SoftwareOptions{Workers: 2})
	d := newDriver(t, dev, func(o *Options) { o.Discipline = ring.Double })
	ref := reference(t, d.grid.GroupSize, 5)

	for f := 1; f <= 5; f++ {
		rep, err := d.StepFrame(context.Background(), testDT, testGravity)
		require.NoError(t, err)
		assert.True(t, rep.Promoted)
		assert.Equal(t, syncgate.StatusSignaled, rep.Fence)
		assert.True(t, ref[f].Equal(displaySnapshot(t, d)), "frame %d display", f)
		assert.Equal(t, ring.NoPending, d.Roles().Pending)
	}
}

func TestFenceTimeoutLeavesDisplayUntouched(t *testing.T) {
	dev := newDevice(t, gpu.SoftwareOptions{Latency: 200 * time.Millisecond})
	reg := prometheus.NewRegistry()
	m := metrics.NewFrame(reg)
	d := newDriver(t, dev, func(o *Options) {
		o.FenceTimeout = 5 * time.Millisecond
		o.Metrics = m
	})

	rep, err := d.StepFrame(context.Background(), testDT, testGravity)
	require.NoError(t, err)
	require.True(t, rep.Dispatched)

	before := displaySnapshot(t, d)
	roles := d.Roles()
	rep, err = d.StepFrame(context.Background(), testDT, testGravity)
	require.NoError(t, err)
	assert.True(t, rep.TimedOut)
	assert.Equal(t, syncgate.StatusTimeout, rep.Fence)
	assert.False(t, rep.Promoted)
	assert.False(t, rep.Dispatched)
	assert.Equal(t, roles, d.Roles())
	assert.True(t, before.Equal(displaySnapshot(t, d)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FenceTimeouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dispatches))

	require.NoError(t, dev.Barrier(context.Background()))
	rep, err = d.StepFrame(context.Background(), testDT, testGravity)
	require.NoError(t, err)
	assert.True(t, rep.Promoted)
	assert.True(t, rep.Dispatched)
}

func TestFenceTimeoutLogsOncePerSecond(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	dev := newDevice(t, gpu.SoftwareOptions{Latency: 300 * time.Millisecond})
	d := newDriver(t, dev, func(o *Options) {
		o.FenceTimeout = time.Millisecond
		o.Logger = zap.New(core)
	})
	for i := 0; i < 10; i++ {
		_, err := d.StepFrame(context.Background(), testDT, testGravity)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, logs.FilterField(zap.String("condition", "fence_timeout")).Len())
}

type barrierDevice struct {
	gpu.Device
	barriers atomic.Int32
}

func (b *barrierDevice) Barrier(ctx context.Context) error {
	b.barriers.Add(1)
	return b.Device.Barrier(ctx)
}

func TestDoubleHoldsBarrierEachFrame(t *testing.T) {
	dev := &barrierDevice{Device: newDevice(t, gpu.SoftwareOptions{Latency: 5 * time.Millisecond})}
	d := newDriver(t, dev, func(o *Options) { o.Discipline = ring.Double })
	for f := 1; f <= 3; f++ {
		rep, err := d.StepFrame(context.Background(), testDT, testGravity)
		require.NoError(t, err)
		assert.True(t, rep.Promoted)
		assert.Equal(t, int32(f), dev.barriers.Load())
	}

	tri := &barrierDevice{Device: newDevice(t, gpu.SoftwareOptions{})}
	td := newDriver(t, tri, nil)
	for f := 0; f < 3; f++ {
		_, err := td.StepFrame(context.Background(), testDT, testGravity)
		require.NoError(t, err)
	}
	assert.Zero(t, tri.barriers.Load(), "triple buffering never blocks on the device")
}

func TestDoubleBarrierHonoursCancelledContext(t *testing.T) {
	dev := newDevice(t, gpu.SoftwareOptions{Latency: 200 * time.Millisecond})
	d := newDriver(t, dev, func(o *Options) { o.Discipline = ring.Double })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	rep, err := d.StepFrame(ctx, testDT, testGravity)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, rep.Promoted)

	rep, err = d.StepFrame(context.Background(), testDT, testGravity)
	require.NoError(t, err)
	assert.True(t, rep.Promoted)
	assert.Equal(t, uint64(1), d.Promotions(), "the abandoned step is recomputed, not promoted")
}

type failingDevice struct {
	gpu.Device
	fail atomic.Bool
}

var errDeviceLost = errors.New("device lost")

type failedFence struct{ gpu.Fence }

func (f failedFence) Err() error {
	select {
	case <-f.Done():
		return errDeviceLost
	default:
		return nil
	}
}

func (f *failingDevice) Dispatch(d gpu.Dispatch) (gpu.Fence, error) {
	fence, err := f.Device.Dispatch(d)
	if err != nil || !f.fail.Load() {
		return fence, err
	}
	return failedFence{fence}, nil
}

func TestFenceFailureDiscardsGeneration(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	dev := &failingDevice{Device: newDevice(t, gpu.SoftwareOptions{})}
	dev.fail.Store(true)
	d := newDriver(t, dev, func(o *Options) { o.Logger = zap.New(core) })
	seed := displaySnapshot(t, d)

	for i := 0; i < 4; i++ {
		rep, err := d.StepFrame(context.Background(), testDT, testGravity)
		require.NoError(t, err)
		assert.False(t, rep.Promoted)
		assert.True(t, rep.Dispatched, "failed step is re-dispatched")
		assert.Equal(t, i > 0, rep.FenceFailed)
	}
	assert.Zero(t, d.Promotions())
	assert.True(t, seed.Equal(displaySnapshot(t, d)))
	assert.Equal(t, 1, logs.FilterField(zap.String("condition", "fence_failed")).Len())

	dev.fail.Store(false)
	_, err := d.StepFrame(context.Background(), testDT, testGravity)
	require.NoError(t, err)
	rep, err := d.StepFrame(context.Background(), testDT, testGravity)
	require.NoError(t, err)
	assert.True(t, rep.Promoted)
}

func TestComputeUnavailableIsReportedOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	reg := prometheus.NewRegistry()
	m := metrics.NewFrame(reg)
	dev := newDevice(t, gpu.SoftwareOptions{DisableCompute: true})
	d := newDriver(t, dev, func(o *Options) {
		o.Logger = zap.New(core)
		o.Metrics = m
	})
	assert.False(t, d.Enabled())

	for i := 0; i < 5; i++ {
		rep, err := d.StepFrame(context.Background(), testDT, testGravity)
		require.NoError(t, err)
		assert.True(t, rep.ComputeSkipped)
		assert.False(t, rep.Dispatched)
	}
	assert.Equal(t, 1, logs.FilterMessage("compute unavailable, simulation disabled").Len())
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ComputeSkipped))

	_, _, n, err := d.DisplayVertexSource()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCompileFailureIsFatal(t *testing.T) {
	dev := newDevice(t, gpu.SoftwareOptions{})
	_, err := New(context.Background(), dev, Options{
		Params:       particles.DefaultParams,
		Seed:         seedOptions(),
		KernelSource: "__kernel void something_else(int n) {}",
	})
	var ce *gpu.CompileError
	assert.ErrorAs(t, err, &ce)
}

func TestPhaseOrder(t *testing.T) {
	var phases []Phase
	record := func(o *Options) { o.OnPhase = func(p Phase) { phases = append(phases, p) } }

	d := newDriver(t, newDevice(t, gpu.SoftwareOptions{}), record)
	_, err := d.StepFrame(context.Background(), testDT, testGravity)
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseAdvanceClock, PhaseAcquireOrSkipFence, PhaseDispatchCompute, PhaseRecordFence, PhaseDraw}, phases)

	phases = nil
	_, err = d.StepFrame(context.Background(), testDT, testGravity)
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseAdvanceClock, PhaseAcquireOrSkipFence, PhaseRotateIfReady, PhaseDispatchCompute, PhaseRecordFence, PhaseDraw}, phases)

	phases = nil
	dd := newDriver(t, newDevice(t, gpu.SoftwareOptions{}), func(o *Options) {
		record(o)
		o.Discipline = ring.Double
	})
	phases = nil
	_, err = dd.StepFrame(context.Background(), testDT, testGravity)
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseAdvanceClock, PhaseAcquireOrSkipFence, PhaseDispatchCompute, PhaseRecordFence, PhaseRotateIfReady, PhaseDraw}, phases)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestFrameClampsAndScalesDelta(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	d := newDriver(t, newDevice(t, gpu.SoftwareOptions{}), func(o *Options) {
		o.Clock = clock
		o.TimeScale = 2
		o.MaxDelta = 10 * time.Millisecond
	})

	rep, err := d.Frame(context.Background(), testGravity)
	require.NoError(t, err)
	assert.Zero(t, rep.DeltaTime)

	clock.now = clock.now.Add(4 * time.Millisecond)
	rep, err = d.Frame(context.Background(), testGravity)
	require.NoError(t, err)
	assert.InDelta(t, 0.008, rep.DeltaTime, 1e-6)

	clock.now = clock.now.Add(time.Second)
	rep, err = d.Frame(context.Background(), testGravity)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, rep.DeltaTime, 1e-6)

	clock.now = clock.now.Add(-time.Second)
	rep, err = d.Frame(context.Background(), testGravity)
	require.NoError(t, err)
	assert.Zero(t, rep.DeltaTime)
}

func TestCloseAbandonsAndReleases(t *testing.T) {
	dev := newDevice(t, gpu.SoftwareOptions{Latency: 100 * time.Millisecond})
	d := newDriver(t, dev, nil)
	_, err := d.StepFrame(context.Background(), testDT, testGravity)
	require.NoError(t, err)

	require.NoError(t, d.Close())
	_, err = d.StepFrame(context.Background(), testDT, testGravity)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = d.Snapshot(0)
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, d.Close())
}

func TestSnapshotOfDisabledDriver(t *testing.T) {
	d := newDriver(t, newDevice(t, gpu.SoftwareOptions{DisableCompute: true}), nil)
	_, err := d.Snapshot(0)
	assert.ErrorIs(t, err, gpu.ErrCapabilityUnavailable)
}

func TestStepFrameHonoursCancelledContext(t *testing.T) {
	dev := newDevice(t, gpu.SoftwareOptions{Latency: 200 * time.Millisecond})
	d := newDriver(t, dev, nil)
	_, err := d.StepFrame(context.Background(), testDT, testGravity)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.StepFrame(ctx, testDT, testGravity)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, d.Promotions())
}

func TestSetTimeScaleClamps(t *testing.T) {
	d := newDriver(t, newDevice(t, gpu.SoftwareOptions{}), nil)
	assert.Equal(t, 1.0, d.TimeScale())
	d.SetTimeScale(-3)
	assert.Zero(t, d.TimeScale())
	d.SetTimeScale(2.5)
	assert.Equal(t, 2.5, d.TimeScale())
}
