//go:build opencl

package gpu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
	"go.uber.org/zap"
)

// OpenCLDevice runs compute programs through an OpenCL command queue.
// Dispatches and uploads use the compute queue; Read uses a separate transfer
// queue so display readback never waits behind an in-flight step.
type OpenCLDevice struct {
	log      *zap.Logger
	device   *cl.Device
	context  *cl.Context
	compute  *cl.CommandQueue
	transfer *cl.CommandQueue
	name     string
	caps     Capabilities

	mu     sync.Mutex
	closed bool
}

// NewOpenCLDevice opens the first GPU device found, falling back to a CPU
// device.
func NewOpenCLDevice(log *zap.Logger) (*OpenCLDevice, error) {
	if log == nil {
		log = zap.NewNop()
	}
	platforms, err := cl.GetPlatforms()
	if err != nil {
		msg := "querying OpenCL platforms"
		if strings.Contains(err.Error(), "-1001") {
			msg += ": no ICD loader reported any platforms; install OpenCL drivers and verify with `clinfo`"
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCapabilityUnavailable, msg, err)
	}
	if len(platforms) == 0 {
		return nil, fmt.Errorf("%w: no OpenCL platforms available", ErrCapabilityUnavailable)
	}
	device := firstDevice(platforms, cl.DeviceTypeGPU)
	if device == nil {
		device = firstDevice(platforms, cl.DeviceTypeCPU)
	}
	if device == nil {
		return nil, fmt.Errorf("%w: no suitable OpenCL devices found", ErrCapabilityUnavailable)
	}

	context, err := cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, fmt.Errorf("creating OpenCL context: %w", err)
	}
	compute, err := context.CreateCommandQueue(device, 0)
	if err != nil {
		context.Release()
		return nil, fmt.Errorf("creating OpenCL compute queue: %w", err)
	}
	transfer, err := context.CreateCommandQueue(device, 0)
	if err != nil {
		compute.Release()
		context.Release()
		return nil, fmt.Errorf("creating OpenCL transfer queue: %w", err)
	}
	d := &OpenCLDevice{
		log:      log.Named("opencl"),
		device:   device,
		context:  context,
		compute:  compute,
		transfer: transfer,
		name:     device.Name(),
		caps: Capabilities{
			Compute:          true,
			MaxWorkGroupSize: device.MaxWorkGroupSize(),
			ComputeUnits:     device.MaxComputeUnits(),
		},
	}
	d.log.Info("opened OpenCL device",
		zap.String("device", d.name),
		zap.Int("max_work_group_size", d.caps.MaxWorkGroupSize),
		zap.Int("compute_units", d.caps.ComputeUnits))
	return d, nil
}

func firstDevice(platforms []*cl.Platform, kind cl.DeviceType) *cl.Device {
	for _, p := range platforms {
		devices, err := p.GetDevices(kind)
		if err != nil && err != cl.ErrDeviceNotFound {
			continue
		}
		if len(devices) > 0 {
			return devices[0]
		}
	}
	return nil
}

func (d *OpenCLDevice) Name() string               { return d.name }
func (d *OpenCLDevice) Capabilities() Capabilities { return d.caps }

type clProgram struct {
	program *cl.Program
	kernel  *cl.Kernel
}

func (p *clProgram) release() error {
	if p.kernel != nil {
		p.kernel.Release()
		p.kernel = nil
	}
	if p.program != nil {
		p.program.Release()
		p.program = nil
	}
	return nil
}

func (d *OpenCLDevice) CompileCompute(name, source, entry, options string) (*ComputeProgram, error) {
	program, err := d.context.CreateProgramWithSource([]string{source})
	if err != nil {
		return nil, fmt.Errorf("creating OpenCL program %s: %w", name, err)
	}
	if err := program.BuildProgram([]*cl.Device{d.device}, options); err != nil {
		program.Release()
		if buildErr, ok := err.(cl.BuildError); ok {
			return nil, &CompileError{Kind: KindCompute, Program: name, Log: string(buildErr)}
		}
		return nil, &CompileError{Kind: KindCompute, Program: name, Log: err.Error()}
	}
	k, err := program.CreateKernel(entry)
	if err != nil {
		program.Release()
		return nil, &CompileError{Kind: KindCompute, Program: name, Log: fmt.Sprintf("creating kernel %s: %v", entry, err)}
	}
	return &ComputeProgram{name: name, impl: &clProgram{program: program, kernel: k}}, nil
}

type clBuffer struct {
	label  string
	length int
	mem    *cl.MemObject
}

func (b *clBuffer) Label() string { return b.label }
func (b *clBuffer) Len() int      { return b.length }

func (b *clBuffer) Release() error {
	if b.mem != nil {
		b.mem.Release()
		b.mem = nil
	}
	return nil
}

func (d *OpenCLDevice) NewBuffer(label string, length int) (Buffer, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: length %d", ErrBufferSize, length)
	}
	mem, err := d.context.CreateEmptyBuffer(cl.MemReadWrite, length*int(unsafe.Sizeof(float32(0))))
	if err != nil {
		return nil, fmt.Errorf("allocating %s buffer: %w", label, err)
	}
	return &clBuffer{label: label, length: length, mem: mem}, nil
}

func (d *OpenCLDevice) buffer(b Buffer) (*clBuffer, error) {
	cb, ok := b.(*clBuffer)
	if !ok {
		return nil, fmt.Errorf("gpu: buffer %s does not belong to the OpenCL device", b.Label())
	}
	if cb.mem == nil {
		return nil, fmt.Errorf("gpu: buffer %s used after release", cb.label)
	}
	return cb, nil
}

func (d *OpenCLDevice) Upload(ctx context.Context, buf Buffer, data []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cb, err := d.buffer(buf)
	if err != nil {
		return err
	}
	if len(data) != cb.length {
		return fmt.Errorf("%w: upload of %d into %s (%d)", ErrBufferSize, len(data), cb.label, cb.length)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	if _, err := d.compute.EnqueueWriteBufferFloat32(cb.mem, true, 0, data, nil); err != nil {
		return fmt.Errorf("writing %s buffer: %w", cb.label, err)
	}
	return nil
}

func (d *OpenCLDevice) Read(buf Buffer, dst []float32) error {
	cb, err := d.buffer(buf)
	if err != nil {
		return err
	}
	if len(dst) > cb.length {
		return fmt.Errorf("%w: read of %d from %s (%d)", ErrBufferSize, len(dst), cb.label, cb.length)
	}
	if _, err := d.transfer.EnqueueReadBufferFloat32(cb.mem, true, 0, dst, nil); err != nil {
		return fmt.Errorf("reading %s buffer: %w", cb.label, err)
	}
	return nil
}

func (d *OpenCLDevice) Dispatch(disp Dispatch) (Fence, error) {
	if err := disp.validate(); err != nil {
		return nil, err
	}
	prog, ok := disp.Program.impl.(*clProgram)
	if !ok || prog.kernel == nil {
		return nil, fmt.Errorf("gpu: program %s was not compiled by the OpenCL device", disp.Program.Name())
	}
	var mems [4]*cl.MemObject
	for i, b := range []Buffer{disp.Source.Positions, disp.Source.Velocities, disp.Target.Positions, disp.Target.Velocities} {
		cb, err := d.buffer(b)
		if err != nil {
			return nil, err
		}
		mems[i] = cb.mem
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	u := disp.Uniforms
	if err := prog.kernel.SetArgs(
		int32(u.Count),
		u.Gravity[0],
		u.Gravity[1],
		u.DeltaTime,
		mems[0],
		mems[1],
		mems[2],
		mems[3],
	); err != nil {
		return nil, fmt.Errorf("setting kernel arguments: %w", err)
	}
	global := []int{disp.Grid.GlobalSize()}
	local := []int{disp.Grid.GroupSize}
	event, err := d.compute.EnqueueNDRangeKernel(prog.kernel, nil, global, local, nil)
	if err != nil {
		return nil, fmt.Errorf("enqueueing kernel: %w", err)
	}
	if err := d.compute.Flush(); err != nil {
		event.Release()
		return nil, fmt.Errorf("flushing compute queue: %w", err)
	}
	f := &clFence{done: make(chan struct{}), event: event}
	f.refs.Store(2)
	go f.watch()
	return f, nil
}

func (d *OpenCLDevice) Barrier(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- d.compute.Finish() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("finishing compute queue: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for queued work and releases the queues and context. Buffers
// and programs must be released by their owners first.
func (d *OpenCLDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var errs []error
	if err := d.compute.Finish(); err != nil {
		errs = append(errs, fmt.Errorf("finishing compute queue: %w", err))
	}
	d.transfer.Release()
	d.compute.Release()
	d.context.Release()
	return errors.Join(errs...)
}

// clFence shares its event between the watch goroutine and the holder. The
// event is released when both have let go.
type clFence struct {
	done     chan struct{}
	err      error
	event    *cl.Event
	refs     atomic.Int32
	released atomic.Bool
}

func (f *clFence) watch() {
	if err := cl.WaitForEvents([]*cl.Event{f.event}); err != nil {
		f.err = fmt.Errorf("waiting for kernel: %w", err)
	}
	close(f.done)
	f.unref()
}

func (f *clFence) unref() {
	if f.refs.Add(-1) == 0 {
		f.event.Release()
	}
}

func (f *clFence) Done() <-chan struct{} { return f.done }

func (f *clFence) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Release drops the holder's reference. Later calls do nothing.
func (f *clFence) Release() {
	if f.released.CompareAndSwap(false, true) {
		f.unref()
	}
}
