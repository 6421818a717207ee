package gpu

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attractor/internal/kernel"
	"attractor/internal/particles"
)

// SoftwareOptions configure a SoftwareDevice.
type SoftwareOptions struct {
	// Workers is the number of goroutines a dispatch fans out to. Zero uses
	// runtime.NumCPU.
	Workers int

	// MaxWorkGroupSize is the reported device limit. Zero means 1024.
	MaxWorkGroupSize int

	// Latency delays each dispatch's fence after its work completes.
	Latency time.Duration

	// DisableCompute makes the device report no compute capability.
	DisableCompute bool

	// QueueDepth bounds the number of queued commands. Zero means 8.
	QueueDepth int
}

// SoftwareDevice runs compute programs on CPU goroutines. Commands execute in
// submission order on a single queue goroutine; each dispatch splits its
// workgroups across Workers goroutines.
type SoftwareDevice struct {
	opts SoftwareOptions
	log  *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan softCommand
	done   chan struct{}

	// held counts fences handed out and not yet released.
	held atomic.Int64
}

type softCommand struct {
	run     func() error
	latency time.Duration
	fence   *softFence
}

// NewSoftwareDevice starts the queue goroutine.
func NewSoftwareDevice(opts SoftwareOptions, log *zap.Logger) *SoftwareDevice {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MaxWorkGroupSize <= 0 {
		opts.MaxWorkGroupSize = 1024
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 8
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &SoftwareDevice{
		opts:  opts,
		log:   log.Named("software"),
		queue: make(chan softCommand, opts.QueueDepth),
		done:  make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *SoftwareDevice) loop() {
	defer close(d.done)
	for cmd := range d.queue {
		err := cmd.run()
		if cmd.latency > 0 {
			time.Sleep(cmd.latency)
		}
		cmd.fence.signal(err)
	}
}

func (d *SoftwareDevice) Name() string {
	return fmt.Sprintf("software (%d workers)", d.opts.Workers)
}

func (d *SoftwareDevice) Capabilities() Capabilities {
	return Capabilities{
		Compute:          !d.opts.DisableCompute,
		MaxWorkGroupSize: d.opts.MaxWorkGroupSize,
		ComputeUnits:     d.opts.Workers,
	}
}

var entryDecl = regexp.MustCompile(`__kernel\b[^{;]*\bvoid\s+(\w+)\s*\(`)

type softProgram struct {
	params particles.Params
}

func (softProgram) release() error { return nil }

// CompileCompute checks that source declares entry and configures the
// reference kernel from options.
func (d *SoftwareDevice) CompileCompute(name, source, entry, options string) (*ComputeProgram, error) {
	if d.opts.DisableCompute {
		return nil, ErrCapabilityUnavailable
	}
	if entry != kernel.EntryPoint {
		return nil, &CompileError{Kind: KindCompute, Program: name, Log: fmt.Sprintf("no software implementation of %q", entry)}
	}
	found := false
	for _, m := range entryDecl.FindAllStringSubmatch(source, -1) {
		if m[1] == entry {
			found = true
			break
		}
	}
	if !found {
		return nil, &CompileError{Kind: KindCompute, Program: name, Log: fmt.Sprintf("kernel %q not declared in source", entry)}
	}
	params, _, err := kernel.ParseBuildOptions(options)
	if err != nil {
		return nil, &CompileError{Kind: KindCompute, Program: name, Log: err.Error()}
	}
	return &ComputeProgram{name: name, impl: softProgram{params: params}}, nil
}

type softBuffer struct {
	label    string
	data     []float32
	released atomic.Bool
}

func (b *softBuffer) Label() string { return b.label }
func (b *softBuffer) Len() int      { return len(b.data) }

func (b *softBuffer) Release() error {
	b.released.Store(true)
	return nil
}

func (d *SoftwareDevice) NewBuffer(label string, length int) (Buffer, error) {
	if length < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrBufferSize, length)
	}
	return &softBuffer{label: label, data: make([]float32, length)}, nil
}

func (d *SoftwareDevice) buffer(b Buffer) (*softBuffer, error) {
	sb, ok := b.(*softBuffer)
	if !ok {
		return nil, fmt.Errorf("gpu: buffer %s does not belong to the software device", b.Label())
	}
	if sb.released.Load() {
		return nil, fmt.Errorf("gpu: buffer %s used after release", sb.label)
	}
	return sb, nil
}

func (d *SoftwareDevice) Upload(ctx context.Context, buf Buffer, data []float32) error {
	sb, err := d.buffer(buf)
	if err != nil {
		return err
	}
	if len(data) != len(sb.data) {
		return fmt.Errorf("%w: upload of %d into %s (%d)", ErrBufferSize, len(data), sb.label, len(sb.data))
	}
	f, err := d.submit(func() error {
		copy(sb.data, data)
		return nil
	}, 0)
	if err != nil {
		return err
	}
	return wait(ctx, f)
}

func (d *SoftwareDevice) Read(buf Buffer, dst []float32) error {
	sb, err := d.buffer(buf)
	if err != nil {
		return err
	}
	if len(dst) > len(sb.data) {
		return fmt.Errorf("%w: read of %d from %s (%d)", ErrBufferSize, len(dst), sb.label, len(sb.data))
	}
	copy(dst, sb.data)
	return nil
}

func (d *SoftwareDevice) Dispatch(disp Dispatch) (Fence, error) {
	if d.opts.DisableCompute {
		return nil, ErrCapabilityUnavailable
	}
	if err := disp.validate(); err != nil {
		return nil, err
	}
	prog, ok := disp.Program.impl.(softProgram)
	if !ok {
		return nil, fmt.Errorf("gpu: program %s was not compiled by the software device", disp.Program.Name())
	}
	var bufs [4]*softBuffer
	for i, b := range []Buffer{disp.Source.Positions, disp.Source.Velocities, disp.Target.Positions, disp.Target.Velocities} {
		sb, err := d.buffer(b)
		if err != nil {
			return nil, err
		}
		bufs[i] = sb
	}
	src := kernel.State{Positions: bufs[0].data, Velocities: bufs[1].data}
	dst := kernel.State{Positions: bufs[2].data, Velocities: bufs[3].data}
	return d.submit(func() error {
		return d.execute(prog.params, src, dst, disp.Uniforms, disp.Grid)
	}, d.opts.Latency)
}

// execute fans the workgroups of grid out to the worker goroutines. Workers
// pull group indices from a shared counter so uneven groups balance out.
func (d *SoftwareDevice) execute(p particles.Params, src, dst kernel.State, u kernel.Uniforms, grid kernel.Grid) error {
	workers := min(d.opts.Workers, grid.Groups)
	var next atomic.Int64
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("gpu: kernel panicked: %v", r)
				}
			}()
			for {
				i := int(next.Add(1) - 1)
				if i >= grid.Groups {
					return nil
				}
				lo, hi := grid.Range(i)
				kernel.Step(src, dst, lo, hi, u, p)
			}
		})
	}
	return g.Wait()
}

func (d *SoftwareDevice) Barrier(ctx context.Context) error {
	f, err := d.submit(func() error { return nil }, 0)
	if err != nil {
		return err
	}
	return wait(ctx, f)
}

func (d *SoftwareDevice) submit(run func() error, latency time.Duration) (*softFence, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	f := &softFence{done: make(chan struct{}), held: &d.held}
	d.held.Add(1)
	d.queue <- softCommand{run: run, latency: latency, fence: f}
	return f, nil
}

// Close drains queued work and stops the queue goroutine.
func (d *SoftwareDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
	if n := d.held.Load(); n > 0 {
		d.log.Warn("closing with unreleased fences", zap.Int64("fences", n))
	}
	d.log.Debug("software device closed")
	return nil
}

type softFence struct {
	done     chan struct{}
	err      error
	held     *atomic.Int64
	released atomic.Bool
}

func (f *softFence) signal(err error) {
	f.err = err
	close(f.done)
}

func (f *softFence) Done() <-chan struct{} { return f.done }

func (f *softFence) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Release returns the fence to the device. Later calls do nothing.
func (f *softFence) Release() {
	if f.released.CompareAndSwap(false, true) {
		f.held.Add(-1)
	}
}

// wait blocks on f and releases it.
func wait(ctx context.Context, f Fence) error {
	defer f.Release()
	select {
	case <-f.Done():
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
