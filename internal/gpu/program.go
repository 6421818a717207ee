package gpu

import (
	"errors"
	"fmt"
)

// ProgramKind tags a compiled program.
type ProgramKind int

const (
	KindCompute ProgramKind = iota + 1
	KindGraphics
)

func (k ProgramKind) String() string {
	switch k {
	case KindCompute:
		return "compute"
	case KindGraphics:
		return "graphics"
	default:
		return fmt.Sprintf("ProgramKind(%d)", int(k))
	}
}

// CompileError carries the build log of a program that failed to compile.
type CompileError struct {
	Kind    ProgramKind
	Program string
	Log     string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("gpu: compiling %s program %q: %s", e.Kind, e.Program, e.Log)
}

// ComputeProgram is a kernel entry point compiled for one device.
type ComputeProgram struct {
	name string
	impl computeImpl
}

// computeImpl is the device-specific part of a compiled kernel.
type computeImpl interface {
	release() error
}

func (p *ComputeProgram) Kind() ProgramKind { return KindCompute }
func (p *ComputeProgram) Name() string      { return p.name }

func (p *ComputeProgram) Release() error {
	if p == nil || p.impl == nil {
		return nil
	}
	err := p.impl.release()
	p.impl = nil
	return err
}

// GraphicsProgram wraps a vertex/fragment program compiled by the renderer
// that owns it. H is the renderer's handle type.
type GraphicsProgram[H any] struct {
	name    string
	handle  H
	release func(H)
}

// CompileGraphics compiles source with compile. Failures are reported as a
// *CompileError. release, if non-nil, is called by Release.
func CompileGraphics[H any](name string, source []byte, compile func([]byte) (H, error), release func(H)) (*GraphicsProgram[H], error) {
	if len(source) == 0 {
		return nil, &CompileError{Kind: KindGraphics, Program: name, Log: "empty source"}
	}
	h, err := compile(source)
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &CompileError{Kind: KindGraphics, Program: name, Log: err.Error()}
	}
	return &GraphicsProgram[H]{name: name, handle: h, release: release}, nil
}

func (p *GraphicsProgram[H]) Kind() ProgramKind { return KindGraphics }
func (p *GraphicsProgram[H]) Name() string      { return p.name }

// Handle returns the compiled program.
func (p *GraphicsProgram[H]) Handle() H { return p.handle }

func (p *GraphicsProgram[H]) Release() error {
	if p == nil || p.release == nil {
		return nil
	}
	p.release(p.handle)
	p.release = nil
	return nil
}
