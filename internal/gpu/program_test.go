package gpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeShader struct{ src string }

func TestCompileGraphics(t *testing.T) {
	released := 0
	compile := func(b []byte) (*fakeShader, error) { return &fakeShader{src: string(b)}, nil }
	release := func(*fakeShader) { released++ }

	prog, err := CompileGraphics("glow", []byte("package main"), compile, release)
	require.NoError(t, err)
	assert.Equal(t, KindGraphics, prog.Kind())
	assert.Equal(t, "glow", prog.Name())
	assert.Equal(t, "package main", prog.Handle().src)

	p := prog
	require.NoError(t, p.Release())
	require.NoError(t, p.Release())
	assert.Equal(t, 1, released)
}

func TestCompileGraphicsErrors(t *testing.T) {
	compile := func(b []byte) (int, error) { return 0, errors.New("line 3: undefined: foo") }

	_, err := CompileGraphics("glow", nil, compile, nil)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "empty source", ce.Log)

	_, err = CompileGraphics("glow", []byte("x"), compile, nil)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindGraphics, ce.Kind)
	assert.Contains(t, ce.Error(), "undefined: foo")
}

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]Backend{"": BackendAuto, "auto": BackendAuto, "software": BackendSoftware, "opencl": BackendOpenCL} {
		got, err := ParseBackend(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseBackend("vulkan")
	assert.Error(t, err)
}

func TestOpenSoftware(t *testing.T) {
	d, err := Open(BackendSoftware, SoftwareOptions{Workers: 2}, nil)
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, 2, d.Capabilities().ComputeUnits)
	assert.True(t, d.Capabilities().Compute)
}
