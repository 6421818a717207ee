package assets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernelSourceDeclaresEntryPointWithGuard(t *testing.T) {
	src, err := KernelSource(ParticleStepKernel)
	require.NoError(t, err)
	assert.Contains(t, src, "void particle_step(")
	assert.Contains(t, src, "if (i >= count)")
	for _, def := range []string{"ATTRACTION_STRENGTH", "TERMINAL_SPEED_SQ", "DAMPING", "RSQRT_EPSILON", "WORKGROUP_SIZE"} {
		assert.Contains(t, src, def)
	}
}

func TestKernelSourceHandlesNonFiniteMagnitudes(t *testing.T) {
	src, err := KernelSource(ParticleStepKernel)
	require.NoError(t, err)
	assert.Contains(t, src, "if (isinf(dist_sq))")
	assert.Contains(t, src, "if (isinf(mag))")
}

func TestGraphicsSource(t *testing.T) {
	src, err := GraphicsSource(ParticleGlowShader)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(src), "//kage:unit pixels"))
	assert.Contains(t, string(src), "func Fragment(")
}

func TestMissingSource(t *testing.T) {
	_, err := KernelSource("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = GraphicsSource("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
