//go:build !opencl

package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithoutOpenCL(t *testing.T) {
	_, err := Open(BackendOpenCL, SoftwareOptions{}, nil)
	assert.ErrorIs(t, err, ErrCapabilityUnavailable)

	d, err := Open(BackendAuto, SoftwareOptions{}, nil)
	require.NoError(t, err)
	defer d.Close()
	assert.IsType(t, &SoftwareDevice{}, d)
}
