//go:build !opencl

package gpu

import (
	"fmt"

	"go.uber.org/zap"
)

// OpenCLDevice is unavailable without the opencl build tag.
type OpenCLDevice struct{ Device }

func NewOpenCLDevice(_ *zap.Logger) (*OpenCLDevice, error) {
	return nil, fmt.Errorf("%w: OpenCL support is not enabled; rebuild with -tags opencl", ErrCapabilityUnavailable)
}
