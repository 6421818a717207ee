package gpu

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Backend names a device implementation.
type Backend string

const (
	BackendAuto     Backend = "auto"
	BackendSoftware Backend = "software"
	BackendOpenCL   Backend = "opencl"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendAuto, BackendSoftware, BackendOpenCL:
		return b, nil
	case "":
		return BackendAuto, nil
	}
	return "", fmt.Errorf("gpu: unknown backend %q", s)
}

// Open returns a device for b. BackendAuto prefers OpenCL and falls back to
// the software device when OpenCL is unavailable.
func Open(b Backend, soft SoftwareOptions, log *zap.Logger) (Device, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch b {
	case BackendSoftware:
		return NewSoftwareDevice(soft, log), nil
	case BackendOpenCL:
		d, err := NewOpenCLDevice(log)
		if err != nil {
			return nil, err
		}
		return d, nil
	case BackendAuto, "":
		d, err := NewOpenCLDevice(log)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, ErrCapabilityUnavailable) {
			return nil, err
		}
		log.Info("OpenCL unavailable, using software device", zap.Error(err))
		return NewSoftwareDevice(soft, log), nil
	}
	return nil, fmt.Errorf("gpu: unknown backend %q", b)
}
