// Package assets embeds the device kernel and graphics program sources.
package assets

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
)

//go:embed *.cl *.kage
var files embed.FS

// ErrNotFound is returned when no source exists under the requested name.
var ErrNotFound = errors.New("assets: source not found")

// Kernel and graphics program names shipped with the binary.
const (
	ParticleStepKernel = "particle_step"
	ParticleGlowShader = "particle_glow"
)

// KernelSource returns the OpenCL C source registered as name.
func KernelSource(name string) (string, error) {
	b, err := load(name + ".cl")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GraphicsSource returns the Kage source registered as name.
func GraphicsSource(name string) ([]byte, error) {
	return load(name + ".kage")
}

func load(file string) ([]byte, error) {
	b, err := files.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	if err != nil {
		return nil, fmt.Errorf("assets: reading %s: %w", file, err)
	}
	return b, nil
}
