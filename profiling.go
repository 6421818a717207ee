package main

import (
	"fmt"
	"os"
	"runtime/pprof"
	"sync"
	"time"

	"go.uber.org/zap"
)

// pgoRecording captures a CPU profile for profile-guided optimisation while
// the attractor orbits on its own.
type pgoRecording struct {
	log      *zap.Logger
	file     *os.File
	deadline time.Time
	once     sync.Once
}

// startDefaultPGORecording begins writing a CPU profile to path and stops it
// once duration has passed and Poll is called.
func startDefaultPGORecording(path string, duration time.Duration, log *zap.Logger) (*pgoRecording, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("starting CPU profile: %w", err)
	}
	log.Info("recording CPU profile", zap.String("path", path), zap.Duration("duration", duration))
	return &pgoRecording{log: log, file: f, deadline: time.Now().Add(duration)}, nil
}

// Poll stops the recording once its deadline passed and reports whether it
// has finished.
func (r *pgoRecording) Poll() bool {
	if r == nil {
		return false
	}
	if time.Now().Before(r.deadline) {
		return false
	}
	r.Stop()
	return true
}

// Stop ends the profile. It is safe to call more than once.
func (r *pgoRecording) Stop() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		pprof.StopCPUProfile()
		if err := r.file.Close(); err != nil {
			r.log.Warn("closing CPU profile", zap.Error(err))
			return
		}
		r.log.Info("CPU profile written", zap.String("path", r.file.Name()))
	})
}
