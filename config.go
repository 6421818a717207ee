package main

import "time"

// Window, input, and presentation constants. Simulation settings live in
// internal/config and can be changed from a file or flags.
const (
	windowTitle        = "attractor"
	pgoRecordDuration  = 15 * time.Second
	pgoProfilePath     = "default.pgo"
	orbitMinRadius     = 2.0
	orbitMaxRadius     = 8.0
	orbitAngularSpeed  = 1.2 // radians per second
	orbitRetargetMin   = 40  // frames
	orbitRetargetRange = 120 // frames
	markerRadius       = 4
	debugGridExtent    = 5
	debugGridSpacing   = 1
	glowExposure       = 1.6
	glowBloom          = 0.6
	timeScaleStep      = 0.1
	minTimeScale       = 0.0
	maxTimeScale       = 4.0
	headlessLogEvery   = 120 // frames
)
