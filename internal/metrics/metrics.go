// Package metrics exposes frame loop counters and timings to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "attractor"

// Frame collects frame loop metrics.
type Frame struct {
	Frames         prometheus.Counter
	Dispatches     prometheus.Counter
	Promotions     prometheus.Counter
	FenceTimeouts  prometheus.Counter
	FenceFailures  prometheus.Counter
	ComputeSkipped prometheus.Counter
	FrameDelta     prometheus.Histogram
	FenceWait      prometheus.Histogram
	Particles      prometheus.Gauge
}

// NewFrame registers the frame metrics on reg. A nil reg creates unregistered
// collectors.
func NewFrame(reg prometheus.Registerer) *Frame {
	f := promauto.With(reg)
	return &Frame{
		Frames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames driven",
		}),
		Dispatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Compute steps submitted to the device",
		}),
		Promotions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Buffer ring rotations after a completed step",
		}),
		FenceTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fence_timeouts_total",
			Help:      "Frames whose fence wait exceeded the bound",
		}),
		FenceFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fence_failures_total",
			Help:      "Compute steps that completed with an error",
		}),
		ComputeSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compute_skipped_total",
			Help:      "Frames drawn without a compute step",
		}),
		FrameDelta: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_delta_seconds",
			Help:      "Simulation time step per frame after clamping",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 8),
		}),
		FenceWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fence_wait_seconds",
			Help:      "Time spent waiting on the previous frame's fence",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
		Particles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "particles",
			Help:      "Particles in the field",
		}),
	}
}

// ObserveFenceWait records the duration since start.
func (f *Frame) ObserveFenceWait(start time.Time) {
	f.FenceWait.Observe(time.Since(start).Seconds())
}
