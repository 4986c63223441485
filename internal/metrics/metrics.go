// Package metrics exposes the prometheus collectors of the compute stack.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Kernel lifecycle metrics.
	KernelLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernel_launches_total",
		Help: "The total number of kernel submissions by kernel name",
	}, []string{"kernel"})

	KernelLaunchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernel_launch_failures_total",
		Help: "The total number of failed kernel submissions by kernel name",
	}, []string{"kernel"})

	KernelWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kernel_wait_duration_ms",
		Help:    "Host time spent waiting on kernel fences in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 20), // 10us to ~5s
	})

	ShaderCompileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shader_compile_duration_ms",
		Help:    "Duration of runtime shader compilation in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// Transfer metrics.
	DeviceBytesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_bytes_uploaded_total",
		Help: "Total bytes copied from host to device buffers",
	})

	DeviceBytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_bytes_downloaded_total",
		Help: "Total bytes copied from device buffers to host",
	})

	DeviceBuffersLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "device_buffers_live",
		Help: "Number of device buffers currently allocated",
	})

	// Sandbox metrics.
	SandboxRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbox_runs_total",
		Help: "The total number of sandbox correctness runs by data domain",
	}, []string{"domain"})

	SandboxMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sandbox_mismatches_total",
		Help: "Total elements that disagreed between CPU reference and device result",
	})

	SandboxRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sandbox_run_duration_ms",
		Help:    "Duration of one sandbox correctness run in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1ms to ~16s
	})
)
