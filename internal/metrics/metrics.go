// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HooksRegistered tracks the number of bound hook names
	HooksRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "needle_hooks_registered",
			Help: "Number of hooks currently registered",
		},
	)

	// ModulesRunning tracks the number of modules held by the framework
	ModulesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "needle_modules_running",
			Help: "Number of modules currently registered",
		},
	)

	// HookInvocationsTotal counts hook invocations by outcome
	HookInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "needle_hook_invocations_total",
			Help: "Total number of hook invocations",
		},
		[]string{"hook", "result"},
	)

	// DispatchDeliveredTotal counts frames handed to module channels
	DispatchDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "needle_dispatch_delivered_total",
			Help: "Total number of frames delivered to modules",
		},
		[]string{"module"},
	)

	// DispatchDroppedTotal counts frames a module did not receive
	DispatchDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "needle_dispatch_dropped_total",
			Help: "Total number of frames dropped for a module",
		},
		[]string{"module", "reason"},
	)

	// CapturePacketsTotal counts frames read from a capture source
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "needle_capture_packets_total",
			Help: "Total number of packets captured",
		},
		[]string{"source"},
	)

	// CaptureErrorsTotal counts read errors other than timeouts
	CaptureErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "needle_capture_errors_total",
			Help: "Total number of capture read errors",
		},
		[]string{"source"},
	)

	// TransmitFramesTotal counts frames pumped from module outbound channels
	TransmitFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "needle_transmit_frames_total",
			Help: "Total number of frames transmitted on behalf of modules",
		},
		[]string{"module", "result"},
	)

	// CommandRequestsTotal counts control requests by method and outcome
	CommandRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "needle_command_requests_total",
			Help: "Total number of control requests handled",
		},
		[]string{"method", "result"},
	)
)

// Result label values.
const (
	ResultOK       = "ok"
	ResultModule   = "module"
	ResultError    = "error"
	ResultUnknown  = "unknown"
	ResultPanicked = "panicked"
)

// Drop reasons.
const (
	DropFull   = "full"
	DropClosed = "closed"
)
