// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of ssh-agentd.
//
// ssh-agentd is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the SSH agent.
// It exposes request/failure counters, signature counts, connection and
// key-ring gauges, and resource gauges to enable monitoring of agent
// health and load.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all agent metrics.
	Namespace = "sshagent"

	// Label names
	LabelRequest = "request"
	LabelStatus  = "status"
	LabelReason  = "reason"
	LabelVersion = "version"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Request tag names, mirroring the dispatch table's request kinds.
	ReqListIdentities   = "list_identities"
	ReqSignRequest      = "sign_request"
	ReqAddIdentity      = "add_identity"
	ReqRemoveIdentity   = "remove_identity"
	ReqRemoveAll        = "remove_all"
	ReqRSAChallenge     = "rsa_challenge"
	ReqAddRSAIdentity   = "add_rsa_identity"
	ReqRemoveRSAIdentity = "remove_rsa_identity"

	// Failure reasons
	ReasonDuplicateKey  = "duplicate_key"
	ReasonUnknownFlags  = "unknown_flags"
	ReasonSelfTestFailed = "self_test_failed"
	ReasonKeyNotFound   = "key_not_found"
	ReasonMalformed     = "malformed_request"
	ReasonOverlongFrame = "overlong_frame"
)

var (
	// RequestsTotal tracks agent requests received, by request tag and outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "Total number of agent requests by tag and status",
		},
		[]string{LabelRequest, LabelStatus},
	)

	// RequestDuration tracks how long requests take to service, end to end.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of agent requests in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{LabelRequest},
	)

	// FailuresTotal tracks request failures by reason.
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "failures_total",
			Help:      "Total number of request failures by reason",
		},
		[]string{LabelReason},
	)

	// SignaturesTotal tracks the number of signatures produced.
	SignaturesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "signatures_total",
			Help:      "Total number of signatures produced by SIGN_REQUEST",
		},
	)

	// ActiveConnections tracks the number of live client connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of currently connected clients",
		},
	)

	// KeysTotal tracks the number of keys held in the store, by protocol version.
	KeysTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "keys_total",
			Help:      "Number of keys currently held in the key store, by version",
		},
		[]string{LabelVersion},
	)

	// Goroutines tracks the current number of goroutines in the agent.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	// Updated periodically by the resource collector.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// MemorySysBytes tracks the total bytes of memory obtained from the OS.
	// Updated periodically by the resource collector.
	MemorySysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_sys_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	// GCPauseTotalSeconds tracks the cumulative time spent in GC stop-the-world pauses.
	// Updated periodically by the resource collector.
	GCPauseTotalSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "gc_pause_total_seconds",
			Help:      "Cumulative time spent in GC stop-the-world pauses",
		},
	)

	// ServerUptime tracks the agent uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Agent uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled.
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default.
	enabled.Store(true)
}

// RecordRequest records a completed agent request with its duration and status.
func RecordRequest(request, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	RequestsTotal.WithLabelValues(request, status).Inc()
	RequestDuration.WithLabelValues(request).Observe(duration)
}

// RecordFailure records a request failure with a specific reason.
//
// Example:
//
//	if !store.Add(key) {
//	    RecordFailure(ReasonDuplicateKey)
//	}
func RecordFailure(reason string) {
	if !enabled.Load() {
		return
	}
	FailuresTotal.WithLabelValues(reason).Inc()
}

// RecordSignature increments the signatures-produced counter.
func RecordSignature() {
	if !enabled.Load() {
		return
	}
	SignaturesTotal.Inc()
}

// IncrementActiveConnections increments the live connection gauge.
func IncrementActiveConnections() {
	if !enabled.Load() {
		return
	}
	ActiveConnections.Inc()
}

// DecrementActiveConnections decrements the live connection gauge.
func DecrementActiveConnections() {
	if !enabled.Load() {
		return
	}
	ActiveConnections.Dec()
}

// SetKeysTotal sets the number of stored keys for a protocol version ("1" or "2").
func SetKeysTotal(version string, count float64) {
	if !enabled.Load() {
		return
	}
	KeysTotal.WithLabelValues(version).Set(count)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
