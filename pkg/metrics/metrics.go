// Package metrics exposes the control loop's Prometheus instrumentation:
// per-cycle counters, collection/decision/execution latencies, and scaling
// operation outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lxc_autoscaler_cycles_total",
			Help: "Total number of control loop cycles run, including failed ones",
		},
	)

	CyclesFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lxc_autoscaler_cycles_failed_total",
			Help: "Total number of control loop cycles that errored before completion",
		},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lxc_autoscaler_cycle_duration_seconds",
			Help:    "Time taken for one control loop cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	CollectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lxc_autoscaler_collection_duration_seconds",
			Help:    "Time taken to collect cluster and container telemetry",
			Buckets: prometheus.DefBuckets,
		},
	)

	CollectionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lxc_autoscaler_collection_errors_total",
			Help: "Total number of telemetry collection failures by scope",
		},
		[]string{"scope"}, // "node" or "container"
	)

	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lxc_autoscaler_decisions_total",
			Help: "Total number of scaling decisions by action and reason",
		},
		[]string{"action", "reason"},
	)

	ScalingOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lxc_autoscaler_scaling_operations_total",
			Help: "Total number of applied scaling operations by action and outcome",
		},
		[]string{"action", "outcome"}, // outcome: "success" or "failure"
	)

	ScalingOperationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lxc_autoscaler_scaling_operation_duration_seconds",
			Help:    "Time taken to apply one scaling operation via the cluster gateway",
			Buckets: prometheus.DefBuckets,
		},
	)

	ClusterUnsafeTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lxc_autoscaler_cluster_unsafe_total",
			Help: "Total number of cycles where the cluster-safety gate blocked all scaling",
		},
	)

	ContainersTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lxc_autoscaler_containers_tracked",
			Help: "Number of containers currently tracked by the metrics aggregator",
		},
	)

	GatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lxc_autoscaler_gateway_call_duration_seconds",
			Help:    "Duration of outbound cluster gateway calls by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	GatewayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lxc_autoscaler_gateway_errors_total",
			Help: "Total number of cluster gateway call failures by operation and error kind",
		},
		[]string{"op", "kind"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		CyclesFailedTotal,
		CycleDuration,
		CollectionDuration,
		CollectionErrorsTotal,
		DecisionsTotal,
		ScalingOperationsTotal,
		ScalingOperationDuration,
		ClusterUnsafeTotal,
		ContainersTracked,
		GatewayCallDuration,
		GatewayErrorsTotal,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
