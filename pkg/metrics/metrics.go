// Package metrics exposes the fleet orchestrator's Prometheus gauges and
// counters. Grounded on cklxx-elephant.ai's Prometheus exporter usage (the
// richest metrics-emitting example in the corpus); wired here into the two
// components that are naturally gauge/counter shaped: the Frame Analyzer's
// adaptive-sampling queue depth (§4.10) and the Lock Manager's active-lease
// count (§4.7).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry wraps the collectors the fleetd/fleethost binaries register
// against their own prometheus.Registerer, so tests can use an isolated
// registry instead of the global default.
type Registry struct {
	QueueDepth      *prometheus.GaugeVec
	ActiveLeases    prometheus.Gauge
	TakeControlTotal *prometheus.CounterVec
	PathfindSeconds prometheus.Histogram
	HostProxyRetries *prometheus.CounterVec
	ZapEventsTotal  *prometheus.CounterVec
	FramesAnalyzed  *prometheus.CounterVec
}

// New registers every collector against reg and returns the Registry.
// Passing prometheus.NewRegistry() isolates tests from the global default
// registry; passing prometheus.DefaultRegisterer matches the teacher's
// process-wide exporter pattern for the production binaries.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleet_analyzer_queue_depth",
			Help: "Current frame backlog depth per device, driving adaptive sampling (§4.10).",
		}, []string{"host", "device_id"}),
		ActiveLeases: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_lock_active_leases",
			Help: "Number of currently held device leases.",
		}),
		TakeControlTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_lock_take_control_total",
			Help: "Total takeControl attempts, labeled by outcome.",
		}, []string{"result"}),
		PathfindSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleet_pathfind_search_seconds",
			Help:    "Wall-clock time for a single Pathfinder search.",
			Buckets: prometheus.DefBuckets,
		}),
		HostProxyRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_hostproxy_retries_total",
			Help: "Total bounded-backoff retries issued by the Host Proxy, labeled by host.",
		}, []string{"host"}),
		ZapEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_zapdetect_events_total",
			Help: "Total zap-detection events, labeled by detected method.",
		}, []string{"method", "detected"}),
		FramesAnalyzed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_analyzer_frames_total",
			Help: "Total frames processed by the Frame Analyzer, labeled by device and overload state.",
		}, []string{"device_id", "overloaded"}),
	}
}

// ObserveTakeControl records the outcome of a takeControl attempt.
func (r *Registry) ObserveTakeControl(result string) {
	if r == nil {
		return
	}
	r.TakeControlTotal.WithLabelValues(result).Inc()
}

// SetQueueDepth records the current backlog depth for a device.
func (r *Registry) SetQueueDepth(host, deviceID string, depth int) {
	if r == nil {
		return
	}
	r.QueueDepth.WithLabelValues(host, deviceID).Set(float64(depth))
}

// ObserveFrame records one processed frame.
func (r *Registry) ObserveFrame(deviceID string, overloaded bool) {
	if r == nil {
		return
	}
	r.FramesAnalyzed.WithLabelValues(deviceID, boolLabel(overloaded)).Inc()
}

// ObserveZapEvent records one zap-detection outcome.
func (r *Registry) ObserveZapEvent(method string, detected bool) {
	if r == nil {
		return
	}
	r.ZapEventsTotal.WithLabelValues(method, boolLabel(detected)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
