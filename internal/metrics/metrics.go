// Package metrics registers the operational gauges/counters that matter for
// this core: queue depth, in-flight call count, retry-ladder steps
// consumed.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "outbound_queue_depth", Help: "Pending queue entries awaiting dispatch"},
	)
	InFlightCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "outbound_in_flight_calls", Help: "Calls currently tracked as in flight"},
	)
	RetryStepsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outbound_retry_steps_total", Help: "Retry ladder steps consumed"},
		[]string{"reason"},
	)
	LadderExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "outbound_ladder_exhausted_total", Help: "Calls that exhausted the retry ladder"},
	)
)

// Register registers all metrics against reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(QueueDepth, InFlightCalls, RetryStepsConsumed, LadderExhausted)
}
