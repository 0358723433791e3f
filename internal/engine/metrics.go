package engine

import "github.com/prometheus/client_golang/prometheus"

// Metric label values.
const (
	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomeMismatch = "mismatch"

	batchDispatched = "dispatched"
	batchAborted    = "aborted"
)

var (
	inflightBranches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_engine_inflight_branches",
			Help: "Number of delivery branches currently running.",
		},
	)

	responsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_engine_responses_total",
			Help: "Total number of responses sent by delivery branches.",
		},
		[]string{"branch", "outcome"},
	)

	batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_engine_batches_total",
			Help: "Total number of batches by result.",
		},
		[]string{"result"},
	)

	channelClosesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_engine_channel_closes_total",
			Help: "Total number of response channels closed by the engine.",
		},
	)
)

func init() {
	prometheus.MustRegister(inflightBranches)
	prometheus.MustRegister(responsesTotal)
	prometheus.MustRegister(batchesTotal)
	prometheus.MustRegister(channelClosesTotal)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, b := range []string{branchImmediate, branchDelayed} {
		for _, o := range []string{outcomeOK, outcomeError, outcomeMismatch} {
			responsesTotal.WithLabelValues(b, o)
		}
	}
	batchesTotal.WithLabelValues(batchDispatched)
	batchesTotal.WithLabelValues(batchAborted)
}
