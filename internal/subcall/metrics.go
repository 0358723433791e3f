package subcall

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for sub-call results.
const (
	resultSuccess = "success"
	resultFailure = "failure"
)

var (
	subcallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_subcall_duration_seconds",
			Help:    "Duration of nested inference calls, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	subcallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_subcalls_total",
			Help: "Total number of nested inference calls by mode and result.",
		},
		[]string{"mode", "result"},
	)
)

func init() {
	prometheus.MustRegister(subcallDuration)
	prometheus.MustRegister(subcallsTotal)

	for _, m := range []Mode{Blocking, Suspending} {
		subcallsTotal.WithLabelValues(m.String(), resultSuccess)
		subcallsTotal.WithLabelValues(m.String(), resultFailure)
	}
}
