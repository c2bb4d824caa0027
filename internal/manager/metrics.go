package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	stepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batchsim_step_seconds",
			Help:    "Duration of one synchronous step across all worlds, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
	)

	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsim_steps_total",
			Help: "Total number of steps executed, by execution mode.",
		},
		[]string{"mode"},
	)

	activeWorlds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batchsim_active_worlds",
			Help: "Number of worlds owned by open managers.",
		},
	)

	initFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchsim_init_failures_total",
			Help: "Total number of manager initializations that failed, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(stepDuration)
	prometheus.MustRegister(stepsTotal)
	prometheus.MustRegister(activeWorlds)
	prometheus.MustRegister(initFailures)

	for kind := range kindNames {
		initFailures.WithLabelValues(kind.String())
	}
}
