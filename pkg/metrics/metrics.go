package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	mappingEngine = "mapping_engine"

	jobsCreatedTotal     = "jobs_created_total"
	jobsTerminalTotal    = "jobs_terminal_total"
	candidatesDroppedTot = "candidates_dropped_total"
	dlqDepthGauge        = "dlq_depth"

	statusLabel = "status"
)

var jobsCreatedTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: mappingEngine,
		Name:      jobsCreatedTotal,
		Help:      "number of mapping jobs durably registered by Intake",
	},
)

var jobsTerminalTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: mappingEngine,
		Name:      jobsTerminalTotal,
		Help:      "number of jobs reaching a terminal status, partitioned by status",
	},
	[]string{statusLabel},
)

var candidatesDroppedTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: mappingEngine,
		Name:      candidatesDroppedTot,
		Help:      "number of target candidates permanently dropped after an embedding retry failed",
	},
)

var dlqDepthMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: mappingEngine,
		Name:      dlqDepthGauge,
		Help:      "number of discarded mapping_request jobs awaiting redrive",
	},
)

func IncreaseJobsCreatedTotalMetric() {
	jobsCreatedTotalMetric.Inc()
}

func IncreaseJobsTerminalTotalMetric(status string) {
	jobsTerminalTotalMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func IncreaseCandidatesDroppedTotalMetric(count int) {
	candidatesDroppedTotalMetric.Add(float64(count))
}

func SetDLQDepthMetric(depth int) {
	dlqDepthMetric.Set(float64(depth))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsCreatedTotalMetric)
	prometheus.MustRegister(jobsTerminalTotalMetric)
	prometheus.MustRegister(candidatesDroppedTotalMetric)
	prometheus.MustRegister(dlqDepthMetric)
}
