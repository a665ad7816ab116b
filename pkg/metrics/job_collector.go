package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nexuscompliance/mapping-engine/internal/store"
)

// jobStatsCollector is a Prometheus Collector scraping JobStore on every
// /metrics read, grounded on the teacher's store-backed collector pattern
// (originally over VM inventory, here over job status counts).
type jobStatsCollector struct {
	jobs          store.Job
	totalByStatus *prometheus.Desc
}

// NewJobStatsCollector returns a Collector exposing job counts by status.
func NewJobStatsCollector(jobs store.Job) prometheus.Collector {
	fqName := func(name string) string {
		return fmt.Sprintf("%s_jobs_%s", mappingEngine, name)
	}

	return &jobStatsCollector{
		jobs: jobs,
		totalByStatus: prometheus.NewDesc(
			fqName("by_status_total"),
			"Current number of jobs in each status.",
			[]string{statusLabel},
			prometheus.Labels{},
		),
	}
}

func (c *jobStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalByStatus
}

func (c *jobStatsCollector) Collect(ch chan<- prometheus.Metric) {
	counts, err := c.jobs.CountByStatus(context.Background())
	if err != nil {
		zap.S().Named("job_collector").Errorf("failed to collect job status counts: %s", err)
		return
	}
	for status, count := range counts {
		ch <- prometheus.MustNewConstMetric(c.totalByStatus, prometheus.GaugeValue, float64(count), string(status))
	}
}
