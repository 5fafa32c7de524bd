// Package metrics records run-level counters and histograms and delivers
// them to a Prometheus Pushgateway at the end of a run. tally is a batch
// process, so pushing replaces the usual scrape endpoint.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/tigerroll/tally/internal/domain/model"
	"github.com/tigerroll/tally/internal/support/util/exception"
	"github.com/tigerroll/tally/internal/support/util/logger"
)

const moduleName = "metrics"

// pushJobName groups tally runs on the gateway.
const pushJobName = "tally"

// Recorder aggregates run metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	rowsCounted    prometheus.Counter
	bytesCounted   prometheus.Counter
	fetchedRecords prometheus.Counter
	runDuration    prometheus.Gauge
}

// NewRecorder creates a recorder with a fresh registry, including the
// standard Go and process collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "jobs_total",
			Help:      "Audit jobs finished, by status and period type.",
		}, []string{"status", "period_type"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tally",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of one audit job.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"period_type"}),
		rowsCounted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "rows_counted_total",
			Help:      "Rows counted across all successful and partial jobs.",
		}),
		bytesCounted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "bytes_counted_total",
			Help:      "Bytes observed across all successful and partial jobs.",
		}),
		fetchedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "completions_fetched_total",
			Help:      "Completion records fetched from the upstream log after dedup.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tally",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of the whole run.",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.jobsTotal,
		r.jobDuration,
		r.rowsCounted,
		r.bytesCounted,
		r.fetchedRecords,
		r.runDuration,
	)
	return r
}

// Gatherer exposes the run's registry for tests and debug dumps.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordJobEnd accounts one finished job.
func (r *Recorder) RecordJobEnd(job model.AuditJob, report model.CountReport) {
	r.jobsTotal.WithLabelValues(string(report.Status), string(job.Period.Type)).Inc()
	r.jobDuration.WithLabelValues(string(job.Period.Type)).Observe(float64(report.DurationMs) / 1000.0)
	if report.RowCount > 0 {
		r.rowsCounted.Add(float64(report.RowCount))
	}
	if report.TotalSizeBytes > 0 {
		r.bytesCounted.Add(float64(report.TotalSizeBytes))
	}
}

// RecordFetch accounts the deduplicated completion count.
func (r *Recorder) RecordFetch(records int) {
	r.fetchedRecords.Add(float64(records))
}

// RecordRun sets the total run duration.
func (r *Recorder) RecordRun(d time.Duration) {
	r.runDuration.Set(d.Seconds())
}

// Push delivers the registry to the Pushgateway, grouped by run ID so
// concurrent deployments do not clobber each other. An empty URL is a no-op.
func (r *Recorder) Push(ctx context.Context, gatewayURL, runID string) error {
	const op = "Recorder.Push"
	if gatewayURL == "" {
		return nil
	}
	err := push.New(gatewayURL, pushJobName).
		Gatherer(r.registry).
		Grouping("run_id", runID).
		PushContext(ctx)
	if err != nil {
		return exception.NewAuditErrorf(moduleName, "%s: push to '%s' failed", op, gatewayURL, true, err)
	}
	logger.Debugf("%s: metrics pushed to %s (run_id=%s)", op, gatewayURL, runID)
	return nil
}
