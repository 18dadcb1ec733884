// Package metrics holds the pipeline counters. The CLI is short-lived, so
// instead of serving /metrics it can dump the default registry to a
// node_exporter textfile after each command.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jobpipe"

var (
	postingsDiscovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "postings_total",
			Help:      "Total number of postings returned by discovery sources",
		},
		[]string{"source"},
	)
	sourceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "source_failures_total",
			Help:      "Total number of failed discovery source calls",
		},
		[]string{"source"},
	)
	postingsFiltered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedupe",
			Name:      "dropped_total",
			Help:      "Total number of postings dropped by deduplication steps",
		},
		[]string{"step"},
	)
	postingsScored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "postings_total",
			Help:      "Total number of postings scored",
		},
	)
	draftFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drafts",
			Name:      "failures_total",
			Help:      "Total number of failed draft generations",
		},
		[]string{"generator"},
	)
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "review",
			Name:      "decisions_total",
			Help:      "Total number of review decisions",
		},
		[]string{"kind"},
	)
	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "attempts_total",
			Help:      "Total number of execution attempts by outcome",
		},
		[]string{"action", "outcome"},
	)
	followUps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "followups",
			Name:      "scheduled_total",
			Help:      "Total number of follow-ups scheduled after outreach",
		},
	)
	responses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "responses",
			Name:      "recorded_total",
			Help:      "Total number of company responses recorded by kind",
		},
		[]string{"kind"},
	)
	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of daily pipeline runs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
	lastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last finished pipeline run",
		},
	)
)

var registerMetrics sync.Once

func init() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(
			postingsDiscovered, sourceFailures, postingsFiltered, postingsScored,
			draftFailures, decisions, executions, followUps, responses, runDuration, lastRun,
		)
	})
}

func Discovered(source string, n int) {
	postingsDiscovered.WithLabelValues(source).Add(float64(n))
}

func SourceFailed(source string) {
	sourceFailures.WithLabelValues(source).Inc()
}

func Filtered(step string, dropped int) {
	postingsFiltered.WithLabelValues(step).Add(float64(dropped))
}

func Scored() {
	postingsScored.Inc()
}

func DraftFailed(generator string) {
	draftFailures.WithLabelValues(generator).Inc()
}

func Decision(kind string) {
	decisions.WithLabelValues(kind).Inc()
}

func Execution(action, outcome string) {
	executions.WithLabelValues(action, outcome).Inc()
}

func FollowUpsScheduled(n int) {
	followUps.Add(float64(n))
}

func Response(kind string) {
	responses.WithLabelValues(kind).Inc()
}

// RunFinished records a pipeline run that started at start.
func RunFinished(start, end time.Time) {
	runDuration.Observe(end.Sub(start).Seconds())
	lastRun.Set(float64(end.Unix()))
}

// WriteTextfile dumps the default registry to path. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
