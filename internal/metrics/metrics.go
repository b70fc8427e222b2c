// Package metrics exports gateway, queue and scheduler telemetry in the
// Prometheus format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"you-hoard/internal/jobs"
	"you-hoard/internal/scheduler"
	"you-hoard/internal/ytdlp"
)

const namespace = "you_hoard"

// Metrics implements the observer interfaces of the gateway, the job
// processor and the scheduler.
type Metrics struct {
	gatewayCalls   *prometheus.CounterVec
	gatewayBackoff prometheus.Histogram
	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobsInProgress *prometheus.GaugeVec
	permitsInUse   prometheus.Gauge
	firings        *prometheus.CounterVec
}

var (
	_ ytdlp.Observer     = (*Metrics)(nil)
	_ jobs.Observer      = (*Metrics)(nil)
	_ scheduler.Observer = (*Metrics)(nil)
)

// New registers every collector on reg. It panics on duplicate
// registration, like prometheus.MustRegister.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Extraction gateway attempts by operation and outcome.",
		}, []string{"op", "outcome"}),
		gatewayBackoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "backoff_seconds",
			Help:      "Backoff delays applied after failed extraction attempts.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 300, 600},
		}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs reaching a terminal state by type and status.",
		}, []string{"type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time from job start to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		}, []string{"type"}),
		jobsInProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "in_progress",
			Help:      "Jobs currently processing by type.",
		}, []string{"type"}),
		permitsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "download_permits_in_use",
			Help:      "Download permits held by running downloads.",
		}),
		firings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "firings_total",
			Help:      "Scheduler firings by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.gatewayCalls,
		m.gatewayBackoff,
		m.jobsTotal,
		m.jobDuration,
		m.jobsInProgress,
		m.permitsInUse,
		m.firings,
	)
	return m
}

func (m *Metrics) ObserveGatewayCall(op, outcome string) {
	m.gatewayCalls.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ObserveGatewayBackoff(d time.Duration) {
	m.gatewayBackoff.Observe(d.Seconds())
}

func (m *Metrics) JobStarted(jobType string) {
	m.jobsInProgress.WithLabelValues(jobType).Inc()
}

func (m *Metrics) JobFinished(jobType, status string, d time.Duration) {
	m.jobsInProgress.WithLabelValues(jobType).Dec()
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

func (m *Metrics) DownloadPermits(inUse int) {
	m.permitsInUse.Set(float64(inUse))
}

func (m *Metrics) SchedulerFiring(outcome string) {
	m.firings.WithLabelValues(outcome).Inc()
}
