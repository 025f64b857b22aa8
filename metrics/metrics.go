// Package metrics defines the Prometheus instrumentation for the
// pipeline and its supporting services.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the service exports
type Metrics struct {
	GateDuration    *prometheus.HistogramVec
	PipelineResults *prometheus.CounterVec
	Regenerations   prometheus.Counter
	LimiterVerdicts *prometheus.CounterVec
	JobRuns         *prometheus.CounterVec
	CircuitChanges  *prometheus.CounterVec
	SparkDecisions  *prometheus.CounterVec
}

// New creates the collectors and registers them on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use their own
// registry so collectors never collide.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wardline",
			Name:      "gate_duration_seconds",
			Help:      "Execution time of each pipeline gate.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}, []string{"gate", "status"}),
		PipelineResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wardline",
			Name:      "pipeline_results_total",
			Help:      "Completed pipeline runs by result kind.",
		}, []string{"kind"}),
		Regenerations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wardline",
			Name:      "regenerations_total",
			Help:      "Drafts rejected by the personality check and regenerated.",
		}),
		LimiterVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wardline",
			Name:      "ratelimit_verdicts_total",
			Help:      "Rate limiter decisions by tier and verdict.",
		}, []string{"tier", "verdict"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wardline",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		CircuitChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wardline",
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"name", "to"}),
		SparkDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wardline",
			Name:      "spark_decisions_total",
			Help:      "Spark gate outcomes by close reason; open gates use 'open'.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.GateDuration,
		m.PipelineResults,
		m.Regenerations,
		m.LimiterVerdicts,
		m.JobRuns,
		m.CircuitChanges,
		m.SparkDecisions,
	)
	return m
}

// ObserveGate records one gate execution
func (m *Metrics) ObserveGate(gate, status string, elapsed time.Duration) {
	m.GateDuration.WithLabelValues(gate, status).Observe(elapsed.Seconds())
}

// ObserveResult records a completed pipeline run
func (m *Metrics) ObserveResult(kind string, regenerations int) {
	m.PipelineResults.WithLabelValues(kind).Inc()
	for i := 0; i < regenerations; i++ {
		m.Regenerations.Inc()
	}
}

// ObserveLimiter records one rate limit decision
func (m *Metrics) ObserveLimiter(tier string, allowed bool) {
	verdict := "denied"
	if allowed {
		verdict = "allowed"
	}
	m.LimiterVerdicts.WithLabelValues(tier, verdict).Inc()
}

// ObserveJob records one scheduled job run
func (m *Metrics) ObserveJob(job string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.JobRuns.WithLabelValues(job, outcome).Inc()
}

// ObserveCircuit records a breaker transition
func (m *Metrics) ObserveCircuit(name, to string) {
	m.CircuitChanges.WithLabelValues(name, to).Inc()
}

// ObserveSpark records a spark gate outcome
func (m *Metrics) ObserveSpark(reason string) {
	if reason == "" {
		reason = "open"
	}
	m.SparkDecisions.WithLabelValues(reason).Inc()
}
