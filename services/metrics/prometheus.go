// Package metricsvc records provisioning metrics with prometheus.
package metricsvc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trezcool/presence/core/account"
)

const namespace = "presence"

type PrometheusRecorder struct {
	steps      *prometheus.HistogramVec
	stepErrors *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

var _ account.Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers its collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	rec := &PrometheusRecorder{
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "step_duration_seconds",
			Help:      "Duration of each external call of the provisioning workflow.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		stepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "step_errors_total",
			Help:      "Failed external calls of the provisioning workflow.",
		}, []string{"step"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "attempts_total",
			Help:      "Provisioning attempts by role and outcome.",
		}, []string{"role", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of provisioning attempts.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"role"}),
	}

	for _, c := range []prometheus.Collector{rec.steps, rec.stepErrors, rec.attempts, rec.durations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (rec *PrometheusRecorder) ObserveStep(step account.Step, elapsed time.Duration, err error) {
	rec.steps.WithLabelValues(string(step)).Observe(elapsed.Seconds())
	if err != nil {
		rec.stepErrors.WithLabelValues(string(step)).Inc()
	}
}

func (rec *PrometheusRecorder) ObserveOutcome(role account.Role, kind account.Kind, elapsed time.Duration) {
	outcome := string(kind)
	if outcome == "" {
		outcome = "success"
	}
	rec.attempts.WithLabelValues(string(role), outcome).Inc()
	rec.durations.WithLabelValues(string(role)).Observe(elapsed.Seconds())
}
