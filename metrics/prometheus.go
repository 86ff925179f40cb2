package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	turnsTotal           *prometheus.CounterVec
	guardViolationsTotal *prometheus.CounterVec
	validationEvents     *prometheus.CounterVec
	toolExecutions       *prometheus.CounterVec
	toolDuration         *prometheus.HistogramVec
	runsTotal            *prometheus.CounterVec
}

// NewPrometheusRecorder registers its collectors on reg. A nil reg uses the
// default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusRecorder{
		turnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyst_turns_total",
				Help: "Orchestrated turns by outcome",
			},
			[]string{"outcome"},
		),
		guardViolationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyst_guard_violations_total",
				Help: "Guard violations by code",
			},
			[]string{"code"},
		),
		validationEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyst_validation_events_total",
				Help: "Validation repairs and rejections by action type and reason",
			},
			[]string{"action_type", "reason"},
		),
		toolExecutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyst_tool_executions_total",
				Help: "Tool executions by response type and observation status",
			},
			[]string{"response_type", "status"},
		),
		toolDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "analyst_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"response_type"},
		),
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyst_runs_total",
				Help: "Finished runs by final state",
			},
			[]string{"state"},
		),
	}
}

func (p *PrometheusRecorder) ObserveTurn(outcome string) {
	p.turnsTotal.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveGuardViolation(code string) {
	p.guardViolationsTotal.WithLabelValues(code).Inc()
}

func (p *PrometheusRecorder) ObserveValidationEvent(actionType, reason string) {
	p.validationEvents.WithLabelValues(actionType, reason).Inc()
}

func (p *PrometheusRecorder) ObserveToolExecution(responseType, status string, duration time.Duration) {
	p.toolExecutions.WithLabelValues(responseType, status).Inc()
	p.toolDuration.WithLabelValues(responseType).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveRun(state string) {
	p.runsTotal.WithLabelValues(state).Inc()
}

var _ Recorder = (*PrometheusRecorder)(nil)
