// Package metrics exposes run counters and durations as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devicelab-dev/desktop-runner/pkg/core"
	"github.com/devicelab-dev/desktop-runner/pkg/flow"
)

const (
	namespace = "desktop_runner"

	labelPhase   = "phase"
	labelAction  = "action"
	labelStatus  = "status"
	labelKind    = "kind"
	labelEntry   = "entry"
	labelOutcome = "outcome"
)

// Recorder receives engine events. Implementations must be safe for
// concurrent use by several workers.
type Recorder interface {
	ObserveStep(phase flow.Phase, action flow.ActionKind, status core.StepStatus, d time.Duration)
	ObserveTest(status core.StepStatus, d time.Duration)
	ObserveResolution(kind flow.LocatorKind, entry int)
	ObserveRecovery(outcome string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) ObserveStep(flow.Phase, flow.ActionKind, core.StepStatus, time.Duration) {}
func (Nop) ObserveTest(core.StepStatus, time.Duration)                              {}
func (Nop) ObserveResolution(flow.LocatorKind, int)                                 {}
func (Nop) ObserveRecovery(string)                                                  {}

// Prometheus records events into Prometheus collectors.
type Prometheus struct {
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	tests        *prometheus.CounterVec
	testDuration *prometheus.HistogramVec
	resolutions  *prometheus.CounterVec
	recoveries   *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them on reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Executed steps by phase, action and status.",
		}, []string{labelPhase, labelAction, labelStatus}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{labelPhase, labelAction}),
		tests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tests_total",
			Help:      "Finished tests by status.",
		}, []string{labelStatus}),
		testDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "test_duration_seconds",
			Help:      "Test duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{labelStatus}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locator_resolutions_total",
			Help:      "Successful resolutions by locator kind and chain entry (0 is the primary).",
		}, []string{labelKind, labelEntry}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "app_recoveries_total",
			Help:      "Application recovery attempts by outcome.",
		}, []string{labelOutcome}),
	}

	for _, c := range []prometheus.Collector{p.steps, p.stepDuration, p.tests, p.testDuration, p.resolutions, p.recoveries} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ObserveStep counts a finished step.
func (p *Prometheus) ObserveStep(phase flow.Phase, action flow.ActionKind, status core.StepStatus, d time.Duration) {
	p.steps.WithLabelValues(string(phase), string(action), status.String()).Inc()
	if status != core.StatusSkipped {
		p.stepDuration.WithLabelValues(string(phase), string(action)).Observe(d.Seconds())
	}
}

// ObserveTest counts a finished test.
func (p *Prometheus) ObserveTest(status core.StepStatus, d time.Duration) {
	p.tests.WithLabelValues(status.String()).Inc()
	p.testDuration.WithLabelValues(status.String()).Observe(d.Seconds())
}

// ObserveResolution counts which chain entry resolved a target.
func (p *Prometheus) ObserveResolution(kind flow.LocatorKind, entry int) {
	p.resolutions.WithLabelValues(string(kind), strconv.Itoa(entry)).Inc()
}

// ObserveRecovery counts an application recovery attempt.
func (p *Prometheus) ObserveRecovery(outcome string) {
	p.recoveries.WithLabelValues(outcome).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}
