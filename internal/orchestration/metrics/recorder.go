package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Invocation outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeExitError = "exit_error"
	OutcomeSpawn     = "spawn_error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// Recorder exports Gemini task run metrics to Prometheus.
// All methods are safe on a nil Recorder.
type Recorder struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	active      prometheus.Gauge
	events      *prometheus.CounterVec
	malformed   prometheus.Counter
	tokens      *prometheus.CounterVec
	cost        prometheus.Counter
}

var (
	defaultRecorder     *Recorder
	defaultRecorderOnce sync.Once
)

// NewRecorder returns the Recorder registered on the default registry.
func NewRecorder() *Recorder {
	defaultRecorderOnce.Do(func() {
		defaultRecorder = newRecorder(prometheus.DefaultRegisterer)
	})
	return defaultRecorder
}

// NewRecorderWithRegisterer allows tests to provide a dedicated registry.
func NewRecorderWithRegisterer(reg prometheus.Registerer) *Recorder {
	return newRecorder(reg)
}

func newRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Recorder{
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gemini_mcp",
			Subsystem: "task",
			Name:      "invocations_total",
			Help:      "Gemini CLI invocations by outcome",
		}, []string{"outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gemini_mcp",
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Wall time of Gemini CLI invocations",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"outcome"}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gemini_mcp",
			Subsystem: "task",
			Name:      "active",
			Help:      "Gemini CLI processes currently running",
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gemini_mcp",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Decoded stream-json events by type",
		}, []string{"type"}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gemini_mcp",
			Subsystem: "stream",
			Name:      "malformed_lines_total",
			Help:      "Stream lines discarded because they failed to decode",
		}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gemini_mcp",
			Subsystem: "task",
			Name:      "tokens_total",
			Help:      "Tokens reported by Gemini result events",
		}, []string{"kind"}),
		cost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gemini_mcp",
			Subsystem: "task",
			Name:      "cost_usd_total",
			Help:      "Total cost in USD reported by Gemini result events",
		}),
	}
}

// InvocationStarted marks a process as running.
func (r *Recorder) InvocationStarted() {
	if r == nil {
		return
	}
	r.active.Inc()
}

// InvocationFinished records a settled invocation. started reports whether
// InvocationStarted was called for it.
func (r *Recorder) InvocationFinished(outcome string, d time.Duration, started bool) {
	if r == nil {
		return
	}
	if started {
		r.active.Dec()
	}
	r.invocations.WithLabelValues(outcome).Inc()
	r.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordEvent counts one decoded event.
func (r *Recorder) RecordEvent(eventType string) {
	if r == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	r.events.WithLabelValues(eventType).Inc()
}

// RecordMalformed adds n discarded lines.
func (r *Recorder) RecordMalformed(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.malformed.Add(float64(n))
}

// RecordUsage adds the token counts and cost of one run.
func (r *Recorder) RecordUsage(m TokenMetrics) {
	if r == nil {
		return
	}
	if m.InputTokens > 0 {
		r.tokens.WithLabelValues("input").Add(float64(m.InputTokens))
	}
	if m.OutputTokens > 0 {
		r.tokens.WithLabelValues("output").Add(float64(m.OutputTokens))
	}
	if m.TotalCostUSD != nil && *m.TotalCostUSD > 0 {
		r.cost.Add(*m.TotalCostUSD)
	}
}
