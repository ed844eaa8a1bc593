package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "browser_operator"

// Metrics holds the Prometheus collectors shared by the operator components.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	loopTransitions     *prometheus.CounterVec
	invocations         *prometheus.CounterVec
	invocationDuration  *prometheus.HistogramVec
	generationFailures  prometheus.Counter
	stateStoreFailures  *prometheus.CounterVec
	browserbaseRequests *prometheus.CounterVec
	toolCalls           *prometheus.CounterVec
}

// NewMetrics registers the operator collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		loopTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_transitions_total",
			Help:      "Agent loop state transitions by target state.",
		}, []string{"state"}),
		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Loop invocations by transport and outcome.",
		}, []string{"transport", "outcome"}),
		invocationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Wall-clock duration of loop invocations.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"transport"}),
		generationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Action generations that were converted into error messages.",
		}),
		stateStoreFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_store_failures_total",
			Help:      "Swallowed state store failures by operation.",
		}, []string{"op"}),
		browserbaseRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browserbase_requests_total",
			Help:      "Browserbase API requests by operation and status code.",
		}, []string{"op", "code"}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool and function calls dispatched against the browser.",
		}, []string{"name", "result"}),
	}
}

func (m *Metrics) LoopTransition(state string) {
	if m == nil {
		return
	}
	m.loopTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) Invocation(transport, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(transport, outcome).Inc()
	m.invocationDuration.WithLabelValues(transport).Observe(elapsed.Seconds())
}

func (m *Metrics) GenerationFailure() {
	if m == nil {
		return
	}
	m.generationFailures.Inc()
}

func (m *Metrics) StateStoreFailure(op string) {
	if m == nil {
		return
	}
	m.stateStoreFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) BrowserbaseRequest(op, code string) {
	if m == nil {
		return
	}
	m.browserbaseRequests.WithLabelValues(op, code).Inc()
}

func (m *Metrics) ToolCall(name, result string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(name, result).Inc()
}
