package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	t.Run("should count recorded events", func(t *testing.T) {
		m := NewMetrics(prometheus.NewRegistry())

		m.LoopTransition("EXECUTING")
		m.LoopTransition("EXECUTING")
		m.StateStoreFailure("save")
		m.ToolCall("goto", "ok")
		m.Invocation("http", "success", 2*time.Second)

		assert.Equal(t, 2.0, testutil.ToFloat64(m.loopTransitions.WithLabelValues("EXECUTING")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.stateStoreFailures.WithLabelValues("save")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("goto", "ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.invocations.WithLabelValues("http", "success")))
	})

	t.Run("should tolerate a nil receiver", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.LoopTransition("STARTING")
			m.GenerationFailure()
			m.BrowserbaseRequest("create", "201")
			m.Invocation("slack", "timeout", time.Second)
		})
	})
}
