package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.DelegationFinished("completed", time.Second)
	m.WorkflowFinished("failed")
	m.ProbeFailed("EmailBot")
	m.SetAgents(map[string]int{"online": 1})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCounters(t *testing.T) {
	m := New()
	m.DelegationFinished("completed", 10*time.Millisecond)
	m.DelegationFinished("completed", 10*time.Millisecond)
	m.DelegationFinished("failed", time.Millisecond)
	m.WorkflowFinished("completed")
	m.ProbeFailed("GrammarBot")
	m.SetAgents(map[string]int{"online": 3, "error": 1})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.delegations.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.delegations.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workflows.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.healthFailures.WithLabelValues("GrammarBot")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.agents.WithLabelValues("online")))

	m.SetAgents(map[string]int{"online": 2})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.agents.WithLabelValues("online")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.WorkflowFinished("completed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mesh_workflows_total{status="completed"} 1`)
}
