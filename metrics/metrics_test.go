package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestRecorderExposition(t *testing.T) {
	m := New()

	m.RecordLLMCall(200*time.Millisecond, false)
	m.RecordLLMCall(2*time.Second, true)
	m.RecordToolCall("service_call_tool", false)
	m.RecordToolCall("get_entities_by_domain_tool", true)
	m.RecordGuardRejection("action")
	m.RecordRun("tot", 3*time.Second)

	body := scrape(t, m)
	assert.Contains(t, body, `hearth_llm_calls_total{outcome="ok"} 1`)
	assert.Contains(t, body, `hearth_llm_calls_total{outcome="timeout"} 1`)
	assert.Contains(t, body, `hearth_tool_calls_total{status="ok",tool="service_call_tool"} 1`)
	assert.Contains(t, body, `hearth_tool_calls_total{status="error",tool="get_entities_by_domain_tool"} 1`)
	assert.Contains(t, body, `hearth_guard_rejections_total{intent="action"} 1`)
	assert.Contains(t, body, `hearth_runs_total{arch="tot"} 1`)
	assert.Contains(t, body, "hearth_run_duration_seconds")
}

func TestRegistryIsPrivate(t *testing.T) {
	// Two instances must not collide on registration.
	a := New()
	b := New()
	a.RecordRun("react", time.Second)

	assert.Contains(t, scrape(t, a), `hearth_runs_total{arch="react"} 1`)
	assert.NotContains(t, scrape(t, b), `arch="react"`)
}
