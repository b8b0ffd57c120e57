package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRecordedMetrics(t *testing.T) {
	m := New(DefaultConfig())
	m.ObserveBreakpointHit("main.glyph")
	m.ObserveSuspension("continue", 50*time.Millisecond)
	m.ObserveEvaluation("ok")
	m.SetActiveSessions(1)
	m.IncAsyncTasksSpawned()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "dbug_controller_breakpoint_hits_total")
	assert.Contains(t, body, "dbug_controller_active_sessions 1")
	assert.True(t, strings.Contains(body, "dbug_controller_evaluations_total"))
}

func TestDefaultConfigFillsMissingFields(t *testing.T) {
	m := New(Config{})
	assert.NotNil(t, m)
}
