package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	r := NewRecorder()
	r.Observe("exp-1", "default", OutcomeOK, 20*time.Millisecond, 12.5, 40)
	r.Observe("exp-2", "default", OutcomeInfeasible, time.Millisecond, 0, 0)
	r.Observe("exp-3", "single", OutcomeOK, time.Millisecond, 3, 9)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("default", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("default", OutcomeInfeasible)))
	assert.Equal(t, 12.5, testutil.ToFloat64(r.brown.WithLabelValues("exp-1")))
	assert.Equal(t, 40.0, testutil.ToFloat64(r.makespan.WithLabelValues("exp-1")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.brown), "failed runs set no gauges")
	assert.Equal(t, 2, testutil.CollectAndCount(r.duration))
}

func TestHandler(t *testing.T) {
	r := NewRecorder()
	r.Observe("exp-1", "lpt", OutcomeOK, time.Millisecond, 1, 2)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `greensched_runs_total{outcome="ok",strategy="lpt"} 1`), body)
	assert.True(t, strings.Contains(body, "greensched_schedule_duration_seconds_bucket"))
}
