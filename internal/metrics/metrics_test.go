package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Twice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestHandler_ExposesHubMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	PipelineRuns.WithLabelValues("metrics-test", "succeeded").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(PipelineRuns.WithLabelValues("metrics-test", "succeeded")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `xyzhub_pipeline_runs_total{outcome="succeeded",pipeline="metrics-test"} 1`)
}
