package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEvaluationsByKind(t *testing.T) {
	m := New()
	m.FrameEvaluated(KindGradient)
	m.FrameEvaluated(KindGradient)
	m.FrameEvaluated(KindHessian)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "dynrecon_frame_evaluations_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			counts[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{KindGradient: 2, KindHessian: 1}, counts)
}

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FrameEvaluated(KindObjective)
		m.ObserveEvaluation(KindObjective, time.Now())
		m.Fatal()
		m.ConfigFailure()
		m.StartIteration(3)
		m.SubsetDone()
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Iteration.Store(3)
	m.Fatal()
	m.ObserveEvaluation(KindObjective, time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "dynrecon_iteration 3"))
	assert.True(t, strings.Contains(body, "dynrecon_fatal_errors_total 1"))
	assert.True(t, strings.Contains(body, `dynrecon_evaluation_seconds_count{kind="objective"} 1`))
}

func TestIterationProgress(t *testing.T) {
	m := New()
	m.StartIteration(4)
	m.SubsetDone()
	m.SubsetDone()
	assert.EqualValues(t, 4, m.Iteration.Load())
	assert.EqualValues(t, 2, m.SubsetsComputed.Load())
}
