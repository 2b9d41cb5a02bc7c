package taql

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestBatchMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	expr := compileExpr(t, smaCall(closeRef(), 2))
	data, part := testDataset(t, 10, 20, 30)

	e := NewBatchEvaluator(testRegistry(t), nil, m)
	_, err := e.Evaluate(context.Background(), expr.Plan(), data, part)
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), expr.Plan(), data, part)
	require.NoError(t, err)

	require.Equal(t, 2.0, testutil.ToFloat64(m.BatchEvaluations))
	require.Equal(t, 2.0, testutil.ToFloat64(m.BatchNodeCacheHits))
	require.Equal(t, 2.0, testutil.ToFloat64(m.BatchNodeCacheMiss))

	// Both evaluations land in the duration histogram.
	families, err := reg.Gather()
	require.NoError(t, err)
	var samples uint64
	for _, mf := range families {
		if mf.GetName() == "taql_batch_evaluation_duration_seconds" {
			samples = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	require.Equal(t, uint64(2), samples)
}

func TestNilMetricsRecordsNothing(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.incBatchEvaluations()
		m.observeBatchDuration(0)
		m.incCacheHit()
		m.incCacheMiss()
		m.incSteps()
		m.incSnapshots()
		m.incRestores()
	})
}
