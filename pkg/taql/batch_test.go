package taql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/laakhay/ta-go/pkg/dataset"
	"github.com/laakhay/ta-go/pkg/series"
	"github.com/laakhay/ta-go/pkg/taql/ir"
)

func evalBatch(t *testing.T, root ir.Node, closes ...float64) series.Series {
	t.Helper()
	expr := compileExpr(t, root)
	data, part := testDataset(t, closes...)
	e := NewBatchEvaluator(testRegistry(t), nil, nil)
	out, err := e.Evaluate(context.Background(), expr.Plan(), data, part)
	require.NoError(t, err)
	return out
}

func TestBatchSMA(t *testing.T) {
	out := evalBatch(t, smaCall(closeRef(), 2), 102, 106, 110)
	require.Equal(t, 3, out.Len())
	require.True(t, series.IsMissing(out.Values[0]))
	require.Equal(t, 104.0, out.Values[1])
	require.Equal(t, 108.0, out.Values[2])
}

func TestBatchScalarBroadcast(t *testing.T) {
	root := &ir.BinaryOp{Op: ir.OpMul, Left: closeRef(), Right: num(2)}
	out := evalBatch(t, root, 10, 20, 30)
	require.Equal(t, []float64{20, 40, 60}, out.Values)
	require.Equal(t, testSymbol, out.Symbol)
}

func TestBatchDivisionByZeroIsMissing(t *testing.T) {
	root := &ir.BinaryOp{Op: ir.OpDiv, Left: closeRef(), Right: &ir.SourceRef{Field: "open"}}
	data, part := testDataset(t, 10, 20)
	// Zero out the open field so division hits it.
	ts := []int64{60_000, 120_000}
	zeros, err := series.New(ts, []float64{0, 5}, part.Symbol, part.Timeframe)
	require.NoError(t, err)
	require.NoError(t, data.Add(part, "open", zeros))

	e := NewBatchEvaluator(testRegistry(t), nil, nil)
	out, err := e.Evaluate(context.Background(), compileExpr(t, root).Plan(), data, part)
	require.NoError(t, err)
	require.True(t, series.IsMissing(out.Values[0]))
	require.Equal(t, 4.0, out.Values[1])
}

func TestBatchComparisonAndLogic(t *testing.T) {
	// close > 15 and close < 35
	root := &ir.BinaryOp{
		Op:    ir.OpAnd,
		Left:  &ir.BinaryOp{Op: ir.OpGt, Left: closeRef(), Right: num(15)},
		Right: &ir.BinaryOp{Op: ir.OpLt, Left: closeRef(), Right: num(35)},
	}
	out := evalBatch(t, root, 10, 20, 30, 40)
	require.Equal(t, []float64{0, 1, 1, 0}, out.Values)
}

func TestBatchFilterMasksToMissing(t *testing.T) {
	root := &ir.Filter{
		Series:    closeRef(),
		Condition: &ir.BinaryOp{Op: ir.OpGt, Left: closeRef(), Right: num(15)},
	}
	out := evalBatch(t, root, 10, 20, 30)
	require.True(t, series.IsMissing(out.Values[0]))
	require.Equal(t, 20.0, out.Values[1])
	require.Equal(t, 30.0, out.Values[2])
	// Timestamps are preserved, not compacted.
	require.Equal(t, 3, out.Len())
}

func TestBatchAggregate(t *testing.T) {
	for name, tc := range map[string]struct {
		op   string
		want float64
	}{
		"sum":   {op: "sum", want: 60},
		"avg":   {op: "avg", want: 20},
		"max":   {op: "max", want: 30},
		"min":   {op: "min", want: 10},
		"count": {op: "count", want: 3},
	} {
		t.Run(name, func(t *testing.T) {
			out := evalBatch(t, &ir.Aggregate{Series: closeRef(), Operation: tc.op}, 10, 20, 30)
			require.True(t, out.IsScalar())
			require.Equal(t, tc.want, out.Values[0])
		})
	}
}

func TestBatchAggregateSkipsMissing(t *testing.T) {
	// Filter knocks out the first value; count sees only the survivors.
	root := &ir.Aggregate{
		Series: &ir.Filter{
			Series:    closeRef(),
			Condition: &ir.BinaryOp{Op: ir.OpGt, Left: closeRef(), Right: num(15)},
		},
		Operation: "count",
	}
	out := evalBatch(t, root, 10, 20, 30)
	require.Equal(t, 2.0, out.Values[0])
}

func TestBatchTimeShift(t *testing.T) {
	root := &ir.TimeShift{Series: closeRef(), Shift: "1"}
	out := evalBatch(t, root, 10, 20, 30)
	require.True(t, series.IsMissing(out.Values[0]))
	require.Equal(t, 10.0, out.Values[1])
	require.Equal(t, 20.0, out.Values[2])
}

func TestBatchIndex(t *testing.T) {
	out := evalBatch(t, &ir.Index{Target: closeRef(), Index: -1}, 10, 20, 30)
	require.True(t, out.IsScalar())
	require.Equal(t, 30.0, out.Values[0])

	out = evalBatch(t, &ir.Index{Target: closeRef(), Index: 0}, 10, 20, 30)
	require.Equal(t, 10.0, out.Values[0])
}

func TestBatchDerivedFields(t *testing.T) {
	out := evalBatch(t, &ir.SourceRef{Field: "hlc3"}, 30)
	// high=31, low=29, close=30.
	require.InDelta(t, 30.0, out.Values[0], 1e-9)

	out = evalBatch(t, &ir.SourceRef{Field: "hl2"}, 30)
	require.InDelta(t, 30.0, out.Values[0], 1e-9)
}

func TestBatchUnknownPartition(t *testing.T) {
	expr := compileExpr(t, closeRef())
	data, _ := testDataset(t, 10)
	e := NewBatchEvaluator(testRegistry(t), nil, nil)
	_, err := e.Evaluate(context.Background(), expr.Plan(), data, dataset.Partition{Symbol: "DOGE-USD", Timeframe: "1m"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEvaluation)
}

func TestBatchSymbolMismatchFails(t *testing.T) {
	root := &ir.BinaryOp{
		Op:    ir.OpSub,
		Left:  &ir.SourceRef{Field: "close", Symbol: "ETH-USD"},
		Right: closeRef(),
	}
	expr := compileExpr(t, root)
	data, part := testDataset(t, 10, 20)

	eth := dataset.Partition{Symbol: "ETH-USD", Timeframe: "1m", Source: DefaultSource}
	s, err := series.New([]int64{60_000, 120_000}, []float64{1, 2}, eth.Symbol, eth.Timeframe)
	require.NoError(t, err)
	require.NoError(t, data.Add(eth, "close", s))

	e := NewBatchEvaluator(testRegistry(t), nil, nil)
	_, err = e.Evaluate(context.Background(), expr.Plan(), data, part)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEvaluation)
}

func TestBatchResultCache(t *testing.T) {
	expr := compileExpr(t, smaCall(closeRef(), 2))
	data, part := testDataset(t, 10, 20, 30)
	e := NewBatchEvaluator(testRegistry(t), nil, nil)

	_, err := e.Evaluate(context.Background(), expr.Plan(), data, part)
	require.NoError(t, err)
	hits, misses := e.CacheStats()
	require.Equal(t, int64(0), hits)
	require.Equal(t, int64(2), misses)

	_, err = e.Evaluate(context.Background(), expr.Plan(), data, part)
	require.NoError(t, err)
	hits, _ = e.CacheStats()
	require.Equal(t, int64(2), hits)
}

func TestBatchClearCache(t *testing.T) {
	expr := compileExpr(t, closeRef())
	data, part := testDataset(t, 10)
	e := NewBatchEvaluator(testRegistry(t), nil, nil)

	_, err := e.Evaluate(context.Background(), expr.Plan(), data, part)
	require.NoError(t, err)
	e.ClearCache()
	_, err = e.Evaluate(context.Background(), expr.Plan(), data, part)
	require.NoError(t, err)
	hits, misses := e.CacheStats()
	require.Equal(t, int64(0), hits)
	require.Equal(t, int64(2), misses)
}

func TestBatchCacheIsolatesPartitions(t *testing.T) {
	expr := compileExpr(t, closeRef())
	data, part := testDataset(t, 10)

	eth := dataset.Partition{Symbol: "ETH-USD", Timeframe: "1m", Source: DefaultSource}
	s, err := series.New([]int64{60_000}, []float64{99}, eth.Symbol, eth.Timeframe)
	require.NoError(t, err)
	require.NoError(t, data.Add(eth, "close", s))

	e := NewBatchEvaluator(testRegistry(t), nil, nil)
	btc, err := e.Evaluate(context.Background(), expr.Plan(), data, part)
	require.NoError(t, err)
	out, err := e.Evaluate(context.Background(), expr.Plan(), data, dataset.Partition{Symbol: "ETH-USD", Timeframe: "1m"})
	require.NoError(t, err)
	require.Equal(t, 10.0, btc.Values[0])
	require.Equal(t, 99.0, out.Values[0])
}

func TestBatchCacheIsolatesAlignmentSeeds(t *testing.T) {
	// The open series starts one bar after the close series, so the outer
	// join's first position takes the right-side seed.
	part := dataset.Partition{Symbol: testSymbol, Timeframe: "1m", Source: DefaultSource}
	data := dataset.NewInMemory()
	closes, err := series.New([]int64{60_000, 120_000}, []float64{1, 2}, part.Symbol, part.Timeframe)
	require.NoError(t, err)
	require.NoError(t, data.Add(part, "close", closes))
	opens, err := series.New([]int64{120_000}, []float64{10}, part.Symbol, part.Timeframe)
	require.NoError(t, err)
	require.NoError(t, data.Add(part, "open", opens))

	e := NewBatchEvaluator(testRegistry(t), nil, nil)
	evalWithSeed := func(seed float64) series.Series {
		policy := series.Policy{How: series.HowOuter, Fill: series.FillNone, RightFillValue: &seed}
		c := NewCompiler(testRegistry(t), NewPolicyStack(policy), nil)
		expr, err := c.Compile(&ir.BinaryOp{Op: ir.OpAdd, Left: closeRef(), Right: &ir.SourceRef{Field: "open"}})
		require.NoError(t, err)
		out, err := e.Evaluate(context.Background(), expr.Plan(), data, part)
		require.NoError(t, err)
		return out
	}

	require.Equal(t, 101.0, evalWithSeed(100).Values[0])
	require.Equal(t, 501.0, evalWithSeed(500).Values[0])
}

func TestBatchEvaluateAll(t *testing.T) {
	expr := compileExpr(t, &ir.BinaryOp{Op: ir.OpMul, Left: closeRef(), Right: num(2)})
	data, _ := testDataset(t, 10, 20)

	eth := dataset.Partition{Symbol: "ETH-USD", Timeframe: "1m", Source: DefaultSource}
	s, err := series.New([]int64{60_000}, []float64{5}, eth.Symbol, eth.Timeframe)
	require.NoError(t, err)
	require.NoError(t, data.Add(eth, "close", s))

	e := NewBatchEvaluator(testRegistry(t), nil, nil)
	results, err := e.EvaluateAll(context.Background(), expr.Plan(), data)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, []float64{20, 40}, results[dataset.Partition{Symbol: testSymbol, Timeframe: "1m"}].Values)
	require.Equal(t, []float64{10}, results[dataset.Partition{Symbol: "ETH-USD", Timeframe: "1m"}].Values)
}

func TestBatchCanceledContext(t *testing.T) {
	expr := compileExpr(t, closeRef())
	data, part := testDataset(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewBatchEvaluator(testRegistry(t), nil, nil)
	_, err := e.Evaluate(ctx, expr.Plan(), data, part)
	require.ErrorIs(t, err, context.Canceled)
}
