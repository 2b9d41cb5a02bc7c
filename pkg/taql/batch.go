package taql

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/laakhay/ta-go/pkg/dataset"
	"github.com/laakhay/ta-go/pkg/series"
	"github.com/laakhay/ta-go/pkg/taql/ir"
	"github.com/laakhay/ta-go/pkg/taql/registry"
)

// batchCacheKey identifies one node result. Graph hash plus node id pins the
// structure; alignment policy, symbol and timeframe pin the evaluation
// context. Datasets are treated as immutable once handed to the evaluator.
type batchCacheKey struct {
	graph     uint64
	node      NodeID
	align     string
	symbol    string
	timeframe string
}

// BatchEvaluator executes compiled plans over historical datasets. Node
// results are cached across evaluations, so re-running a plan or running a
// plan sharing sub-expressions with a previous one skips the shared work.
//
// The evaluator is safe for concurrent use.
type BatchEvaluator struct {
	registry *registry.Registry
	logger   log.Logger
	metrics  *Metrics

	mu    sync.Mutex
	cache map[batchCacheKey]series.Series

	hits   atomic.Int64
	misses atomic.Int64
}

func NewBatchEvaluator(reg *registry.Registry, logger log.Logger, metrics *Metrics) *BatchEvaluator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BatchEvaluator{
		registry: reg,
		logger:   logger,
		metrics:  metrics,
		cache:    map[batchCacheKey]series.Series{},
	}
}

// CacheStats reports lifetime node cache hits and misses.
func (e *BatchEvaluator) CacheStats() (hits, misses int64) {
	return e.hits.Load(), e.misses.Load()
}

// ClearCache drops all memoized node results. Required after mutating a
// dataset the evaluator has already seen.
func (e *BatchEvaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = map[batchCacheKey]series.Series{}
}

type batchRun struct {
	plan    *PlanResult
	data    dataset.Dataset
	part    dataset.Partition
	results map[NodeID]series.Series
}

// Evaluate runs the plan against one (symbol, timeframe) partition and
// returns the root series.
func (e *BatchEvaluator) Evaluate(ctx context.Context, plan *PlanResult, data dataset.Dataset, part dataset.Partition) (series.Series, error) {
	start := time.Now()
	e.metrics.incBatchEvaluations()

	run := &batchRun{
		plan:    plan,
		data:    data,
		part:    part,
		results: make(map[NodeID]series.Series, len(plan.NodeOrder)),
	}

	for _, id := range plan.NodeOrder {
		if err := ctx.Err(); err != nil {
			return series.Series{}, err
		}
		key := batchCacheKey{
			graph:     plan.Graph.Hash,
			node:      id,
			align:     plan.Alignment.CacheKey(),
			symbol:    part.Symbol,
			timeframe: part.Timeframe,
		}
		if cached, ok := e.lookup(key); ok {
			e.hits.Inc()
			e.metrics.incCacheHit()
			run.results[id] = cached
			continue
		}
		out, err := e.evalNode(run, id)
		if err != nil {
			return series.Series{}, err
		}
		e.misses.Inc()
		e.metrics.incCacheMiss()
		e.store(key, out)
		run.results[id] = out
	}

	elapsed := time.Since(start)
	e.metrics.observeBatchDuration(elapsed)
	level.Debug(e.logger).Log(
		"msg", "batch evaluation complete",
		"symbol", part.Symbol,
		"timeframe", part.Timeframe,
		"nodes", len(plan.NodeOrder),
		"duration", elapsed,
	)
	return run.results[plan.Graph.RootID], nil
}

// EvaluateAll fans the plan out over every (symbol, timeframe) pair the
// dataset exposes for the default source, one goroutine per partition.
func (e *BatchEvaluator) EvaluateAll(ctx context.Context, plan *PlanResult, data dataset.Dataset) (map[dataset.Partition]series.Series, error) {
	var parts []dataset.Partition
	seen := map[dataset.Partition]struct{}{}
	for _, p := range data.Partitions() {
		key := dataset.Partition{Symbol: p.Symbol, Timeframe: p.Timeframe}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		parts = append(parts, key)
	}

	var mu sync.Mutex
	out := make(map[dataset.Partition]series.Series, len(parts))
	g, ctx := errgroup.WithContext(ctx)
	for _, part := range parts {
		part := part
		g.Go(func() error {
			result, err := e.Evaluate(ctx, plan, data, part)
			if err != nil {
				return err
			}
			mu.Lock()
			out[part] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *BatchEvaluator) lookup(key batchCacheKey) (series.Series, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.cache[key]
	return s, ok
}

func (e *BatchEvaluator) store(key batchCacheKey, s series.Series) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[key] = s
}

func (e *BatchEvaluator) evalNode(run *batchRun, id NodeID) (series.Series, error) {
	gn := run.plan.Graph.Nodes[id]
	switch n := gn.Node.(type) {
	case *ir.Literal:
		return literalSeries(id, n.Value)

	case *ir.SourceRef:
		return e.sourceField(run, id, n, n.Field)

	case *ir.Call:
		return e.evalCall(run, id, gn, n)

	case *ir.BinaryOp:
		left := run.results[gn.Children[0]]
		right := run.results[gn.Children[1]]
		return e.evalBinary(run, id, n.Op, left, right)

	case *ir.UnaryOp:
		return evalUnary(id, n.Op, run.results[gn.Children[0]])

	case *ir.Filter:
		return e.evalFilter(run, id, gn)

	case *ir.Aggregate:
		return e.evalAggregate(run, id, gn, n)

	case *ir.TimeShift:
		return evalTimeShift(id, n, run.results[gn.Children[0]])

	case *ir.Index:
		return evalIndex(id, n.Index, run.results[gn.Children[0]])

	case *ir.MemberAccess:
		return series.Series{}, newEvaluationError(id, "unresolved member access %q", n.Member)
	}
	return series.Series{}, newEvaluationError(id, "unsupported node kind %q", gn.Node.Kind())
}

func literalSeries(id NodeID, v ir.Value) (series.Series, error) {
	switch v.Kind {
	case ir.ValueNumber:
		return series.Scalar(v.Num), nil
	case ir.ValueBool:
		return series.ScalarBool(v.Bool), nil
	case ir.ValueSeries:
		if v.Series == nil {
			return series.Series{}, newEvaluationError(id, "nil series literal")
		}
		return *v.Series, nil
	}
	return series.Series{}, newEvaluationError(id, "string literal %q has no series form", v.Str)
}

// sourceField resolves one raw field, defaulting the partition coordinates
// from the evaluation request. hlc3, hl2 and ohlc4 derive from the base
// fields on the fly.
func (e *BatchEvaluator) sourceField(run *batchRun, id NodeID, ref *ir.SourceRef, field string) (series.Series, error) {
	part := dataset.Partition{
		Symbol:    ref.Symbol,
		Timeframe: ref.Timeframe,
		Source:    ref.Source,
	}
	if part.Symbol == "" {
		part.Symbol = run.part.Symbol
	}
	if part.Timeframe == "" {
		part.Timeframe = run.part.Timeframe
	}
	if part.Source == "" {
		part.Source = DefaultSource
	}
	fields, ok := run.data.Fields(part)
	if !ok {
		return series.Series{}, newEvaluationError(id, "no data for %s/%s/%s", part.Source, part.Symbol, part.Timeframe)
	}

	if field == "" {
		field = "close"
	}
	if s, ok := fields[field]; ok {
		return s, nil
	}
	if derived, ok, err := deriveField(field, fields); ok || err != nil {
		if err != nil {
			return series.Series{}, newEvaluationError(id, "%s", err.Error())
		}
		return derived, nil
	}
	return series.Series{}, newEvaluationError(id, "field %q not available for %s/%s/%s", field, part.Source, part.Symbol, part.Timeframe)
}

func deriveField(field string, fields map[string]series.Series) (series.Series, bool, error) {
	avg := func(parts ...series.Series) (series.Series, error) {
		out := parts[0].Map(func(v float64) float64 { return v })
		for _, p := range parts[1:] {
			var err error
			out, err = series.Zip(out, p, func(a, b float64) float64 { return a + b })
			if err != nil {
				return series.Series{}, err
			}
		}
		n := float64(len(parts))
		return out.Map(func(v float64) float64 { return v / n }), nil
	}

	need := func(names ...string) ([]series.Series, bool) {
		out := make([]series.Series, len(names))
		for i, name := range names {
			s, ok := fields[name]
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}

	switch field {
	case "hlc3":
		if parts, ok := need("high", "low", "close"); ok {
			s, err := avg(parts...)
			return s, true, err
		}
	case "hl2":
		if parts, ok := need("high", "low"); ok {
			s, err := avg(parts...)
			return s, true, err
		}
	case "ohlc4":
		if parts, ok := need("open", "high", "low", "close"); ok {
			s, err := avg(parts...)
			return s, true, err
		}
	}
	return series.Series{}, false, nil
}

// evalCall pairs the node's graph children back up with the call's
// expression arguments (same Args-then-Kwargs order the builder used) and
// dispatches to the indicator's batch kernel.
func (e *BatchEvaluator) evalCall(run *batchRun, id NodeID, gn *GraphNode, call *ir.Call) (series.Series, error) {
	ind, ok := e.registry.Get(call.Name)
	if !ok {
		return series.Series{}, newEvaluationError(id, "indicator %q not found", call.Name)
	}
	if ind.Batch == nil {
		return series.Series{}, newEvaluationError(id, "indicator %q has no batch kernel", call.Name)
	}
	params, err := mapCallParams(call, ind.Schema)
	if err != nil {
		return series.Series{}, err
	}

	inputs := make([]series.Series, len(gn.Children))
	for i, child := range gn.Children {
		inputs[i] = run.results[child]
	}

	fields := map[string]series.Series{}
	if len(ind.Schema.Semantics.RequiredFields) > 0 && len(inputs) == 0 {
		part := dataset.Partition{Symbol: run.part.Symbol, Timeframe: run.part.Timeframe, Source: DefaultSource}
		raw, ok := run.data.Fields(part)
		if !ok {
			return series.Series{}, newEvaluationError(id, "no data for %s/%s/%s", part.Source, part.Symbol, part.Timeframe)
		}
		for _, name := range ind.Schema.Semantics.RequiredFields {
			s, ok := raw[name]
			if !ok {
				return series.Series{}, newEvaluationError(id, "indicator %q requires field %q", call.Name, name)
			}
			fields[name] = s
		}
	}

	out, err := ind.Batch.Compute(registry.ComputeInput{
		Fields: fields,
		Inputs: inputs,
		Params: params,
		Output: call.Output,
	})
	if err != nil {
		return series.Series{}, newEvaluationError(id, "indicator %q: %s", call.Name, err.Error())
	}
	return out, nil
}

// combine aligns or broadcasts a pair of operands into equal-length series.
func (e *BatchEvaluator) combine(run *batchRun, id NodeID, left, right series.Series) (series.Series, series.Series, error) {
	switch {
	case left.IsScalar() && right.IsScalar():
		return left, right, nil
	case left.IsScalar():
		b, err := series.Broadcast(left, right)
		if err != nil {
			return series.Series{}, series.Series{}, newEvaluationError(id, "%s", err.Error())
		}
		return b, right, nil
	case right.IsScalar():
		b, err := series.Broadcast(right, left)
		if err != nil {
			return series.Series{}, series.Series{}, newEvaluationError(id, "%s", err.Error())
		}
		return left, b, nil
	}

	if left.Symbol != right.Symbol || left.Timeframe != right.Timeframe {
		return series.Series{}, series.Series{}, newEvaluationError(id,
			"cannot combine series %s/%s with %s/%s", left.Symbol, left.Timeframe, right.Symbol, right.Timeframe)
	}
	l, r, err := series.Align(left, right, run.plan.Alignment)
	if err != nil {
		return series.Series{}, series.Series{}, newEvaluationError(id, "%s", err.Error())
	}
	return l, r, nil
}

func (e *BatchEvaluator) evalBinary(run *batchRun, id NodeID, op string, left, right series.Series) (series.Series, error) {
	l, r, err := e.combine(run, id, left, right)
	if err != nil {
		return series.Series{}, err
	}
	out, err := series.Zip(l, r, binaryFn(op))
	if err != nil {
		return series.Series{}, newEvaluationError(id, "%s", err.Error())
	}
	return out, nil
}

// binaryFn returns the elementwise form of one operator. Logical operators
// coerce through Truthy, so missing values are falsy; every other operator
// propagates missing, and division or modulo by zero yields missing.
func binaryFn(op string) func(l, r float64) float64 {
	switch op {
	case ir.OpAnd:
		return func(l, r float64) float64 { return bool01(series.Truthy(l) && series.Truthy(r)) }
	case ir.OpOr:
		return func(l, r float64) float64 { return bool01(series.Truthy(l) || series.Truthy(r)) }
	}

	var fn func(l, r float64) float64
	switch op {
	case ir.OpAdd:
		fn = func(l, r float64) float64 { return l + r }
	case ir.OpSub:
		fn = func(l, r float64) float64 { return l - r }
	case ir.OpMul:
		fn = func(l, r float64) float64 { return l * r }
	case ir.OpDiv:
		fn = func(l, r float64) float64 {
			if r == 0 {
				return series.Missing
			}
			return l / r
		}
	case ir.OpMod:
		fn = func(l, r float64) float64 {
			if r == 0 {
				return series.Missing
			}
			return math.Mod(l, r)
		}
	case ir.OpPow:
		fn = math.Pow
	case ir.OpGt:
		fn = func(l, r float64) float64 { return bool01(l > r) }
	case ir.OpGte:
		fn = func(l, r float64) float64 { return bool01(l >= r) }
	case ir.OpLt:
		fn = func(l, r float64) float64 { return bool01(l < r) }
	case ir.OpLte:
		fn = func(l, r float64) float64 { return bool01(l <= r) }
	case ir.OpEq:
		fn = func(l, r float64) float64 { return bool01(l == r) }
	case ir.OpNeq:
		fn = func(l, r float64) float64 { return bool01(l != r) }
	default:
		fn = func(l, r float64) float64 { return series.Missing }
	}
	return func(l, r float64) float64 {
		if series.IsMissing(l) || series.IsMissing(r) {
			return series.Missing
		}
		return fn(l, r)
	}
}

func bool01(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func evalUnary(id NodeID, op string, in series.Series) (series.Series, error) {
	switch op {
	case ir.OpNeg:
		return in.Map(func(v float64) float64 { return -v }), nil
	case ir.OpPos:
		return in, nil
	case ir.OpNot:
		return in.Map(func(v float64) float64 { return bool01(!series.Truthy(v)) }), nil
	}
	return series.Series{}, newEvaluationError(id, "unknown unary operator %q", op)
}

// evalFilter masks the input: positions where the condition is not truthy
// become missing, timestamps stay.
func (e *BatchEvaluator) evalFilter(run *batchRun, id NodeID, gn *GraphNode) (series.Series, error) {
	input := run.results[gn.Children[0]]
	cond := run.results[gn.Children[1]]
	in, mask, err := e.combine(run, id, input, cond)
	if err != nil {
		return series.Series{}, err
	}
	out, err := series.Zip(in, mask, func(v, m float64) float64 {
		if series.Truthy(m) {
			return v
		}
		return series.Missing
	})
	if err != nil {
		return series.Series{}, newEvaluationError(id, "%s", err.Error())
	}
	return out, nil
}

// evalAggregate reduces a whole series to one scalar. Missing values are
// skipped; count counts the present ones.
func (e *BatchEvaluator) evalAggregate(run *batchRun, id NodeID, gn *GraphNode, agg *ir.Aggregate) (series.Series, error) {
	input := run.results[gn.Children[0]]

	// An explicit field over a bare source ref selects that field instead of
	// the source default.
	if agg.Field != "" {
		if ref, ok := agg.Series.(*ir.SourceRef); ok && ref.Field == "" {
			var err error
			input, err = e.sourceField(run, id, ref, agg.Field)
			if err != nil {
				return series.Series{}, err
			}
		}
	}

	var (
		sum   float64
		count int
		mx    = math.Inf(-1)
		mn    = math.Inf(1)
	)
	for _, v := range input.Values {
		if series.IsMissing(v) {
			continue
		}
		sum += v
		count++
		if v > mx {
			mx = v
		}
		if v < mn {
			mn = v
		}
	}

	var out float64
	switch agg.Operation {
	case "sum":
		out = sum
	case "count":
		out = float64(count)
	case "avg":
		if count == 0 {
			out = series.Missing
		} else {
			out = sum / float64(count)
		}
	case "max":
		if count == 0 {
			out = series.Missing
		} else {
			out = mx
		}
	case "min":
		if count == 0 {
			out = series.Missing
		} else {
			out = mn
		}
	default:
		return series.Series{}, newEvaluationError(id, "unknown aggregate operation %q", agg.Operation)
	}
	return series.Scalar(out), nil
}

// evalTimeShift lags (or leads, for negative shifts) the series by a bar
// count; vacated positions are missing.
func evalTimeShift(id NodeID, ts *ir.TimeShift, in series.Series) (series.Series, error) {
	shift, err := strconv.Atoi(ts.Shift)
	if err != nil {
		return series.Series{}, newEvaluationError(id, "invalid shift %q: expected bar count", ts.Shift)
	}
	if ts.Operation == "lead" {
		shift = -shift
	}

	values := make([]float64, in.Len())
	for i := range values {
		j := i - shift
		if j < 0 || j >= in.Len() {
			values[i] = series.Missing
		} else {
			values[i] = in.Values[j]
		}
	}
	return series.Series{Timestamps: in.Timestamps, Values: values, Symbol: in.Symbol, Timeframe: in.Timeframe}, nil
}

// evalIndex picks one sample by position; negative indexes count from the
// end.
func evalIndex(id NodeID, idx int, in series.Series) (series.Series, error) {
	n := in.Len()
	if idx < 0 {
		idx += n
	}
	if idx < 0 || idx >= n {
		return series.Series{}, newEvaluationError(id, "index %d out of range for series of length %d", idx, n)
	}
	return series.Scalar(in.Values[idx]), nil
}
