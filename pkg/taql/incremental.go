package taql

import (
	"math"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/laakhay/ta-go/pkg/series"
	"github.com/laakhay/ta-go/pkg/taql/ir"
	"github.com/laakhay/ta-go/pkg/taql/registry"
)

// Availability classifies one step's output.
type Availability string

const (
	AvailabilityReady        Availability = "READY"
	AvailabilityWarmingUp    Availability = "WARMING_UP"
	AvailabilityMissingInput Availability = "MISSING_INPUT"
	AvailabilityError        Availability = "ERROR"
)

// MissingInputPolicy decides what a step emits when a required tick field is
// absent.
type MissingInputPolicy string

const (
	MissingInputEmitMissing  MissingInputPolicy = "emit_missing"
	MissingInputHoldPrevious MissingInputPolicy = "hold_previous"
	MissingInputFail         MissingInputPolicy = "fail"
)

// ErrorPolicy decides what a step emits when a kernel fails.
type ErrorPolicy string

const (
	ErrorPolicyRaise       ErrorPolicy = "raise"
	ErrorPolicyEmitError   ErrorPolicy = "emit_error"
	ErrorPolicyEmitMissing ErrorPolicy = "emit_missing"
)

// StepOptions configures the incremental backend's degraded-input behavior.
type StepOptions struct {
	MissingInput MissingInputPolicy `yaml:"missing_input"`
	OnError      ErrorPolicy        `yaml:"on_error"`
}

func DefaultStepOptions() StepOptions {
	return StepOptions{MissingInput: MissingInputEmitMissing, OnError: ErrorPolicyRaise}
}

// Tick is one incoming data event. Index is the event's position in the
// upstream log; replay uses it for idempotence. A negative index means
// unindexed.
type Tick struct {
	Timestamp int64
	Index     int64
	Fields    map[string]float64
}

// StepResult is the root output of one tick.
type StepResult struct {
	Value        float64
	Availability Availability
	Err          error
}

type nodeValue struct {
	value float64
	avail Availability
}

// IncrementalEvaluator advances a compiled plan one tick at a time, holding
// per-node state between ticks. It mirrors the batch backend's numeric
// semantics exactly: the same operator functions run over single values
// instead of whole series.
//
// Not safe for concurrent use.
type IncrementalEvaluator struct {
	registry *registry.Registry
	logger   log.Logger
	metrics  *Metrics
	opts     StepOptions

	plan  *PlanResult
	store *StateStore
}

func NewIncrementalEvaluator(reg *registry.Registry, logger log.Logger, metrics *Metrics, opts StepOptions) *IncrementalEvaluator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &IncrementalEvaluator{
		registry: reg,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
		store:    NewStateStore(),
	}
}

// Initialize binds the evaluator to a plan, validates that every node kind
// has an incremental form, and builds fresh kernel states. Any previous
// session state is discarded.
func (e *IncrementalEvaluator) Initialize(plan *PlanResult) error {
	store := NewStateStore()
	for _, id := range plan.NodeOrder {
		gn := plan.Graph.Nodes[id]
		switch n := gn.Node.(type) {
		case *ir.Literal:
			if n.Value.Kind == ir.ValueSeries {
				return newPlanningError("series literals are not supported incrementally")
			}

		case *ir.Call:
			ind, ok := e.registry.Get(n.Name)
			if !ok {
				return newPlanningError("indicator %q not found", n.Name)
			}
			if ind.Step == nil {
				return newPlanningError("indicator %q has no step kernel", n.Name)
			}
			params, err := mapCallParams(n, ind.Schema)
			if err != nil {
				return err
			}
			st, err := ind.Step.NewState(params)
			if err != nil {
				return newPlanningError("indicator %q: %s", n.Name, err.Error())
			}
			store.get(id).Algorithm = st

		case *ir.Aggregate:
			store.get(id).Algorithm = newAggState()

		case *ir.TimeShift:
			shift, err := strconv.Atoi(n.Shift)
			if err != nil {
				return newPlanningError("invalid shift %q: expected bar count", n.Shift)
			}
			if n.Operation == "lead" || shift < 0 {
				return newPlanningError("lead shifts are not supported incrementally")
			}

		case *ir.Index:
			return newPlanningError("index expressions are not supported incrementally")

		case *ir.MemberAccess:
			return newPlanningError("unresolved member access %q", n.Member)
		}
	}
	e.plan = plan
	e.store = store
	return nil
}

// InitializeWithHistory binds the plan and warms the session up by stepping
// through historical ticks.
func (e *IncrementalEvaluator) InitializeWithHistory(plan *PlanResult, history []Tick) error {
	if err := e.Initialize(plan); err != nil {
		return err
	}
	_, _, err := e.Replay(history)
	return err
}

// Step applies one tick and returns the root result. Ticks arriving with an
// index at or below the replay cursor were already applied and are reported
// as-is without touching state.
func (e *IncrementalEvaluator) Step(tick Tick) (StepResult, error) {
	if e.plan == nil {
		return StepResult{}, errors.New("incremental evaluator not initialized")
	}
	if tick.Index >= 0 && tick.Index <= e.store.lastEventIndex {
		return StepResult{Value: series.Missing, Availability: AvailabilityMissingInput}, nil
	}

	e.metrics.incSteps()
	values := make(map[NodeID]nodeValue, len(e.plan.NodeOrder))
	var kernelErr error

	for _, id := range e.plan.NodeOrder {
		nv, err := e.stepNode(id, tick, values)
		if err != nil {
			if e.opts.OnError == ErrorPolicyRaise {
				return StepResult{}, err
			}
			kernelErr = err
			nv = nodeValue{value: series.Missing, avail: AvailabilityError}
		}
		values[id] = nv
	}

	if tick.Index >= 0 {
		e.store.lastEventIndex = tick.Index
	} else {
		e.store.lastEventIndex++
	}

	root := values[e.plan.Graph.RootID]
	rootState := e.store.get(e.plan.Graph.RootID)
	result := StepResult{Value: root.value, Availability: root.avail}

	switch root.avail {
	case AvailabilityReady:
		rootState.LastValue = root.value
		rootState.HasLast = true
		rootState.IsValid = true

	case AvailabilityMissingInput:
		switch e.opts.MissingInput {
		case MissingInputHoldPrevious:
			if rootState.HasLast {
				result.Value = rootState.LastValue
				result.Availability = AvailabilityReady
			} else {
				result.Value = series.Missing
			}
		case MissingInputFail:
			return StepResult{}, errors.Wrapf(ErrMissingInput, "tick at %d", tick.Timestamp)
		default:
			result.Value = series.Missing
		}

	case AvailabilityError:
		switch e.opts.OnError {
		case ErrorPolicyEmitError:
			result.Err = kernelErr
		case ErrorPolicyEmitMissing:
			// The error is fully suppressed: the result reads like any
			// other missing input.
			result.Availability = AvailabilityMissingInput
		}
		result.Value = series.Missing
	}
	return result, nil
}

// Replay feeds a batch of indexed ticks, skipping those already applied per
// the store's event cursor, and returns the last result plus how many ticks
// actually ran.
func (e *IncrementalEvaluator) Replay(ticks []Tick) (StepResult, int, error) {
	var (
		last    StepResult
		applied int
	)
	for _, tick := range ticks {
		if tick.Index >= 0 && tick.Index <= e.store.lastEventIndex {
			continue
		}
		result, err := e.Step(tick)
		if err != nil {
			return StepResult{}, applied, err
		}
		last = result
		applied++
	}
	level.Debug(e.logger).Log("msg", "replay complete", "offered", len(ticks), "applied", applied,
		"last_event_index", e.store.lastEventIndex)
	return last, applied, nil
}

// Snapshot deep-copies the session state.
func (e *IncrementalEvaluator) Snapshot() *StateSnapshot {
	e.metrics.incSnapshots()
	return e.store.Snapshot()
}

// Restore replaces session state with a snapshot's copy; a foreign schema
// version is rejected and state is left untouched.
func (e *IncrementalEvaluator) Restore(snap *StateSnapshot) error {
	if err := e.store.Restore(snap); err != nil {
		return err
	}
	e.metrics.incRestores()
	return nil
}

// LastEventIndex exposes the replay cursor.
func (e *IncrementalEvaluator) LastEventIndex() int64 { return e.store.LastEventIndex() }

func (e *IncrementalEvaluator) stepNode(id NodeID, tick Tick, values map[NodeID]nodeValue) (nodeValue, error) {
	gn := e.plan.Graph.Nodes[id]
	switch n := gn.Node.(type) {
	case *ir.Literal:
		switch n.Value.Kind {
		case ir.ValueNumber:
			return nodeValue{value: n.Value.Num, avail: AvailabilityReady}, nil
		case ir.ValueBool:
			return nodeValue{value: bool01(n.Value.Bool), avail: AvailabilityReady}, nil
		}
		return nodeValue{}, newEvaluationError(id, "literal %s has no numeric form", n.Value.String())

	case *ir.SourceRef:
		return tickField(tick, n.Field), nil

	case *ir.Call:
		return e.stepCall(id, gn, n, tick, values)

	case *ir.BinaryOp:
		l, r := values[gn.Children[0]], values[gn.Children[1]]
		return nodeValue{
			value: binaryFn(n.Op)(l.value, r.value),
			avail: worstAvail(l.avail, r.avail),
		}, nil

	case *ir.UnaryOp:
		child := values[gn.Children[0]]
		out := nodeValue{avail: child.avail}
		switch n.Op {
		case ir.OpNeg:
			out.value = -child.value
		case ir.OpPos:
			out.value = child.value
		case ir.OpNot:
			out.value = bool01(!series.Truthy(child.value))
		default:
			return nodeValue{}, newEvaluationError(id, "unknown unary operator %q", n.Op)
		}
		return out, nil

	case *ir.Filter:
		in, cond := values[gn.Children[0]], values[gn.Children[1]]
		out := nodeValue{value: series.Missing, avail: worstAvail(in.avail, cond.avail)}
		if series.Truthy(cond.value) {
			out.value = in.value
		}
		return out, nil

	case *ir.Aggregate:
		return e.stepAggregate(id, gn, n, tick, values)

	case *ir.TimeShift:
		return e.stepTimeShift(id, gn, n, values)
	}
	return nodeValue{}, newEvaluationError(id, "unsupported node kind %q", gn.Node.Kind())
}

// tickField reads a raw field off the tick, deriving the composite price
// fields the same way the batch backend does.
func tickField(tick Tick, field string) nodeValue {
	if field == "" {
		field = "close"
	}
	if v, ok := tick.Fields[field]; ok {
		return nodeValue{value: v, avail: AvailabilityReady}
	}

	avg := func(names ...string) (float64, bool) {
		var sum float64
		for _, name := range names {
			v, ok := tick.Fields[name]
			if !ok {
				return 0, false
			}
			sum += v
		}
		return sum / float64(len(names)), true
	}

	var (
		v  float64
		ok bool
	)
	switch field {
	case "hlc3":
		v, ok = avg("high", "low", "close")
	case "hl2":
		v, ok = avg("high", "low")
	case "ohlc4":
		v, ok = avg("open", "high", "low", "close")
	}
	if ok {
		return nodeValue{value: v, avail: AvailabilityReady}
	}
	return nodeValue{value: series.Missing, avail: AvailabilityMissingInput}
}

func (e *IncrementalEvaluator) stepCall(id NodeID, gn *GraphNode, call *ir.Call, tick Tick, values map[NodeID]nodeValue) (nodeValue, error) {
	ind, _ := e.registry.Get(call.Name)
	ks := e.store.get(id)

	var primary nodeValue
	if len(gn.Children) > 0 {
		primary = values[gn.Children[0]]
	} else {
		fields := ind.Schema.Semantics.RequiredFields
		name := "close"
		if len(fields) > 0 {
			name = fields[0]
		}
		primary = tickField(tick, name)
	}
	if primary.avail == AvailabilityMissingInput || primary.avail == AvailabilityError {
		return nodeValue{value: series.Missing, avail: primary.avail}, nil
	}

	ks.TicksProcessed++
	out, err := ind.Step.Step(ks.Algorithm, registry.StepInput{Primary: primary.value, Fields: tick.Fields})
	if err != nil {
		return nodeValue{}, newEvaluationError(id, "indicator %q: %s", call.Name, err.Error())
	}
	// A missing output means the kernel's window still spans an upstream
	// warmup; treat it as not ready yet.
	if !out.Ready || primary.avail == AvailabilityWarmingUp || series.IsMissing(out.Value) {
		return nodeValue{value: series.Missing, avail: AvailabilityWarmingUp}, nil
	}
	ks.LastValue = out.Value
	ks.HasLast = true
	ks.IsValid = true
	return nodeValue{value: out.Value, avail: AvailabilityReady}, nil
}

func (e *IncrementalEvaluator) stepAggregate(id NodeID, gn *GraphNode, agg *ir.Aggregate, tick Tick, values map[NodeID]nodeValue) (nodeValue, error) {
	input := values[gn.Children[0]]
	if agg.Field != "" {
		if ref, ok := agg.Series.(*ir.SourceRef); ok && ref.Field == "" {
			input = tickField(tick, agg.Field)
		}
	}

	ks := e.store.get(id)
	st := ks.Algorithm.(*aggState)
	if input.avail == AvailabilityReady && !series.IsMissing(input.value) {
		st.observe(input.value)
	}

	v, ok := st.result(agg.Operation)
	if !ok {
		return nodeValue{}, newEvaluationError(id, "unknown aggregate operation %q", agg.Operation)
	}
	avail := AvailabilityReady
	if st.Count == 0 {
		avail = AvailabilityWarmingUp
	}
	return nodeValue{value: v, avail: avail}, nil
}

// stepTimeShift buffers the child's outputs and emits the value from shift
// bars ago.
func (e *IncrementalEvaluator) stepTimeShift(id NodeID, gn *GraphNode, ts *ir.TimeShift, values map[NodeID]nodeValue) (nodeValue, error) {
	shift, err := strconv.Atoi(ts.Shift)
	if err != nil {
		return nodeValue{}, newEvaluationError(id, "invalid shift %q", ts.Shift)
	}
	child := values[gn.Children[0]]

	ks := e.store.get(id)
	limit := shift + 1
	if lb := e.plan.Lookbacks[id]; lb > limit {
		limit = lb
	}
	ks.pushHistory(child.value, limit)

	pos := len(ks.History) - 1 - shift
	if pos < 0 {
		return nodeValue{value: series.Missing, avail: AvailabilityWarmingUp}, nil
	}
	v := ks.History[pos]
	avail := child.avail
	if avail == AvailabilityReady && series.IsMissing(v) {
		avail = AvailabilityWarmingUp
	}
	return nodeValue{value: v, avail: avail}, nil
}

// worstAvail picks the most degraded of two availabilities.
func worstAvail(a, b Availability) Availability {
	rank := func(a Availability) int {
		switch a {
		case AvailabilityError:
			return 3
		case AvailabilityMissingInput:
			return 2
		case AvailabilityWarmingUp:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// aggState is the running state behind incremental aggregate nodes.
type aggState struct {
	Sum   float64
	Count int64
	Max   float64
	Min   float64
}

func newAggState() *aggState {
	return &aggState{Max: math.Inf(-1), Min: math.Inf(1)}
}

func (s *aggState) Clone() registry.State {
	cp := *s
	return &cp
}

func (s *aggState) observe(v float64) {
	s.Sum += v
	s.Count++
	if v > s.Max {
		s.Max = v
	}
	if v < s.Min {
		s.Min = v
	}
}

func (s *aggState) result(op string) (float64, bool) {
	switch op {
	case "sum":
		return s.Sum, true
	case "count":
		return float64(s.Count), true
	case "avg":
		if s.Count == 0 {
			return series.Missing, true
		}
		return s.Sum / float64(s.Count), true
	case "max":
		if s.Count == 0 {
			return series.Missing, true
		}
		return s.Max, true
	case "min":
		if s.Count == 0 {
			return series.Missing, true
		}
		return s.Min, true
	}
	return 0, false
}
