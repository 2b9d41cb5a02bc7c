package taql

import (
	"context"
	"flag"

	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"github.com/laakhay/ta-go/pkg/dataset"
	"github.com/laakhay/ta-go/pkg/series"
	"github.com/laakhay/ta-go/pkg/taql/ir"
	"github.com/laakhay/ta-go/pkg/taql/registry"
)

// EngineOpts configures an Engine. The zero value is not usable; start from
// DefaultEngineOpts.
type EngineOpts struct {
	Alignment series.Policy `yaml:"alignment"`
	Step      StepOptions   `yaml:"step"`
}

func DefaultEngineOpts() EngineOpts {
	return EngineOpts{
		Alignment: series.DefaultPolicy(),
		Step:      DefaultStepOptions(),
	}
}

// RegisterFlags registers engine options on a flag set.
func (o *EngineOpts) RegisterFlags(f *flag.FlagSet) {
	f.StringVar((*string)(&o.Alignment.How), "taql.align-how", string(series.HowInner),
		"Alignment join mode for mixed-timestamp operands (inner, outer).")
	f.StringVar((*string)(&o.Alignment.Fill), "taql.align-fill", string(series.FillNone),
		"Gap fill mode for outer alignment (none, ffill).")
	f.StringVar((*string)(&o.Step.MissingInput), "taql.step-missing-input", string(MissingInputEmitMissing),
		"Incremental behavior on a missing tick field (emit_missing, hold_previous, fail).")
	f.StringVar((*string)(&o.Step.OnError), "taql.step-on-error", string(ErrorPolicyRaise),
		"Incremental behavior on a kernel error (raise, emit_error, emit_missing).")
}

func defaultAlignment() series.Policy { return series.DefaultPolicy() }

// Engine bundles the compiler and both execution backends behind one
// surface. One engine serves many expressions and datasets.
type Engine struct {
	opts     EngineOpts
	registry *registry.Registry
	logger   log.Logger
	metrics  *Metrics

	compiler *Compiler
	batch    *BatchEvaluator
}

func New(opts EngineOpts, reg *registry.Registry, logger log.Logger, metrics *Metrics) (*Engine, error) {
	if reg == nil {
		return nil, errors.New("engine requires an indicator registry")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	policies := NewPolicyStack(opts.Alignment)
	return &Engine{
		opts:     opts,
		registry: reg,
		logger:   logger,
		metrics:  metrics,
		compiler: NewCompiler(reg, policies, logger),
		batch:    NewBatchEvaluator(reg, logger, metrics),
	}, nil
}

// Compile runs the full pipeline on raw IR.
func (e *Engine) Compile(root ir.Node) (*Expression, error) {
	return e.compiler.Compile(root)
}

// Policies exposes the alignment override stack.
func (e *Engine) Policies() *PolicyStack { return e.compiler.Policies() }

// Evaluate runs a compiled expression over one partition of historical data.
func (e *Engine) Evaluate(ctx context.Context, expr *Expression, data dataset.Dataset, part dataset.Partition) (series.Series, error) {
	return e.batch.Evaluate(ctx, expr.Plan(), data, part)
}

// EvaluateAll runs a compiled expression over every partition concurrently.
func (e *Engine) EvaluateAll(ctx context.Context, expr *Expression, data dataset.Dataset) (map[dataset.Partition]series.Series, error) {
	return e.batch.EvaluateAll(ctx, expr.Plan(), data)
}

// NewSession opens an incremental session for an expression with fresh
// state.
func (e *Engine) NewSession(expr *Expression) (*IncrementalEvaluator, error) {
	inc := NewIncrementalEvaluator(e.registry, e.logger, e.metrics, e.opts.Step)
	if err := inc.Initialize(expr.Plan()); err != nil {
		return nil, err
	}
	return inc, nil
}

// ClearCache drops the batch backend's memoized node results.
func (e *Engine) ClearCache() {
	e.batch.ClearCache()
}

// Manifest describes the engine's indicator catalog.
func (e *Engine) Manifest() Manifest {
	return BuildManifest(e.registry)
}
