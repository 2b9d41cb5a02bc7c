package taql

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/laakhay/ta-go/pkg/taql/ir"
	"github.com/laakhay/ta-go/pkg/taql/registry"
)

// Expression is a compiled, immutable expression: the normalized tree plus
// its plan. Safe to share across goroutines and evaluations.
type Expression struct {
	Root ir.Node
	plan *PlanResult
}

// Plan returns the compiled execution plan.
func (x *Expression) Plan() *PlanResult { return x.plan }

// Requirements lists the raw data the expression needs.
func (x *Expression) Requirements() []DataRequirement { return x.plan.Requirements }

// Hash is the structural identity of the expression graph.
func (x *Expression) Hash() uint64 { return x.plan.Graph.Hash }

// Compiler runs the full pipeline: normalize, type check, plan. Compilation
// is fail-fast; the first error anywhere in the tree aborts it.
type Compiler struct {
	registry *registry.Registry
	policies *PolicyStack
	logger   log.Logger
}

func NewCompiler(reg *registry.Registry, policies *PolicyStack, logger log.Logger) *Compiler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if policies == nil {
		policies = NewPolicyStack(defaultAlignment())
	}
	return &Compiler{registry: reg, policies: policies, logger: logger}
}

// Policies exposes the alignment policy stack; overrides pushed around a
// Compile call are captured into that compilation's plan.
func (c *Compiler) Policies() *PolicyStack { return c.policies }

// Compile turns raw IR into an executable Expression.
func (c *Compiler) Compile(root ir.Node) (*Expression, error) {
	norm := Normalize(root)
	if err := NewChecker(c.registry).Check(norm); err != nil {
		return nil, err
	}
	plan, err := NewPlanner(c.registry, c.policies).Plan(norm)
	if err != nil {
		return nil, err
	}
	level.Debug(c.logger).Log(
		"msg", "expression compiled",
		"nodes", len(plan.Graph.Nodes),
		"requirements", len(plan.Requirements),
		"graph_hash", plan.Graph.Hash,
	)
	return &Expression{Root: norm, plan: plan}, nil
}
