package taql

import (
	"github.com/laakhay/ta-go/pkg/taql/ir"
	"github.com/laakhay/ta-go/pkg/taql/registry"
)

// periodParamNames are the numeric parameters that must be positive when
// bound to a literal.
var periodParamNames = map[string]struct{}{
	"period":        {},
	"lookback":      {},
	"fast_period":   {},
	"slow_period":   {},
	"signal_period": {},
}

var aggregateOps = map[string]struct{}{
	"sum": {}, "avg": {}, "max": {}, "min": {}, "count": {},
}

var booleanOps = map[string]struct{}{
	ir.OpGt: {}, ir.OpGte: {}, ir.OpLt: {}, ir.OpLte: {},
	ir.OpEq: {}, ir.OpNeq: {}, ir.OpAnd: {}, ir.OpOr: {},
}

// Checker validates a normalized IR tree against the indicator registry.
// Errors anywhere in the tree surface immediately; there is no partial
// compilation.
type Checker struct {
	registry *registry.Registry
}

func NewChecker(reg *registry.Registry) *Checker {
	return &Checker{registry: reg}
}

// Check walks the whole tree and returns the first type error found.
func (c *Checker) Check(n ir.Node) error {
	switch e := n.(type) {
	case *ir.Literal, *ir.SourceRef:
		return nil

	case *ir.Call:
		if err := c.checkCall(e); err != nil {
			return err
		}

	case *ir.Filter:
		if err := checkFilterCondition(e); err != nil {
			return err
		}

	case *ir.Aggregate:
		if err := checkAggregate(e); err != nil {
			return err
		}

	case *ir.TimeShift:
		if e.Shift == "" {
			return newTypeCheckError("timeshift", "", ReasonInvalidOperation, "missing shift value")
		}
	}

	for _, child := range n.Children() {
		if err := c.Check(child); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) checkCall(call *ir.Call) error {
	ind, ok := c.registry.Get(call.Name)
	if !ok {
		return newTypeCheckError(call.Name, "", ReasonUnknownIndicator, "unknown indicator: %s", call.Name)
	}
	schema := ind.Schema
	params := schema.Params

	// The first positional argument may be the implicit primary input bound
	// outside the parameter list: it is skipped when it is an expression and
	// the first declared parameter (if any) is not series-typed.
	args := call.Args
	if len(args) > 0 {
		_, isLiteral := args[0].(*ir.Literal)
		firstIsSeries := len(params) > 0 && params[0].Kind == registry.ParamSeries
		if !isLiteral && !firstIsSeries {
			args = args[1:]
		}
	}

	if len(args) > len(params) {
		return newTypeCheckError(call.Name, "", ReasonTooManyArgs,
			"too many positional arguments: expected at most %d, got %d", len(params), len(args))
	}

	assigned := map[string]struct{}{}
	for i, arg := range args {
		param := params[i]
		if err := c.checkParamValue(call.Name, param, arg); err != nil {
			return err
		}
		assigned[param.Name] = struct{}{}
	}

	for _, kw := range call.Kwargs {
		param, ok := schema.Param(kw.Name)
		if !ok {
			return newTypeCheckError(call.Name, kw.Name, ReasonUnknownParam,
				"unknown keyword argument: %s", kw.Name)
		}
		if _, dup := assigned[kw.Name]; dup {
			return newTypeCheckError(call.Name, kw.Name, ReasonDuplicateParam,
				"parameter %q specified both positionally and as keyword", kw.Name)
		}
		if err := c.checkParamValue(call.Name, param, kw.Value); err != nil {
			return err
		}
		assigned[kw.Name] = struct{}{}
	}

	for _, param := range params {
		if !param.Required {
			continue
		}
		if _, ok := assigned[param.Name]; !ok {
			return newTypeCheckError(call.Name, param.Name, ReasonMissingParam,
				"missing required parameter: %s", param.Name)
		}
	}
	return nil
}

func (c *Checker) checkParamValue(indicator string, param registry.ParamSpec, arg ir.Node) error {
	lit, isLiteral := arg.(*ir.Literal)

	if param.Kind == registry.ParamSeries {
		if isLiteral {
			return newTypeCheckError(indicator, param.Name, ReasonExpectedSeries,
				"parameter %q expects a series expression, got a literal", param.Name)
		}
		return nil
	}

	if !isLiteral {
		return newTypeCheckError(indicator, param.Name, ReasonWrongLiteralType,
			"parameter %q expects a scalar %s, got %s", param.Name, param.Kind, arg.Kind())
	}

	v := lit.Value
	switch param.Kind {
	case registry.ParamInt:
		if v.Kind != ir.ValueNumber || v.Num != float64(int64(v.Num)) {
			return newTypeCheckError(indicator, param.Name, ReasonWrongLiteralType,
				"parameter %q expects int, got %s", param.Name, v.String())
		}
	case registry.ParamFloat:
		// Integer literals widen to float.
		if v.Kind != ir.ValueNumber {
			return newTypeCheckError(indicator, param.Name, ReasonWrongLiteralType,
				"parameter %q expects float, got %s", param.Name, v.String())
		}
	case registry.ParamString:
		if v.Kind != ir.ValueString {
			return newTypeCheckError(indicator, param.Name, ReasonWrongLiteralType,
				"parameter %q expects string, got %s", param.Name, v.String())
		}
	case registry.ParamBool:
		if v.Kind != ir.ValueBool {
			return newTypeCheckError(indicator, param.Name, ReasonWrongLiteralType,
				"parameter %q expects bool, got %s", param.Name, v.String())
		}
	}

	if _, periodLike := periodParamNames[param.Name]; periodLike && v.Kind == ir.ValueNumber && v.Num <= 0 {
		return newTypeCheckError(indicator, param.Name, ReasonNonPositivePeriod,
			"parameter %q must be positive, got %v", param.Name, v.Num)
	}
	return nil
}

// checkFilterCondition requires a boolean-shaped condition: a boolean
// literal, or a comparison/logical operator.
func checkFilterCondition(f *ir.Filter) error {
	switch cond := f.Condition.(type) {
	case *ir.Literal:
		if cond.Value.Kind != ir.ValueBool {
			return newTypeCheckError("filter", "", ReasonWrongLiteralType,
				"condition must be boolean, got literal %s", cond.Value.String())
		}
	case *ir.BinaryOp:
		if _, ok := booleanOps[cond.Op]; !ok {
			return newTypeCheckError("filter", "", ReasonInvalidOperation,
				"condition uses non-boolean operator %q", cond.Op)
		}
	}
	return nil
}

func checkAggregate(agg *ir.Aggregate) error {
	if agg.Operation == "" {
		return newTypeCheckError("aggregate", "", ReasonInvalidOperation, "missing operation")
	}
	if _, ok := aggregateOps[agg.Operation]; !ok {
		return newTypeCheckError("aggregate", "", ReasonInvalidOperation,
			"unknown operation: %s", agg.Operation)
	}
	if ref, ok := agg.Series.(*ir.SourceRef); ok {
		field := agg.Field
		if field == "" {
			field = ref.Field
		}
		if !ValidSourceField(ref.Source, field) {
			return newTypeCheckError("aggregate", "", ReasonInvalidField,
				"field %q is not valid for source %q", field, ref.Source)
		}
	}
	return nil
}
